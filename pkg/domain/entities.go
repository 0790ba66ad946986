// Package domain defines the observation value model, the persisted entities
// and the collaborator contracts shared by every storage backend.
package domain

import (
	"fmt"
	"time"
)

// Feature is the feature of interest an observation is about.
type Feature struct {
	ID         int64     `json:"id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name,omitempty"`
	Geometry   *Geometry `json:"geometry,omitempty"`
}

// Procedure is the sensor or process producing observations.
type Procedure struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name,omitempty"`
}

// Phenomenon is an observed property.
type Phenomenon struct {
	ID          int64  `json:"id"`
	Identifier  string `json:"identifier"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// Offering groups datasets for publication.
type Offering struct {
	ID         int64  `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name,omitempty"`
}

// Unit is a unit of measure.
type Unit struct {
	ID     int64  `json:"id"`
	Symbol string `json:"symbol"`
}

// Codespace scopes category terms.
type Codespace struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Dataset is the procedure × observed property × offering identity every
// scalar observation belongs to.
type Dataset struct {
	ID              int64           `json:"id"`
	Procedure       Procedure       `json:"procedure"`
	Phenomenon      Phenomenon      `json:"phenomenon"`
	Offering        Offering        `json:"offering"`
	Feature         *Feature        `json:"feature,omitempty"`
	ObservationType ObservationType `json:"observation_type,omitempty"`
	Category        string          `json:"category,omitempty"`
	Hidden          bool            `json:"hidden"`
	Published       bool            `json:"published"`
	Duplicated      bool            `json:"duplicated"`
	FirstTime       *time.Time      `json:"first_time,omitempty"`
	LastTime        *time.Time      `json:"last_time,omitempty"`
}

// DatasetKey is the identity tuple of a dataset.
type DatasetKey struct {
	ProcedureID  int64
	PhenomenonID int64
	OfferingID   int64
}

// Key returns the dataset identity tuple.
func (d Dataset) Key() DatasetKey {
	return DatasetKey{ProcedureID: d.Procedure.ID, PhenomenonID: d.Phenomenon.ID, OfferingID: d.Offering.ID}
}

// String renders the identity for diagnostics.
func (d Dataset) String() string {
	return fmt.Sprintf("dataset %d (procedure=%s, observedProperty=%s, offering=%s)",
		d.ID, d.Procedure.Identifier, d.Phenomenon.Identifier, d.Offering.Identifier)
}

// ObservationType identifies the O&M observation type of a dataset.
type ObservationType string

// Observation types understood by the store.
const (
	ObservationTypeTruth              ObservationType = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_TruthObservation"
	ObservationTypeCount              ObservationType = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_CountObservation"
	ObservationTypeMeasurement        ObservationType = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_Measurement"
	ObservationTypeText               ObservationType = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_TextObservation"
	ObservationTypeCategory           ObservationType = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_CategoryObservation"
	ObservationTypeGeometry           ObservationType = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_GeometryObservation"
	ObservationTypeReference          ObservationType = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_ReferenceObservation"
	ObservationTypeComplex            ObservationType = "http://www.opengis.net/def/observationType/OGC-OM/2.0/OM_ComplexObservation"
	ObservationTypeProfile            ObservationType = "http://www.opengis.net/def/observationType/INSPIRE-OM/2.0/ProfileObservation"
	ObservationTypeGeologyLog         ObservationType = "http://www.opengis.net/def/observationType/OGC-GWML/2.0/GW_GeologyLog"
	ObservationTypeGeologyLogCoverage ObservationType = "http://www.opengis.net/def/observationType/OGC-GWML/2.0/GW_GeologyLogCoverage"
)

// IsProfile reports whether observations of this type are profiles whose
// children share the parent dataset.
func (t ObservationType) IsProfile() bool {
	switch t {
	case ObservationTypeProfile, ObservationTypeGeologyLog, ObservationTypeGeologyLogCoverage:
		return true
	}
	return false
}

// ObservationTypeFor maps a stored payload kind to its observation type. The
// second result is false for kinds that are never stored.
func ObservationTypeFor(kind Kind) (ObservationType, bool) {
	switch kind {
	case KindBoolean:
		return ObservationTypeTruth, true
	case KindCount:
		return ObservationTypeCount, true
	case KindQuantity:
		return ObservationTypeMeasurement, true
	case KindText:
		return ObservationTypeText, true
	case KindCategory:
		return ObservationTypeCategory, true
	case KindGeometry:
		return ObservationTypeGeometry, true
	case KindReference:
		return ObservationTypeReference, true
	case KindComplex:
		return ObservationTypeComplex, true
	case KindProfile:
		return ObservationTypeProfile, true
	case KindQuantityRange, KindTimeRange, KindXML, KindCoverage, KindDataArray, KindTVP,
		KindNilTemplate, KindHrefAttribute:
		return "", false
	}
	return "", false
}
