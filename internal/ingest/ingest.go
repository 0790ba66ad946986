// Package ingest decodes JSON documents into sensor registrations and
// persist requests.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"obsstore/internal/codec"
	"obsstore/internal/core"
	"obsstore/pkg/domain"
)

// Period is a phenomenon or validity period. An instant sets only Start or
// Instant.
type Period struct {
	Instant *time.Time `json:"instant,omitempty"`
	Start   *time.Time `json:"start,omitempty"`
	End     *time.Time `json:"end,omitempty"`
}

func (p *Period) decode(field string) (domain.TimePeriod, error) {
	switch {
	case p == nil:
		return domain.TimePeriod{}, fmt.Errorf("%s required", field)
	case p.Instant != nil:
		return domain.Instant(p.Instant.UTC()), nil
	case p.Start != nil && p.End == nil:
		return domain.Instant(p.Start.UTC()), nil
	case p.Start != nil && p.End != nil:
		if p.End.Before(*p.Start) {
			return domain.TimePeriod{}, fmt.Errorf("%s ends before it starts", field)
		}
		return domain.TimePeriod{Start: p.Start.UTC(), End: p.End.UTC()}, nil
	}
	return domain.TimePeriod{}, fmt.Errorf("%s has no start", field)
}

// Parameter is a named observation parameter.
type Parameter struct {
	Name  string      `json:"name"`
	Value codec.Value `json:"value"`
}

// Feature is the feature of interest of an observation or sensor.
type Feature struct {
	Identifier string          `json:"identifier"`
	Name       string          `json:"name,omitempty"`
	Geometry   *codec.Geometry `json:"geometry,omitempty"`
}

func (f *Feature) decode() (*domain.Feature, error) {
	if f == nil {
		return nil, nil
	}
	if strings.TrimSpace(f.Identifier) == "" {
		return nil, errors.New("feature identifier required")
	}
	g, err := codec.DecodeGeometry(f.Geometry)
	if err != nil {
		return nil, fmt.Errorf("feature %s geometry: %w", f.Identifier, err)
	}
	return &domain.Feature{Identifier: f.Identifier, Name: f.Name, Geometry: g}, nil
}

// Observation is the JSON form of one insert.
type Observation struct {
	Datasets         []int64         `json:"datasets"`
	Identifier       string          `json:"identifier,omitempty"`
	Name             string          `json:"name,omitempty"`
	Description      string          `json:"description,omitempty"`
	PhenomenonTime   *Period         `json:"phenomenon_time"`
	ResultTime       *time.Time      `json:"result_time,omitempty"`
	ValidTime        *Period         `json:"valid_time,omitempty"`
	Parameters       []Parameter     `json:"parameters,omitempty"`
	SamplingGeometry *codec.Geometry `json:"sampling_geometry,omitempty"`
	Feature          *Feature        `json:"feature,omitempty"`
	Result           *codec.Value    `json:"result"`
}

// Request converts the document into a persist request.
func (o Observation) Request() (core.PersistRequest, error) {
	if len(o.Datasets) == 0 {
		return core.PersistRequest{}, errors.New("at least one dataset required")
	}
	if o.Result == nil {
		return core.PersistRequest{}, errors.New("result required")
	}
	phenomenonTime, err := o.PhenomenonTime.decode("phenomenon_time")
	if err != nil {
		return core.PersistRequest{}, err
	}
	value, err := codec.Decode(*o.Result)
	if err != nil {
		return core.PersistRequest{}, fmt.Errorf("result: %w", err)
	}
	spec := domain.ObservationSpec{
		Identifier:     o.Identifier,
		Name:           o.Name,
		Description:    o.Description,
		PhenomenonTime: phenomenonTime,
		Value:          value,
	}
	if o.ResultTime != nil {
		rt := o.ResultTime.UTC()
		spec.ResultTime = &rt
	}
	if o.ValidTime != nil {
		vt, err := o.ValidTime.decode("valid_time")
		if err != nil {
			return core.PersistRequest{}, err
		}
		spec.ValidTime = &vt
	}
	for _, p := range o.Parameters {
		if p.Name == "" {
			return core.PersistRequest{}, errors.New("parameter name required")
		}
		pv, err := codec.Decode(p.Value)
		if err != nil {
			return core.PersistRequest{}, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		spec.Parameters = append(spec.Parameters, domain.Parameter{Name: p.Name, Value: pv})
	}
	if spec.SamplingGeometry, err = codec.DecodeGeometry(o.SamplingGeometry); err != nil {
		return core.PersistRequest{}, fmt.Errorf("sampling_geometry: %w", err)
	}
	feature, err := o.Feature.decode()
	if err != nil {
		return core.PersistRequest{}, err
	}
	return core.PersistRequest{
		Observation: spec,
		DatasetIDs:  append([]int64(nil), o.Datasets...),
		Feature:     feature,
	}, nil
}

// Sensor is the JSON form of a sensor registration.
type Sensor struct {
	Procedure       domain.Procedure    `json:"procedure"`
	Phenomena       []domain.Phenomenon `json:"phenomena"`
	Offerings       []domain.Offering   `json:"offerings"`
	Feature         *Feature            `json:"feature,omitempty"`
	ObservationType string              `json:"observation_type"`
	Duplicated      bool                `json:"duplicated,omitempty"`
}

// Registration converts the document into a sensor registration.
func (s Sensor) Registration() (core.SensorRegistration, error) {
	otype, err := ParseObservationType(s.ObservationType)
	if err != nil {
		return core.SensorRegistration{}, err
	}
	feature, err := s.Feature.decode()
	if err != nil {
		return core.SensorRegistration{}, err
	}
	return core.SensorRegistration{
		Procedure:       s.Procedure,
		Phenomena:       s.Phenomena,
		Offerings:       s.Offerings,
		Feature:         feature,
		ObservationType: otype,
		Duplicated:      s.Duplicated,
	}, nil
}

var observationTypeNames = map[string]domain.ObservationType{
	"truth":                domain.ObservationTypeTruth,
	"count":                domain.ObservationTypeCount,
	"measurement":          domain.ObservationTypeMeasurement,
	"text":                 domain.ObservationTypeText,
	"category":             domain.ObservationTypeCategory,
	"geometry":             domain.ObservationTypeGeometry,
	"reference":            domain.ObservationTypeReference,
	"complex":              domain.ObservationTypeComplex,
	"profile":              domain.ObservationTypeProfile,
	"geology_log":          domain.ObservationTypeGeologyLog,
	"geology_log_coverage": domain.ObservationTypeGeologyLogCoverage,
}

// ParseObservationType accepts a short name or the full type URI. An empty
// name leaves the type unset.
func ParseObservationType(name string) (domain.ObservationType, error) {
	if name == "" {
		return "", nil
	}
	if t, ok := observationTypeNames[strings.ToLower(name)]; ok {
		return t, nil
	}
	for _, t := range observationTypeNames {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown observation type %q", name)
}

// DecodeSensor reads one sensor document.
func DecodeSensor(r io.Reader) (Sensor, error) {
	var s Sensor
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Sensor{}, fmt.Errorf("decode sensor: %w", err)
	}
	return s, nil
}

// Observations yields the observation documents of r. A JSON array and
// newline-delimited objects are both accepted. Iteration stops after the
// first error.
func Observations(r io.Reader) iter.Seq2[Observation, error] {
	return func(yield func(Observation, error) bool) {
		br := bufio.NewReader(r)
		first, err := peekNonSpace(br)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				yield(Observation{}, err)
			}
			return
		}
		dec := json.NewDecoder(br)
		dec.DisallowUnknownFields()
		if first == '[' {
			var docs []Observation
			if err := dec.Decode(&docs); err != nil {
				yield(Observation{}, fmt.Errorf("decode observations: %w", err))
				return
			}
			for _, d := range docs {
				if !yield(d, nil) {
					return
				}
			}
			return
		}
		for n := 1; ; n++ {
			var d Observation
			err := dec.Decode(&d)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Observation{}, fmt.Errorf("decode observation %d: %w", n, err))
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsAny(b, " \t\r\n") {
			return b[0], nil
		}
		if _, err := br.Discard(1); err != nil {
			return 0, err
		}
	}
}
