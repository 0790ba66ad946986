package core

import (
	"context"
	"errors"
	"fmt"

	"obsstore/pkg/domain"
)

// ObservationContext is the identity tuple attached to one persisted record.
// It is built per record and never retained beyond the call that builds it.
type ObservationContext struct {
	Feature     *domain.Feature
	Phenomenon  domain.Phenomenon
	Procedure   domain.Procedure
	Offering    domain.Offering
	HiddenChild bool
	Publish     bool
}

// PhenomenonLookup resolves observed properties by identifier.
type PhenomenonLookup interface {
	PhenomenonByIdentifier(ctx context.Context, identifier string) (domain.Phenomenon, error)
}

// ResolveRoot builds the context of a top-level observation from its
// representative dataset and the caller supplied feature.
func ResolveRoot(datasets []domain.Dataset, feature *domain.Feature) (ObservationContext, error) {
	if len(datasets) == 0 {
		return ObservationContext{}, errors.New("resolve context: no target dataset")
	}
	rep := datasets[0]
	oc := ObservationContext{
		Phenomenon: rep.Phenomenon,
		Procedure:  rep.Procedure,
		Offering:   rep.Offering,
		Publish:    !rep.Hidden,
	}
	switch {
	case feature != nil:
		f := *feature
		oc.Feature = &f
	case rep.Feature != nil:
		f := *rep.Feature
		oc.Feature = &f
	}
	return oc, nil
}

// ResolveChild derives the context of a child record. The parent is copied,
// never modified. A non-empty override replaces the observed property and
// must resolve through lookup.
func ResolveChild(ctx context.Context, parent ObservationContext, lookup PhenomenonLookup, override string) (ObservationContext, error) {
	child := parent
	if parent.Feature != nil {
		f := *parent.Feature
		child.Feature = &f
	}
	child.HiddenChild = true
	child.Publish = false
	if override == "" {
		return child, nil
	}
	if lookup == nil {
		return ObservationContext{}, &domain.UnknownObservedPropertyError{Identifier: override}
	}
	p, err := lookup.PhenomenonByIdentifier(ctx, override)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ObservationContext{}, &domain.UnknownObservedPropertyError{Identifier: override}
		}
		return ObservationContext{}, domain.WrapStorage(fmt.Sprintf("lookup observed property %s", override), err)
	}
	child.Phenomenon = p
	return child, nil
}

// Criteria restricts a query to records carrying this context's identity.
func (c ObservationContext) Criteria() domain.Criteria {
	var crit domain.Criteria
	if c.Feature != nil && c.Feature.ID != 0 {
		crit = crit.Where(domain.Eq(domain.FieldFeatureID, c.Feature.ID))
	}
	return crit
}

// ApplyTo copies the context identity onto a record.
func (c ObservationContext) ApplyTo(obs *domain.Observation) {
	if c.Feature != nil {
		obs.FeatureID = c.Feature.ID
	}
	obs.PhenomenonID = c.Phenomenon.ID
	obs.ProcedureID = c.Procedure.ID
	obs.OfferingID = c.Offering.ID
	obs.HiddenChild = c.HiddenChild
	obs.Published = c.Publish
}
