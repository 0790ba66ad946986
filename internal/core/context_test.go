package core

import (
	"context"
	"errors"
	"testing"

	"obsstore/internal/infra/persistence/memory"
	"obsstore/pkg/domain"
)

func TestResolveRootPrefersSuppliedFeature(t *testing.T) {
	if _, err := ResolveRoot(nil, nil); err == nil {
		t.Fatalf("expected error without datasets")
	}
	dsFeature := &domain.Feature{ID: 1, Identifier: "dataset-feature"}
	rep := domain.Dataset{
		ID:         10,
		Procedure:  domain.Procedure{ID: 2},
		Phenomenon: domain.Phenomenon{ID: 3},
		Offering:   domain.Offering{ID: 4},
		Feature:    dsFeature,
	}
	oc, err := ResolveRoot([]domain.Dataset{rep}, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if oc.Feature == nil || oc.Feature.ID != 1 || oc.Feature == dsFeature {
		t.Fatalf("expected a copy of the dataset feature, got %+v", oc.Feature)
	}
	if !oc.Publish || oc.HiddenChild {
		t.Fatalf("unexpected flags %+v", oc)
	}

	oc, err = ResolveRoot([]domain.Dataset{rep}, &domain.Feature{ID: 9})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if oc.Feature.ID != 9 {
		t.Fatalf("expected supplied feature, got %+v", oc.Feature)
	}

	var obs domain.Observation
	oc.ApplyTo(&obs)
	if obs.FeatureID != 9 || obs.PhenomenonID != 3 || obs.ProcedureID != 2 || obs.OfferingID != 4 || !obs.Published {
		t.Fatalf("context not applied: %+v", obs)
	}
	if len(oc.Criteria().Predicates) != 1 {
		t.Fatalf("expected feature predicate, got %+v", oc.Criteria())
	}

	rep.Hidden = true
	rep.Feature = nil
	oc, _ = ResolveRoot([]domain.Dataset{rep}, nil)
	if oc.Publish || oc.Feature != nil || len(oc.Criteria().Predicates) != 0 {
		t.Fatalf("hidden dataset without feature: %+v", oc)
	}
}

func TestResolveChildCopiesParent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	session, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer session.Close()
	speed, err := session.Registry().GetOrInsertPhenomenon(ctx, domain.Phenomenon{Identifier: "urn:property:speed"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	parent := ObservationContext{
		Feature:    &domain.Feature{ID: 1},
		Phenomenon: domain.Phenomenon{ID: 99, Identifier: "urn:property:wind"},
		Publish:    true,
	}
	child, err := ResolveChild(ctx, parent, session.Registry(), "")
	if err != nil {
		t.Fatalf("resolve child: %v", err)
	}
	if !child.HiddenChild || child.Publish || child.Phenomenon.ID != 99 {
		t.Fatalf("unexpected child %+v", child)
	}
	child.Feature.ID = 42
	if parent.Feature.ID != 1 || !parent.Publish || parent.HiddenChild {
		t.Fatalf("parent context modified: %+v", parent)
	}

	child, err = ResolveChild(ctx, parent, session.Registry(), "urn:property:speed")
	if err != nil {
		t.Fatalf("resolve override: %v", err)
	}
	if child.Phenomenon.ID != speed.ID {
		t.Fatalf("expected override phenomenon, got %+v", child.Phenomenon)
	}

	_, err = ResolveChild(ctx, parent, session.Registry(), "urn:property:missing")
	var unknown *domain.UnknownObservedPropertyError
	if !errors.As(err, &unknown) || unknown.Identifier != "urn:property:missing" {
		t.Fatalf("expected unknown observed property, got %v", err)
	}
	if _, err := ResolveChild(ctx, parent, nil, "x"); !errors.Is(err, domain.ErrUnknownObservedProperty) {
		t.Fatalf("expected unknown observed property without lookup, got %v", err)
	}
}

type countingRegistry struct {
	domain.Registry
	units, codespaces int
}

func (c *countingRegistry) GetOrInsertUnit(ctx context.Context, symbol string) (domain.Unit, error) {
	c.units++
	return c.Registry.GetOrInsertUnit(ctx, symbol)
}

func (c *countingRegistry) GetOrInsertCodespace(ctx context.Context, name string) (domain.Codespace, error) {
	c.codespaces++
	return c.Registry.GetOrInsertCodespace(ctx, name)
}

func TestCachesMemoiseLookups(t *testing.T) {
	ctx := context.Background()
	session, err := memory.NewStore().Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer session.Close()
	reg := &countingRegistry{Registry: session.Registry()}
	caches := NewCaches()
	for range 3 {
		u, err := caches.unit(ctx, reg, "degC")
		if err != nil || u.Symbol != "degC" {
			t.Fatalf("unit: %+v %v", u, err)
		}
		cs, err := caches.codespace(ctx, reg, "urn:codespace:sky")
		if err != nil || cs.Name != "urn:codespace:sky" {
			t.Fatalf("codespace: %+v %v", cs, err)
		}
	}
	if reg.units != 1 || reg.codespaces != 1 {
		t.Fatalf("expected one lookup each, got %d and %d", reg.units, reg.codespaces)
	}
}

func TestOfferingSetKeepsFirstTouchOrder(t *testing.T) {
	set := NewOfferingSet(domain.Offering{Identifier: "b"})
	if !set.Add(domain.Offering{Identifier: "a"}) || set.Add(domain.Offering{Identifier: "b"}) {
		t.Fatalf("unexpected add results")
	}
	list := set.List()
	if set.Len() != 2 || list[0].Identifier != "b" || list[1].Identifier != "a" {
		t.Fatalf("unexpected order %+v", list)
	}
	list[0].Identifier = "changed"
	if !set.Contains("b") || set.Contains("changed") {
		t.Fatalf("list must be a copy")
	}
	var zero OfferingSet
	zero.Add(domain.Offering{Identifier: "z"})
	if !zero.Contains("z") {
		t.Fatalf("zero value set must accept offerings")
	}
}
