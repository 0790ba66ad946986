package core

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"obsstore/pkg/domain"
)

func TestPersistScalarKindsRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		value domain.Value
		otype domain.ObservationType
	}{
		{"boolean", domain.BooleanValue{Value: true}, domain.ObservationTypeTruth},
		{"count", domain.CountValue{Value: 42}, domain.ObservationTypeCount},
		{"quantity", domain.QuantityValue{Value: 21.5, Unit: "degC"}, domain.ObservationTypeMeasurement},
		{"text", domain.TextValue{Value: "calm"}, domain.ObservationTypeText},
		{"category", domain.CategoryValue{Value: "sunny", Codespace: "urn:codespace:sky"}, domain.ObservationTypeCategory},
		{"geometry", domain.GeometryValue{Geometry: domain.Point(4326, 7.1, 51.9)}, domain.ObservationTypeGeometry},
		{"reference", domain.ReferenceValue{Title: "report", Href: "https://example.org/r/1"}, domain.ObservationTypeReference},
	}
	svc := NewInMemoryService()
	ctx := context.Background()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ds := registerSeries(t, svc, "urn:property:"+tc.name, "")
			res := persist(t, svc, ds, t0, tc.value)
			if res.Observation.ID == 0 || res.Observation.Identifier == "" {
				t.Fatalf("expected stored record with identifier, got %+v", res.Observation)
			}
			if res.Observation.Child || res.Observation.HiddenChild || !res.Observation.Published {
				t.Fatalf("unexpected flags on top-level record: %+v", res.Observation)
			}
			_, got, err := svc.ReadValue(ctx, res.Observation.ID)
			if err != nil {
				t.Fatalf("read value: %v", err)
			}
			if !reflect.DeepEqual(got, tc.value) {
				t.Fatalf("round trip mismatch: got %#v want %#v", got, tc.value)
			}
			stored, err := svc.Dataset(ctx, ds.ID)
			if err != nil {
				t.Fatalf("dataset: %v", err)
			}
			if stored.ObservationType != tc.otype {
				t.Fatalf("expected declared type %s, got %s", tc.otype, stored.ObservationType)
			}
			if stored.FirstTime == nil || !stored.FirstTime.Equal(t0) {
				t.Fatalf("expected dataset time bounds to be extended, got %v", stored.FirstTime)
			}
		})
	}
}

func TestPersistGeneratesIdentifierAndReportsOfferings(t *testing.T) {
	svc := NewInMemoryService(WithIdentifierGenerator(func() string { return "obs-fixed" }))
	ds := registerSeries(t, svc, "urn:property:temperature", domain.ObservationTypeMeasurement)
	res := persist(t, svc, ds, t0, domain.QuantityValue{Value: 1})
	if res.Observation.Identifier != "obs-fixed" {
		t.Fatalf("expected generated identifier, got %q", res.Observation.Identifier)
	}
	if len(res.Offerings) != 1 || res.Offerings[0].Identifier != "urn:offering:ocean" {
		t.Fatalf("unexpected offerings %+v", res.Offerings)
	}
}

func TestPersistRejectsMismatchedObservationType(t *testing.T) {
	svc := NewInMemoryService()
	ds := registerSeries(t, svc, "urn:property:temperature", domain.ObservationTypeMeasurement)
	_, err := svc.Persist(context.Background(), PersistRequest{
		Observation: domain.ObservationSpec{PhenomenonTime: domain.Instant(t0), Value: domain.TextValue{Value: "warm"}},
		DatasetIDs:  []int64{ds.ID},
	})
	var typeErr *domain.InvalidObservationTypeError
	if !errors.As(err, &typeErr) {
		t.Fatalf("expected invalid observation type error, got %v", err)
	}
	if typeErr.Expected != domain.ObservationTypeMeasurement || typeErr.Requested != domain.ObservationTypeText {
		t.Fatalf("unexpected error detail %+v", typeErr)
	}
	if typeErr.Procedure != "urn:procedure:ctd" || typeErr.Offering != "urn:offering:ocean" {
		t.Fatalf("expected dataset identity in error, got %+v", typeErr)
	}
	if !IsRejected(err) {
		t.Fatalf("expected rejection classification")
	}
	if n := committed(t, svc); n != 0 {
		t.Fatalf("expected nothing written, got %d records", n)
	}
}

func TestPersistAcceptsProfileFamilyTypes(t *testing.T) {
	svc := NewInMemoryService()
	ds := registerSeries(t, svc, "urn:property:lithology", domain.ObservationTypeGeologyLog)
	pv := domain.ProfileValue{Levels: []domain.ProfileLevel{{
		Start:  quantityPtr(0, "m"),
		End:    quantityPtr(2, "m"),
		Values: []domain.LevelValue{{Value: domain.CategoryValue{Value: "clay"}}},
	}}}
	res := persist(t, svc, ds, t0, pv)
	if res.Observation.Payload.Kind != domain.KindProfile {
		t.Fatalf("expected profile parent, got %s", res.Observation.Payload.Kind)
	}
	stored, err := svc.Dataset(context.Background(), ds.ID)
	if err != nil {
		t.Fatalf("dataset: %v", err)
	}
	if stored.ObservationType != domain.ObservationTypeGeologyLog {
		t.Fatalf("declared type must not change, got %s", stored.ObservationType)
	}
}

func TestPersistRejectsDuplicates(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()
	ds := registerSeries(t, svc, "urn:property:temperature", domain.ObservationTypeMeasurement)
	first, err := svc.Persist(ctx, PersistRequest{
		Observation: domain.ObservationSpec{Identifier: "obs-1", PhenomenonTime: domain.Instant(t0), Value: domain.QuantityValue{Value: 1}},
		DatasetIDs:  []int64{ds.ID},
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	_, err = svc.Persist(ctx, PersistRequest{
		Observation: domain.ObservationSpec{PhenomenonTime: domain.Instant(t0), Value: domain.QuantityValue{Value: 2}},
		DatasetIDs:  []int64{ds.ID},
	})
	var dup *domain.DuplicateObservationError
	if !errors.As(err, &dup) || dup.DatasetID != ds.ID || !dup.Start.Equal(t0) {
		t.Fatalf("expected time duplicate, got %v", err)
	}

	_, err = svc.Persist(ctx, PersistRequest{
		Observation: domain.ObservationSpec{Identifier: first.Observation.Identifier, PhenomenonTime: domain.Instant(at(1)), Value: domain.QuantityValue{Value: 3}},
		DatasetIDs:  []int64{ds.ID},
	})
	if !errors.As(err, &dup) || dup.Identifier != "obs-1" {
		t.Fatalf("expected identifier duplicate, got %v", err)
	}
	if !errors.Is(err, domain.ErrDuplicateObservation) {
		t.Fatalf("expected sentinel match, got %v", err)
	}

	rt := at(10)
	if _, err := svc.Persist(ctx, PersistRequest{
		Observation: domain.ObservationSpec{PhenomenonTime: domain.Instant(t0), ResultTime: &rt, Value: domain.QuantityValue{Value: 4}},
		DatasetIDs:  []int64{ds.ID},
	}); err != nil {
		t.Fatalf("a different result time is not a duplicate: %v", err)
	}
	if n := committed(t, svc); n != 2 {
		t.Fatalf("expected two records, got %d", n)
	}
}

func TestPersistRejectsUnsupportedKindBeforeWriting(t *testing.T) {
	svc := NewInMemoryService()
	registerPhenomenon(t, svc, "urn:property:speed", "speed")
	ds := registerSeries(t, svc, "urn:property:wind", domain.ObservationTypeComplex)
	cv := domain.ComplexValue{Fields: []domain.Field{
		{Name: "speed", Definition: "urn:property:speed", Value: domain.QuantityValue{Value: 3}},
		{Name: "raw", Definition: "urn:property:speed", Value: domain.UnsupportedValue{ValueKind: domain.KindXML}},
	}}
	_, err := svc.Persist(context.Background(), PersistRequest{
		Observation: domain.ObservationSpec{PhenomenonTime: domain.Instant(t0), Value: cv},
		DatasetIDs:  []int64{ds.ID},
	})
	var unsupported *domain.UnsupportedValueKindError
	if !errors.As(err, &unsupported) || unsupported.Kind != domain.KindXML {
		t.Fatalf("expected unsupported kind error, got %v", err)
	}
	if n := committed(t, svc); n != 0 {
		t.Fatalf("expected nothing written, got %d", n)
	}
}

func TestPersistComplexWritesHiddenChildren(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()
	registerPhenomenon(t, svc, "urn:property:speed", "speed")
	registerPhenomenon(t, svc, "urn:property:direction", "direction")
	ds := registerSeries(t, svc, "urn:property:wind", domain.ObservationTypeComplex)
	cv := domain.ComplexValue{Fields: []domain.Field{
		{Name: "speed", Definition: "urn:property:speed", Value: domain.QuantityValue{Value: 3.2, Unit: "m/s"}},
		{Name: "direction", Definition: "urn:property:direction", Value: domain.CountValue{Value: 270}},
	}}
	res := persist(t, svc, ds, t0, cv)
	parent := res.Observation
	if !parent.Parent || len(parent.ChildIDs) != 2 {
		t.Fatalf("expected parent with two children, got %+v", parent)
	}

	kids := findAll(t, svc, domain.Eq(domain.FieldChild, true))
	if len(kids) != 2 {
		t.Fatalf("expected two child records, got %d", len(kids))
	}
	for i, kid := range kids {
		if kid.ParentID == nil || *kid.ParentID != parent.ID {
			t.Fatalf("child %d not linked to parent: %+v", i, kid)
		}
		if !kid.HiddenChild || kid.Published || kid.Identifier != "" {
			t.Fatalf("unexpected child flags: %+v", kid)
		}
		if kid.Position != i {
			t.Fatalf("expected position %d, got %d", i, kid.Position)
		}
		hidden, err := svc.Dataset(ctx, kid.DatasetID)
		if err != nil {
			t.Fatalf("child dataset: %v", err)
		}
		if !hidden.Hidden || hidden.ID == ds.ID {
			t.Fatalf("expected child in hidden dataset, got %+v", hidden)
		}
		if hidden.Offering.ID != ds.Offering.ID || hidden.Procedure.ID != ds.Procedure.ID {
			t.Fatalf("hidden dataset must share procedure and offering, got %+v", hidden)
		}
	}

	_, got, err := svc.ReadValue(ctx, parent.ID)
	if err != nil {
		t.Fatalf("read value: %v", err)
	}
	if !reflect.DeepEqual(got, cv) {
		t.Fatalf("complex round trip mismatch: got %#v", got)
	}
}

func TestPersistComplexUnknownFieldRollsBack(t *testing.T) {
	svc := NewInMemoryService()
	registerPhenomenon(t, svc, "urn:property:speed", "speed")
	ds := registerSeries(t, svc, "urn:property:wind", domain.ObservationTypeComplex)
	cv := domain.ComplexValue{Fields: []domain.Field{
		{Name: "speed", Definition: "urn:property:speed", Value: domain.QuantityValue{Value: 3.2}},
		{Name: "gust", Definition: "urn:property:gust", Value: domain.QuantityValue{Value: 9}},
	}}
	_, err := svc.Persist(context.Background(), PersistRequest{
		Observation: domain.ObservationSpec{PhenomenonTime: domain.Instant(t0), Value: cv},
		DatasetIDs:  []int64{ds.ID},
	})
	var unknown *domain.UnknownObservedPropertyError
	if !errors.As(err, &unknown) || unknown.Identifier != "urn:property:gust" {
		t.Fatalf("expected unknown observed property, got %v", err)
	}
	if n := committed(t, svc); n != 0 {
		t.Fatalf("expected the first child to be rolled back, got %d records", n)
	}
}

func TestPersistProfileLevels(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()
	registerPhenomenon(t, svc, "urn:property:salinity", "salinity")
	ds := registerSeries(t, svc, "urn:property:temperature", domain.ObservationTypeProfile)
	later := domain.Instant(at(5))
	pv := domain.ProfileValue{Levels: []domain.ProfileLevel{
		{
			Start: quantityPtr(5, "m"),
			Values: []domain.LevelValue{
				{Value: domain.QuantityValue{Value: 12.5, Unit: "degC"}},
				{Definition: "urn:property:salinity", Value: domain.QuantityValue{Value: 35.1, Unit: "psu"}},
			},
		},
		{
			Start:          quantityPtr(10, "m"),
			End:            quantityPtr(20, "m"),
			PhenomenonTime: &later,
			Values:         []domain.LevelValue{{Value: domain.QuantityValue{Value: 11, Unit: "degC"}}},
		},
	}}
	res := persist(t, svc, ds, t0, pv)
	if len(res.Observation.ChildIDs) != 3 {
		t.Fatalf("expected three level values, got %d", len(res.Observation.ChildIDs))
	}

	kids := findAll(t, svc, domain.Eq(domain.FieldChild, true))
	if len(kids) != 3 {
		t.Fatalf("expected three children, got %d", len(kids))
	}
	if kids[0].DatasetID != ds.ID || kids[2].DatasetID != ds.ID {
		t.Fatalf("level values without definition belong to the profile dataset")
	}
	if kids[1].DatasetID == ds.ID {
		t.Fatalf("level value with definition belongs to a hidden dataset")
	}
	if v, ok := kids[2].Parameter(domain.ParamFromDepth); !ok || v.(domain.QuantityValue).Value != 10 {
		t.Fatalf("expected fromDepth parameter, got %+v", kids[2].Parameters)
	}
	if !kids[2].PhenomenonTime.Start.Equal(at(5)) {
		t.Fatalf("expected level phenomenon time, got %v", kids[2].PhenomenonTime)
	}

	_, got, err := svc.ReadValue(ctx, res.Observation.ID)
	if err != nil {
		t.Fatalf("read value: %v", err)
	}
	read, ok := got.(domain.ProfileValue)
	if !ok || len(read.Levels) != 2 {
		t.Fatalf("expected two levels, got %#v", got)
	}
	l0, l1 := read.Levels[0], read.Levels[1]
	if l0.Start == nil || *l0.Start != (domain.QuantityValue{Value: 5, Unit: "m"}) || l0.End != nil {
		t.Fatalf("unexpected first level bounds %+v %+v", l0.Start, l0.End)
	}
	if l1.Start == nil || l1.End == nil || l1.Start.Value != 10 || l1.End.Value != 20 {
		t.Fatalf("unexpected second level bounds %+v %+v", l1.Start, l1.End)
	}
	if !reflect.DeepEqual(l0.Values, pv.Levels[0].Values) || !reflect.DeepEqual(l1.Values, pv.Levels[1].Values) {
		t.Fatalf("level values mismatch: %#v %#v", l0.Values, l1.Values)
	}
	if l1.PhenomenonTime == nil || !l1.PhenomenonTime.Start.Equal(at(5)) {
		t.Fatalf("expected second level time, got %v", l1.PhenomenonTime)
	}
}

func TestReadValueKeepsEmptyProfileLevels(t *testing.T) {
	svc := NewInMemoryService()
	ds := registerSeries(t, svc, "urn:property:temperature", domain.ObservationTypeProfile)
	pv := domain.ProfileValue{Levels: []domain.ProfileLevel{
		{Start: quantityPtr(0, "m"), Values: []domain.LevelValue{{Value: domain.QuantityValue{Value: 14, Unit: "degC"}}}},
		{Start: quantityPtr(5, "m")},
		{Start: quantityPtr(10, "m"), Values: []domain.LevelValue{{Value: domain.QuantityValue{Value: 9, Unit: "degC"}}}},
		{Start: quantityPtr(15, "m")},
	}}
	res := persist(t, svc, ds, t0, pv)
	if v, ok := res.Observation.Parameter(domain.ParamLevels); !ok || v != (domain.CountValue{Value: 4}) {
		t.Fatalf("expected level count on the parent, got %+v", res.Observation.Parameters)
	}
	_, got, err := svc.ReadValue(context.Background(), res.Observation.ID)
	if err != nil {
		t.Fatalf("read value: %v", err)
	}
	read, ok := got.(domain.ProfileValue)
	if !ok || len(read.Levels) != 4 {
		t.Fatalf("expected four levels, got %#v", got)
	}
	if len(read.Levels[1].Values) != 0 || len(read.Levels[3].Values) != 0 {
		t.Fatalf("expected empty levels to stay empty, got %+v", read.Levels)
	}
	if l2 := read.Levels[2]; len(l2.Values) != 1 || l2.Start == nil || l2.Start.Value != 10 {
		t.Fatalf("expected third level at 10 m, got %+v", l2)
	}
}

func TestPersistSwapsAxesAndSetsFeatureGeometry(t *testing.T) {
	swap := func(g domain.Geometry) (domain.Geometry, error) { return g.SwapAxes(), nil }
	for _, update := range []bool{true, false} {
		svc := NewInMemoryService(WithAxisSwapper(swap), WithFeatureGeometryUpdate(update))
		ctx := context.Background()
		ds := registerSeries(t, svc, "urn:property:temperature", domain.ObservationTypeMeasurement)
		g := domain.Point(4326, 51.9, 7.1)
		res, err := svc.Persist(ctx, PersistRequest{
			Observation: domain.ObservationSpec{PhenomenonTime: domain.Instant(t0), SamplingGeometry: &g, Value: domain.QuantityValue{Value: 1}},
			DatasetIDs:  []int64{ds.ID},
		})
		if err != nil {
			t.Fatalf("persist: %v", err)
		}
		want := domain.Point(4326, 7.1, 51.9)
		if res.Observation.Geometry == nil || !res.Observation.Geometry.Equal(want) {
			t.Fatalf("expected swapped geometry, got %+v", res.Observation.Geometry)
		}
		if g.Coordinates[0].X != 51.9 {
			t.Fatalf("caller geometry must not be modified")
		}

		session, err := svc.Gateway().Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		feature, err := session.Registry().GetOrInsertFeature(ctx, domain.Feature{Identifier: "urn:feature:buoy"})
		_ = session.Close()
		if err != nil {
			t.Fatalf("feature: %v", err)
		}
		if update && (feature.Geometry == nil || !feature.Geometry.Equal(want)) {
			t.Fatalf("expected feature geometry to be set, got %+v", feature.Geometry)
		}
		if !update && feature.Geometry != nil {
			t.Fatalf("expected feature geometry to stay empty, got %+v", feature.Geometry)
		}
	}
}

func TestPersistSwapFailureAborts(t *testing.T) {
	svc := NewInMemoryService(WithAxisSwapper(func(domain.Geometry) (domain.Geometry, error) {
		return domain.Geometry{}, errors.New("unknown crs")
	}))
	ds := registerSeries(t, svc, "urn:property:temperature", domain.ObservationTypeMeasurement)
	g := domain.Point(9999, 1, 2)
	_, err := svc.Persist(context.Background(), PersistRequest{
		Observation: domain.ObservationSpec{PhenomenonTime: domain.Instant(t0), SamplingGeometry: &g, Value: domain.QuantityValue{Value: 1}},
		DatasetIDs:  []int64{ds.ID},
	})
	if err == nil || IsRejected(err) {
		t.Fatalf("expected non-rejection failure, got %v", err)
	}
	if n := committed(t, svc); n != 0 {
		t.Fatalf("expected nothing written, got %d", n)
	}
}

func TestProfileChildRecordsItsOffering(t *testing.T) {
	offerings := NewOfferingSet()
	node := &observationNode{
		scope: &persistScope{offerings: offerings},
		child: true,
		datasets: []domain.Dataset{{
			ID:              7,
			Offering:        domain.Offering{ID: 3, Identifier: "urn:offering:casts"},
			ObservationType: domain.ObservationTypeProfile,
		}},
	}
	if err := node.checkDatasets(context.Background(), domain.ObservationTypeMeasurement); err != nil {
		t.Fatalf("check datasets: %v", err)
	}
	if !offerings.Contains("urn:offering:casts") {
		t.Fatalf("expected the child to record its offering, got %+v", offerings.List())
	}
}

func TestCheckSupportedWalksTree(t *testing.T) {
	if err := checkSupported(nil); err == nil {
		t.Fatalf("expected nil value rejection")
	}
	deep := domain.ProfileValue{Levels: []domain.ProfileLevel{{
		Values: []domain.LevelValue{{Value: domain.UnsupportedValue{ValueKind: domain.KindTimeRange}}},
	}}}
	if err := checkSupported(deep); !errors.Is(err, domain.ErrUnsupportedValueKind) {
		t.Fatalf("expected nested unsupported kind, got %v", err)
	}
	if err := checkSupported(domain.TextValue{Value: "ok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
