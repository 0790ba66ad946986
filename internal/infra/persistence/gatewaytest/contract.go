// Package gatewaytest holds the behavioural contract every storage gateway
// must satisfy. Backend packages run it from their own tests.
package gatewaytest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obsstore/pkg/domain"
)

// Opener returns a fresh, empty gateway.
type Opener func(t *testing.T) domain.Gateway

// Fixture is the identity graph seeded by Seed.
type Fixture struct {
	Procedure  domain.Procedure
	Phenomenon domain.Phenomenon
	Offering   domain.Offering
	Feature    domain.Feature
	Dataset    domain.Dataset
}

// Seed registers one procedure, observed property, offering, feature and
// dataset and commits them.
func Seed(t *testing.T, gw domain.Gateway) Fixture {
	t.Helper()
	ctx := context.Background()
	session, err := gw.Begin(ctx)
	require.NoError(t, err)
	reg := session.Registry()
	var fx Fixture
	fx.Procedure, err = reg.GetOrInsertProcedure(ctx, domain.Procedure{Identifier: "urn:procedure:thermo", Name: "Thermometer"})
	require.NoError(t, err)
	fx.Phenomenon, err = reg.GetOrInsertPhenomenon(ctx, domain.Phenomenon{Identifier: "urn:property:temperature", Name: "temperature"})
	require.NoError(t, err)
	fx.Offering, err = reg.GetOrInsertOffering(ctx, domain.Offering{Identifier: "urn:offering:weather"})
	require.NoError(t, err)
	fx.Feature, err = reg.GetOrInsertFeature(ctx, domain.Feature{Identifier: "urn:feature:station-1"})
	require.NoError(t, err)
	fx.Dataset, err = reg.CheckOrInsertDataset(ctx, domain.Dataset{
		Procedure:  fx.Procedure,
		Phenomenon: fx.Phenomenon,
		Offering:   fx.Offering,
	})
	require.NoError(t, err)
	require.NoError(t, session.Commit(ctx))
	return fx
}

func quantity(fx Fixture, v float64, at time.Time) domain.Observation {
	return domain.Observation{
		PhenomenonTime: domain.Instant(at),
		DatasetID:      fx.Dataset.ID,
		FeatureID:      fx.Feature.ID,
		PhenomenonID:   fx.Phenomenon.ID,
		ProcedureID:    fx.Procedure.ID,
		OfferingID:     fx.Offering.ID,
		Published:      true,
		Payload:        domain.Payload{Kind: domain.KindQuantity, Quantity: &v},
	}
}

// Run executes the contract against gateways produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("RegistryGetOrInsertIsIdempotent", func(t *testing.T) { testRegistryIdempotent(t, open(t)) })
	t.Run("DatasetLifecycle", func(t *testing.T) { testDatasetLifecycle(t, open(t)) })
	t.Run("DuplicatedFlagOnlyGrows", func(t *testing.T) { testDuplicatedFlag(t, open(t)) })
	t.Run("SaveAndFindRoundTrip", func(t *testing.T) { testRoundTrip(t, open(t)) })
	t.Run("CriteriaFilterOrderAndPage", func(t *testing.T) { testCriteria(t, open(t)) })
	t.Run("ParentLinksChildren", func(t *testing.T) { testParentLinks(t, open(t)) })
	t.Run("RollbackDiscardsWrites", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("FinishedSessionRejectsUse", func(t *testing.T) { testFinishedSession(t, open(t)) })
	t.Run("FeatureGeometryOnlyWhenMissing", func(t *testing.T) { testFeatureGeometry(t, open(t)) })
}

func testRegistryIdempotent(t *testing.T, gw domain.Gateway) {
	ctx := context.Background()
	fx := Seed(t, gw)
	session, err := gw.Begin(ctx)
	require.NoError(t, err)
	defer session.Close()
	reg := session.Registry()

	p, err := reg.GetOrInsertPhenomenon(ctx, domain.Phenomenon{Identifier: fx.Phenomenon.Identifier})
	require.NoError(t, err)
	assert.Equal(t, fx.Phenomenon.ID, p.ID)
	assert.Equal(t, "temperature", p.Name)

	byID, err := reg.PhenomenonByID(ctx, fx.Phenomenon.ID)
	require.NoError(t, err)
	assert.Equal(t, fx.Phenomenon.Identifier, byID.Identifier)

	_, err = reg.PhenomenonByIdentifier(ctx, "urn:property:missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	u1, err := reg.GetOrInsertUnit(ctx, "degC")
	require.NoError(t, err)
	u2, err := reg.GetOrInsertUnit(ctx, "degC")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)

	c1, err := reg.GetOrInsertCodespace(ctx, "urn:codespace:cloud")
	require.NoError(t, err)
	c2, err := reg.GetOrInsertCodespace(ctx, "urn:codespace:cloud")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)

	again, err := reg.CheckOrInsertDataset(ctx, domain.Dataset{
		Procedure:  fx.Procedure,
		Phenomenon: fx.Phenomenon,
		Offering:   fx.Offering,
		Hidden:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, fx.Dataset.ID, again.ID)
	assert.False(t, again.Hidden, "existing dataset must be returned unchanged")

	_, err = reg.CheckOrInsertDataset(ctx, domain.Dataset{
		Procedure:  fx.Procedure,
		Phenomenon: domain.Phenomenon{ID: 987654},
		Offering:   fx.Offering,
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testDatasetLifecycle(t *testing.T, gw domain.Gateway) {
	ctx := context.Background()
	fx := Seed(t, gw)
	session, err := gw.Begin(ctx)
	require.NoError(t, err)
	reg := session.Registry()

	ds, err := reg.DatasetByID(ctx, fx.Dataset.ID)
	require.NoError(t, err)
	assert.Empty(t, ds.ObservationType)
	assert.Nil(t, ds.Feature)
	assert.Equal(t, fx.Procedure.Identifier, ds.Procedure.Identifier)
	assert.Equal(t, fx.Offering.Identifier, ds.Offering.Identifier)

	require.NoError(t, reg.SetObservationType(ctx, ds.ID, domain.ObservationTypeMeasurement))
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, reg.TouchDataset(ctx, ds.ID, fx.Feature.ID, domain.TimePeriod{Start: t0, End: t0.Add(time.Hour)}))
	require.NoError(t, reg.TouchDataset(ctx, ds.ID, fx.Feature.ID, domain.Instant(t0.Add(-time.Hour))))
	require.NoError(t, session.Commit(ctx))

	session, err = gw.Begin(ctx)
	require.NoError(t, err)
	defer session.Close()
	ds, err = session.Registry().DatasetByID(ctx, fx.Dataset.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ObservationTypeMeasurement, ds.ObservationType)
	require.NotNil(t, ds.Feature)
	assert.Equal(t, fx.Feature.Identifier, ds.Feature.Identifier)
	require.NotNil(t, ds.FirstTime)
	require.NotNil(t, ds.LastTime)
	assert.True(t, ds.FirstTime.Equal(t0.Add(-time.Hour)))
	assert.True(t, ds.LastTime.Equal(t0.Add(time.Hour)))
	assert.True(t, ds.Published)

	assert.ErrorIs(t, session.Registry().SetObservationType(ctx, 424242, domain.ObservationTypeCount), domain.ErrNotFound)
	_, err = session.Registry().DatasetByID(ctx, 424242)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testDuplicatedFlag(t *testing.T, gw domain.Gateway) {
	ctx := context.Background()
	fx := Seed(t, gw)
	assert.False(t, fx.Dataset.Duplicated)
	session, err := gw.Begin(ctx)
	require.NoError(t, err)
	reg := session.Registry()
	key := domain.Dataset{Procedure: fx.Procedure, Phenomenon: fx.Phenomenon, Offering: fx.Offering}

	marked := key
	marked.Duplicated = true
	ds, err := reg.CheckOrInsertDataset(ctx, marked)
	require.NoError(t, err)
	assert.Equal(t, fx.Dataset.ID, ds.ID)
	assert.True(t, ds.Duplicated)

	ds, err = reg.CheckOrInsertDataset(ctx, key)
	require.NoError(t, err)
	assert.True(t, ds.Duplicated, "unmarked lookup must not clear the flag")
	require.NoError(t, session.Commit(ctx))

	session, err = gw.Begin(ctx)
	require.NoError(t, err)
	defer session.Close()
	ds, err = session.Registry().DatasetByID(ctx, fx.Dataset.ID)
	require.NoError(t, err)
	assert.True(t, ds.Duplicated)
}

func testRoundTrip(t *testing.T, gw domain.Gateway) {
	ctx := context.Background()
	fx := Seed(t, gw)
	session, err := gw.Begin(ctx)
	require.NoError(t, err)
	reg := session.Registry()
	unit, err := reg.GetOrInsertUnit(ctx, "degC")
	require.NoError(t, err)

	at := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	result := at.Add(time.Minute)
	obs := quantity(fx, 21.5, at)
	obs.Identifier = "obs-1"
	obs.ResultTime = &result
	obs.ValidTime = &domain.TimePeriod{Start: at, End: at.Add(time.Hour)}
	g := domain.Point(4326, 52.5, 13.4)
	obs.Geometry = &g
	obs.Payload.Unit = &unit
	obs.Parameters = []domain.Parameter{
		{Name: "depth", Value: domain.QuantityValue{Value: 2.5, Unit: "m"}},
		{Name: "flag", Value: domain.CategoryValue{Value: "ok"}},
	}
	require.NoError(t, session.SaveObservation(ctx, &obs))
	require.NotZero(t, obs.ID)

	bad := quantity(fx, 1, at)
	bad.Payload.Text = new(string)
	assert.Error(t, session.SaveObservation(ctx, &bad), "payload with foreign columns must be rejected")

	orphan := quantity(fx, 1, at)
	orphan.DatasetID = 999999
	assert.ErrorIs(t, session.SaveObservation(ctx, &orphan), domain.ErrNotFound)
	require.NoError(t, session.Commit(ctx))

	session, err = gw.Begin(ctx)
	require.NoError(t, err)
	defer session.Close()
	found, err := session.FindObservations(ctx, domain.Criteria{}.Where(domain.Eq(domain.FieldIdentifier, "obs-1")))
	require.NoError(t, err)
	require.Len(t, found, 1)
	got := found[0]
	assert.Equal(t, obs.ID, got.ID)
	assert.True(t, got.PhenomenonTime.Start.Equal(at))
	require.NotNil(t, got.ResultTime)
	assert.True(t, got.ResultTime.Equal(result))
	require.NotNil(t, got.ValidTime)
	assert.True(t, got.ValidTime.End.Equal(at.Add(time.Hour)))
	require.NotNil(t, got.Geometry)
	assert.True(t, got.Geometry.Equal(g))
	require.NotNil(t, got.Payload.Quantity)
	assert.Equal(t, 21.5, *got.Payload.Quantity)
	require.NotNil(t, got.Payload.Unit)
	assert.Equal(t, "degC", got.Payload.Unit.Symbol)
	assert.True(t, got.Published)
	assert.False(t, got.Child)
	require.Len(t, got.Parameters, 2)
	assert.Equal(t, "depth", got.Parameters[0].Name)
	assert.Equal(t, domain.QuantityValue{Value: 2.5, Unit: "m"}, got.Parameters[0].Value)
	assert.Equal(t, domain.CategoryValue{Value: "ok"}, got.Parameters[1].Value)

	v, err := domain.ValueOf(got)
	require.NoError(t, err)
	assert.Equal(t, domain.QuantityValue{Value: 21.5, Unit: "degC"}, v)
}

func testCriteria(t *testing.T, gw domain.Gateway) {
	ctx := context.Background()
	fx := Seed(t, gw)
	session, err := gw.Begin(ctx)
	require.NoError(t, err)
	defer session.Close()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// insert out of time order so id order and time order differ
	for _, h := range []int{3, 1, 4, 0, 2} {
		obs := quantity(fx, float64(h), base.Add(time.Duration(h)*time.Hour))
		obs.Deleted = h == 4
		require.NoError(t, session.SaveObservation(ctx, &obs))
	}
	require.NoError(t, session.Flush(ctx))

	series := domain.Criteria{}.
		Where(domain.Eq(domain.FieldDatasetID, fx.Dataset.ID), domain.Eq(domain.FieldDeleted, false)).
		OrderBy(domain.DefaultSeriesOrder...)
	all, err := session.FindObservations(ctx, series)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, obs := range all {
		assert.Equal(t, float64(i), *obs.Payload.Quantity)
	}

	page, err := session.FindObservations(ctx, series.Page(1, 2))
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 1.0, *page[0].Payload.Quantity)
	assert.Equal(t, 2.0, *page[1].Payload.Quantity)

	tail, err := session.FindObservations(ctx, series.Page(3, 0))
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, 3.0, *tail[0].Payload.Quantity)

	beyond, err := session.FindObservations(ctx, series.Page(10, 5))
	require.NoError(t, err)
	assert.Empty(t, beyond)

	windowed, err := session.FindObservations(ctx, series.Where(
		domain.Ge(domain.FieldPhenomenonTimeStart, base.Add(time.Hour)),
		domain.Lt(domain.FieldPhenomenonTimeEnd, base.Add(3*time.Hour)),
	))
	require.NoError(t, err)
	require.Len(t, windowed, 2)

	desc, err := session.FindObservations(ctx, domain.Criteria{}.
		Where(domain.Eq(domain.FieldDatasetID, fx.Dataset.ID)).
		OrderBy(domain.Order{Field: domain.FieldPhenomenonTimeStart, Desc: true}).
		Page(0, 1))
	require.NoError(t, err)
	require.Len(t, desc, 1)
	assert.Equal(t, 4.0, *desc[0].Payload.Quantity)

	ids := []int64{all[0].ID, all[2].ID}
	byID, err := session.FindObservations(ctx, domain.Criteria{}.Where(domain.In(domain.FieldID, ids...)))
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	none, err := session.FindObservations(ctx, domain.Criteria{}.Where(domain.In(domain.FieldID)))
	require.NoError(t, err)
	assert.Empty(t, none)

	nulls, err := session.FindObservations(ctx, series.Where(domain.IsNull(domain.FieldResultTime), domain.IsNull(domain.FieldParentID)))
	require.NoError(t, err)
	assert.Len(t, nulls, 4)

	_, err = session.FindObservations(ctx, domain.Criteria{}.Where(domain.Eq("bogus", 1)))
	assert.Error(t, err)
}

func testParentLinks(t *testing.T, gw domain.Gateway) {
	ctx := context.Background()
	fx := Seed(t, gw)
	session, err := gw.Begin(ctx)
	require.NoError(t, err)
	defer session.Close()

	at := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	var childIDs []int64
	for i := 0; i < 2; i++ {
		child := quantity(fx, float64(i), at)
		child.Child = true
		child.HiddenChild = true
		child.Published = false
		child.Position = i
		require.NoError(t, session.SaveObservation(ctx, &child))
		childIDs = append(childIDs, child.ID)
	}
	parent := quantity(fx, 0, at)
	parent.Payload = domain.Payload{Kind: domain.KindComplex}
	parent.Parent = true
	parent.ChildIDs = childIDs
	require.NoError(t, session.SaveObservation(ctx, &parent))

	kids, err := session.FindObservations(ctx, domain.Criteria{}.
		Where(domain.Eq(domain.FieldParentID, parent.ID)).
		OrderBy(domain.Order{Field: domain.FieldPosition}))
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, childIDs[0], kids[0].ID)
	assert.Equal(t, childIDs[1], kids[1].ID)
	require.NotNil(t, kids[1].ParentID)
	assert.Equal(t, parent.ID, *kids[1].ParentID)

	roots, err := session.FindObservations(ctx, domain.Criteria{}.Where(domain.Eq(domain.FieldChild, false)))
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, domain.KindComplex, roots[0].Payload.Kind)
	assert.True(t, roots[0].Parent)

	dangling := quantity(fx, 0, at)
	dangling.Payload = domain.Payload{Kind: domain.KindComplex}
	dangling.ChildIDs = []int64{777777}
	assert.ErrorIs(t, session.SaveObservation(ctx, &dangling), domain.ErrNotFound)
}

func testRollback(t *testing.T, gw domain.Gateway) {
	ctx := context.Background()
	fx := Seed(t, gw)
	session, err := gw.Begin(ctx)
	require.NoError(t, err)
	obs := quantity(fx, 1, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, session.SaveObservation(ctx, &obs))
	_, err = session.Registry().GetOrInsertPhenomenon(ctx, domain.Phenomenon{Identifier: "urn:property:rolled-back"})
	require.NoError(t, err)
	require.NoError(t, session.Close())

	session, err = gw.Begin(ctx)
	require.NoError(t, err)
	defer session.Close()
	found, err := session.FindObservations(ctx, domain.Criteria{})
	require.NoError(t, err)
	assert.Empty(t, found)
	_, err = session.Registry().PhenomenonByIdentifier(ctx, "urn:property:rolled-back")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testFinishedSession(t *testing.T, gw domain.Gateway) {
	ctx := context.Background()
	fx := Seed(t, gw)
	session, err := gw.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Commit(ctx))
	assert.NoError(t, session.Close(), "close after commit is a no-op")
	assert.Error(t, session.Commit(ctx))
	assert.Error(t, session.Rollback())
	_, err = session.FindObservations(ctx, domain.Criteria{})
	assert.Error(t, err)
	obs := quantity(fx, 1, time.Now().UTC())
	assert.Error(t, session.SaveObservation(ctx, &obs))
}

func testFeatureGeometry(t *testing.T, gw domain.Gateway) {
	ctx := context.Background()
	fx := Seed(t, gw)
	session, err := gw.Begin(ctx)
	require.NoError(t, err)
	reg := session.Registry()
	first := domain.Point(4326, 1, 2)
	second := domain.Point(4326, 3, 4)
	require.NoError(t, reg.UpdateFeatureGeometry(ctx, fx.Feature.ID, first))
	require.NoError(t, reg.UpdateFeatureGeometry(ctx, fx.Feature.ID, second))
	assert.ErrorIs(t, reg.UpdateFeatureGeometry(ctx, 555555, first), domain.ErrNotFound)
	require.NoError(t, session.Commit(ctx))

	session, err = gw.Begin(ctx)
	require.NoError(t, err)
	defer session.Close()
	f, err := session.Registry().GetOrInsertFeature(ctx, domain.Feature{Identifier: fx.Feature.Identifier})
	require.NoError(t, err)
	require.NotNil(t, f.Geometry)
	assert.True(t, f.Geometry.Equal(first))
}
