package core

import (
	"context"
	"testing"
	"time"

	"obsstore/internal/infra/persistence/memory"
	"obsstore/pkg/domain"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

// registerSeries registers one dataset for the observed property on a shared
// procedure, offering and feature.
func registerSeries(t *testing.T, svc *Service, phenomenon string, otype domain.ObservationType) domain.Dataset {
	t.Helper()
	datasets, err := svc.RegisterSensor(context.Background(), SensorRegistration{
		Procedure:       domain.Procedure{Identifier: "urn:procedure:ctd", Name: "CTD"},
		Phenomena:       []domain.Phenomenon{{Identifier: phenomenon, Name: phenomenon}},
		Offerings:       []domain.Offering{{Identifier: "urn:offering:ocean"}},
		Feature:         &domain.Feature{Identifier: "urn:feature:buoy"},
		ObservationType: otype,
	})
	if err != nil {
		t.Fatalf("register sensor: %v", err)
	}
	if len(datasets) != 1 {
		t.Fatalf("expected one dataset, got %d", len(datasets))
	}
	return datasets[0]
}

func registerPhenomenon(t *testing.T, svc *Service, identifier, name string) domain.Phenomenon {
	t.Helper()
	p, err := svc.RegisterPhenomenon(context.Background(), domain.Phenomenon{Identifier: identifier, Name: name})
	if err != nil {
		t.Fatalf("register phenomenon %s: %v", identifier, err)
	}
	return p
}

func persist(t *testing.T, svc *Service, ds domain.Dataset, when time.Time, v domain.Value) PersistResult {
	t.Helper()
	res, err := svc.Persist(context.Background(), PersistRequest{
		Observation: domain.ObservationSpec{PhenomenonTime: domain.Instant(when), Value: v},
		DatasetIDs:  []int64{ds.ID},
	})
	if err != nil {
		t.Fatalf("persist %s: %v", v.Kind(), err)
	}
	return res
}

func committed(t *testing.T, svc *Service) int {
	t.Helper()
	store, ok := svc.Gateway().(*memory.Store)
	if !ok {
		t.Fatalf("expected memory gateway, got %T", svc.Gateway())
	}
	return store.ObservationCount()
}

// findAll returns every committed record matching the predicates.
func findAll(t *testing.T, svc *Service, preds ...domain.Predicate) []domain.Observation {
	t.Helper()
	ctx := context.Background()
	session, err := svc.Gateway().Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer session.Close()
	rows, err := session.FindObservations(ctx, domain.Criteria{}.Where(preds...).OrderBy(domain.Order{Field: domain.FieldID}))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	return rows
}

func quantityPtr(v float64, unit string) *domain.QuantityValue {
	return &domain.QuantityValue{Value: v, Unit: unit}
}
