package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"obsstore/internal/infra/persistence/gatewaytest"
	"obsstore/internal/streaming"
	"obsstore/pkg/domain"
)

func TestGatewayContract(t *testing.T) {
	gatewaytest.Run(t, func(t *testing.T) domain.Gateway {
		store, err := Open(context.Background(), filepath.Join(t.TempDir(), "obs.db"))
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestReopenKeepsCommittedState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "obs.db")
	store, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	fx := gatewaytest.Seed(t, store)
	session, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	text := "hello"
	obs := domain.Observation{
		Identifier:     "text-1",
		PhenomenonTime: domain.Instant(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)),
		DatasetID:      fx.Dataset.ID,
		Payload:        domain.Payload{Kind: domain.KindText, Text: &text},
	}
	if err := session.SaveObservation(ctx, &obs); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := session.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	session, err = reopened.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer session.Close()
	found, err := session.FindObservations(ctx, domain.Criteria{}.Where(domain.Eq(domain.FieldIdentifier, "text-1")))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 1 || found[0].Payload.Text == nil || *found[0].Payload.Text != "hello" {
		t.Fatalf("unexpected rows after reopen: %+v", found)
	}
}

func TestUnchunkedStreamBeyondVariableLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("writes tens of thousands of rows")
	}
	ctx := context.Background()
	store, err := Open(ctx, filepath.Join(t.TempDir(), "obs.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	fx := gatewaytest.Seed(t, store)

	// SQLite caps bound variables at 32766 per statement.
	const rows = 33000
	session, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range rows {
		v := float64(i)
		obs := domain.Observation{
			PhenomenonTime: domain.Instant(base.Add(time.Duration(i) * time.Second)),
			DatasetID:      fx.Dataset.ID,
			Payload:        domain.Payload{Kind: domain.KindQuantity, Quantity: &v},
		}
		if i == 0 || i == rows-1 {
			obs.Parameters = []domain.Parameter{{Name: "depth", Value: domain.QuantityValue{Value: v, Unit: "m"}}}
		}
		if err := session.SaveObservation(ctx, &obs); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	if err := session.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	read, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	crit := domain.Criteria{}.Where(domain.Eq(domain.FieldDatasetID, fx.Dataset.ID)).OrderBy(domain.DefaultSeriesOrder...)
	cursor := streaming.NewCursor(&streaming.SessionFetcher{Session: read, Criteria: crit}, streaming.Options{SeriesID: fx.Dataset.ID})
	var (
		n      int
		params int
	)
	for {
		obs, ok, err := cursor.NextRecord(ctx)
		if err != nil {
			t.Fatalf("record %d: %v", n, err)
		}
		if !ok {
			break
		}
		if *obs.Payload.Quantity != float64(n) {
			t.Fatalf("record %d out of order: %v", n, *obs.Payload.Quantity)
		}
		params += len(obs.Parameters)
		n++
	}
	if n != rows || params != 2 {
		t.Fatalf("expected %d records with 2 parameters, got %d with %d", rows, n, params)
	}
	if st := cursor.Stats(); st.Fetches != 1 || !st.Released {
		t.Fatalf("expected one fetch and a released session, got %+v", st)
	}
}

func TestDSNEnablesWAL(t *testing.T) {
	got := dsn("/tmp/x.db")
	for _, want := range []string{"file:/tmp/x.db?", "journal_mode%28WAL%29", "busy_timeout%285000%29"} {
		if !strings.Contains(got, want) {
			t.Fatalf("dsn %q missing %q", got, want)
		}
	}
}
