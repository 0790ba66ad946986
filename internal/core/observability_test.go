package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"obsstore/internal/streaming"
	"obsstore/pkg/domain"
)

var (
	_ MetricsRecorder         = (*ExpvarMetricsRecorder)(nil)
	_ MetricsRecorder         = (*PrometheusMetricsRecorder)(nil)
	_ streaming.FetchObserver = (*ExpvarMetricsRecorder)(nil)
	_ streaming.FetchObserver = (*PrometheusMetricsRecorder)(nil)
	_ Tracer                  = (*JSONTraceTracer)(nil)
)

func TestNoopLogger(_ *testing.T) {
	logger := noopLogger{}
	logger.Debug("test debug message", "key", "value")
	logger.Info("test info message", "key", "value")
	logger.Warn("test warn message", "key", "value")
	logger.Error("test error message", "key", "value")
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	logger.Debug("persisted", "id", 7)
	logger.Warn("rejected", "kind", domain.ErrorKindDuplicateObservation)
	out := buf.String()
	for _, want := range []string{"level=DEBUG", "id=7", "level=WARN", "kind=duplicate_observation"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
	if NewSlogLogger(nil) == nil {
		t.Fatalf("expected default slog logger")
	}
}

func TestClockFuncNilUsesUTC(t *testing.T) {
	var clock ClockFunc
	if now := clock.Now(); now.Location() != time.UTC {
		t.Fatalf("expected UTC, got %v", now.Location())
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.Observe(context.Background(), "persist_observation", true, 2*time.Millisecond)
	rec.Observe(context.Background(), "persist_observation", false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)
	rec.ObserveFetch(3, 10)
	rec.ObserveFetch(3, 4)
	rec.ObserveFetch(8, 1)

	snap := rec.Snapshot()
	op := snap.Operations["persist_observation"]
	if op.Success != 1 || op.Error != 1 || op.DurationMS != 3 {
		t.Fatalf("unexpected operation stats %+v", op)
	}
	if len(snap.Operations) != 1 {
		t.Fatalf("empty operations must be ignored, got %+v", snap.Operations)
	}
	if got := snap.Series["3"]; got != (SeriesStats{Fetches: 2, Rows: 14}) {
		t.Fatalf("unexpected series 3 stats %+v", got)
	}
	if got := snap.Totals(); got != (SeriesStats{Fetches: 3, Rows: 15}) {
		t.Fatalf("unexpected totals %+v", got)
	}

	published := expvar.Get(rec.Name())
	if published == nil {
		t.Fatalf("expected %s to be published", rec.Name())
	}
	var decoded ExpvarMetricsSnapshot
	if err := json.Unmarshal([]byte(published.String()), &decoded); err != nil {
		t.Fatalf("decode expvar: %v", err)
	}
	if decoded.Series["8"].Rows != 1 {
		t.Fatalf("expected published series rows, got %+v", decoded)
	}
	if other := NewExpvarMetricsRecorder(""); other.Name() == rec.Name() {
		t.Fatalf("generated names must be unique")
	}
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tracer := NewJSONTracer(&buf).WithClock(ClockFunc(func() time.Time {
		now = now.Add(5 * time.Millisecond)
		return now
	}))
	_, span := tracer.Start(context.Background(), "persist_observation")
	span.End(&domain.DuplicateObservationError{Identifier: "x"})
	span.End(nil)
	_, span = tracer.Start(context.Background(), "open_stream")
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected two spans, got %d", len(entries))
	}
	if e := entries[0]; e.Seq != 1 || e.Status != "error" || e.ErrorKind != string(domain.ErrorKindDuplicateObservation) || e.DurationMS != 5 {
		t.Fatalf("unexpected error span %+v", e)
	}
	if e := entries[1]; e.Seq != 2 || e.Status != "success" || e.Error != "" {
		t.Fatalf("unexpected success span %+v", e)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], `"operation":"persist_observation"`) {
		t.Fatalf("unexpected encoded spans %q", buf.String())
	}

	silent := NewJSONTracer(nil)
	_, span = silent.Start(context.Background(), "noop")
	span.End(errors.New("boom"))
	if len(silent.Entries()) != 1 {
		t.Fatalf("expected retained span without writer")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	rec, err := NewPrometheusMetricsRecorder(nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	svc := NewInMemoryService(WithMetricsRecorder(rec))
	ds := registerSeries(t, svc, "urn:property:temperature", domain.ObservationTypeMeasurement)
	persist(t, svc, ds, t0, domain.QuantityValue{Value: 1})
	persist(t, svc, ds, at(1), domain.QuantityValue{Value: 2})
	if got := testutil.ToFloat64(rec.operations.WithLabelValues("persist_observation", "success")); got != 2 {
		t.Fatalf("expected two successful persists, got %v", got)
	}

	cursor, err := svc.OpenStream(context.Background(), ds.ID, StreamFilter{}, 1)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	if _, err := drain(t, cursor); err != nil {
		t.Fatalf("drain: %v", err)
	}
	series := strconv.FormatInt(ds.ID, 10)
	if got := testutil.ToFloat64(rec.rows.WithLabelValues(series)); got != 2 {
		t.Fatalf("expected two streamed rows, got %v", got)
	}
	if got := testutil.ToFloat64(rec.fetches.WithLabelValues(series)); got != 3 {
		t.Fatalf("expected three fetches, got %v", got)
	}
	if n := testutil.CollectAndCount(rec.durations); n != 3 {
		t.Fatalf("expected histograms for three operations, got %d", n)
	}

	if _, err := NewPrometheusMetricsRecorder(rec.Registry()); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if _, err := NewPrometheusMetricsRecorder(prometheus.NewRegistry()); err != nil {
		t.Fatalf("fresh registry: %v", err)
	}
}
