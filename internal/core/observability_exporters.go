package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"obsstore/pkg/domain"
)

var expvarSeq atomic.Uint64

// ExpvarMetricsRecorder publishes operation outcomes and per-series cursor
// fetches as nested expvar maps:
//
//	{"operations": {op: {"success", "error", "duration_ms"}},
//	 "series": {id: {"fetches", "rows"}}}
type ExpvarMetricsRecorder struct {
	name       string
	mu         sync.Mutex
	root       *expvar.Map
	operations *expvar.Map
	series     *expvar.Map
}

// OperationStats aggregates one service operation.
type OperationStats struct {
	Success    int64   `json:"success"`
	Error      int64   `json:"error"`
	DurationMS float64 `json:"duration_ms"`
}

// SeriesStats aggregates the cursor fetches of one series.
type SeriesStats struct {
	Fetches int64 `json:"fetches"`
	Rows    int64 `json:"rows"`
}

// ExpvarMetricsSnapshot is a copy of the published maps.
type ExpvarMetricsSnapshot struct {
	Operations map[string]OperationStats `json:"operations"`
	Series     map[string]SeriesStats    `json:"series"`
}

// NewExpvarMetricsRecorder publishes a recorder under name, or under a
// generated obsstore_metrics_N name when name is empty.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("obsstore_metrics_%d", expvarSeq.Add(1))
	}
	r := &ExpvarMetricsRecorder{
		name:       name,
		root:       new(expvar.Map).Init(),
		operations: new(expvar.Map).Init(),
		series:     new(expvar.Map).Init(),
	}
	r.root.Set("operations", r.operations)
	r.root.Set("series", r.series)
	expvar.Publish(name, r.root)
	return r
}

// Name returns the expvar name of the recorder.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

func (r *ExpvarMetricsRecorder) child(parent *expvar.Map, key string) *expvar.Map {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := parent.Get(key).(*expvar.Map); ok {
		return m
	}
	m := new(expvar.Map).Init()
	parent.Set(key, m)
	return m
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	m := r.child(r.operations, operation)
	if success {
		m.Add("success", 1)
	} else {
		m.Add("error", 1)
	}
	m.AddFloat("duration_ms", float64(duration)/float64(time.Millisecond))
}

// ObserveFetch implements streaming.FetchObserver.
func (r *ExpvarMetricsRecorder) ObserveFetch(seriesID int64, rows int) {
	m := r.child(r.series, strconv.FormatInt(seriesID, 10))
	m.Add("fetches", 1)
	m.Add("rows", int64(rows))
}

// Snapshot decodes the published maps.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	snap := ExpvarMetricsSnapshot{
		Operations: make(map[string]OperationStats),
		Series:     make(map[string]SeriesStats),
	}
	// expvar renders maps as JSON objects.
	_ = json.Unmarshal([]byte(r.root.String()), &snap)
	return snap
}

// Totals sums fetches and rows over every series.
func (s ExpvarMetricsSnapshot) Totals() SeriesStats {
	var out SeriesStats
	for _, st := range s.Series {
		out.Fetches += st.Fetches
		out.Rows += st.Rows
	}
	return out
}

// TraceEntry is one finished span.
type TraceEntry struct {
	Seq        uint64    `json:"seq"`
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// JSONTraceTracer writes finished spans as JSON lines and keeps them for
// inspection.
type JSONTraceTracer struct {
	clock Clock
	seq   atomic.Uint64

	mu      sync.Mutex
	w       io.Writer
	entries []TraceEntry
}

// NewJSONTracer writes spans to w. A nil writer only retains them.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	return &JSONTraceTracer{w: w, clock: ClockFunc(nil)}
}

// WithClock replaces the span clock.
func (t *JSONTraceTracer) WithClock(c Clock) *JSONTraceTracer {
	if c != nil {
		t.clock = c
	}
	return t
}

// Entries returns the spans finished so far in completion order.
func (t *JSONTraceTracer) Entries() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEntry(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &traceSpan{tracer: t, entry: TraceEntry{Operation: operation, StartedAt: t.clock.Now()}}
}

func (t *JSONTraceTracer) finish(e TraceEntry) {
	e.Seq = t.seq.Add(1)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
	if t.w == nil {
		return
	}
	if line, err := json.Marshal(e); err == nil {
		_, _ = t.w.Write(append(line, '\n'))
	}
}

type traceSpan struct {
	tracer *JSONTraceTracer
	entry  TraceEntry
	once   sync.Once
}

// End finishes the span once; later calls are ignored.
func (s *traceSpan) End(err error) {
	s.once.Do(func() {
		e := s.entry
		e.DurationMS = float64(s.tracer.clock.Now().Sub(e.StartedAt)) / float64(time.Millisecond)
		e.Status = "success"
		if err != nil {
			e.Status = "error"
			e.Error = err.Error()
			e.ErrorKind = string(domain.KindOf(err))
		}
		s.tracer.finish(e)
	})
}
