// Package archive exports stored series into blob storage. Export jobs are
// queued and run by a background worker, or run inline for one-shot use.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"obsstore/internal/blob"
	"obsstore/internal/core"
	"obsstore/internal/streaming"
	"obsstore/pkg/domain"
)

// Status describes the lifecycle stage of an export job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Artifact is one stored export object.
type Artifact struct {
	Key             string    `json:"key"`
	Format          Format    `json:"format"`
	ContentType     string    `json:"content_type"`
	ContentEncoding string    `json:"content_encoding,omitempty"`
	SizeBytes       int64     `json:"size_bytes"`
	Rows            int       `json:"rows"`
	URL             string    `json:"url,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Request describes one series export.
type Request struct {
	SeriesID int64
	From     *time.Time
	To       *time.Time
	// Formats defaults to NDJSON. Duplicates are ignored.
	Formats []Format
	// Compress frames every artifact with snappy.
	Compress    bool
	RequestedBy string
}

// Job tracks an export request and its artifacts.
type Job struct {
	ID          string     `json:"id"`
	SeriesID    int64      `json:"series_id"`
	Formats     []Format   `json:"formats"`
	Compress    bool       `json:"compress"`
	RequestedBy string     `json:"requested_by,omitempty"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Done reports whether the job reached a terminal status.
func (j Job) Done() bool {
	return j.Status == StatusSucceeded || j.Status == StatusFailed
}

func (j Job) copy() Job {
	out := j
	out.Formats = append([]Format(nil), j.Formats...)
	out.Artifacts = append([]Artifact(nil), j.Artifacts...)
	return out
}

// Source is the read side of the store an export streams from.
// *core.Service implements it.
type Source interface {
	Dataset(ctx context.Context, id int64) (domain.Dataset, error)
	OpenStream(ctx context.Context, seriesID int64, filter core.StreamFilter, chunkSize int) (*streaming.Cursor, error)
	StreamingDefaults() core.StreamingConfig
}

var _ Source = (*core.Service)(nil)

const defaultQueueSize = 32

type options struct {
	logger    core.Logger
	clock     core.Clock
	audit     core.AuditRecorder
	queueSize int
	prefix    string
	newID     func() string
}

// Option configures a Worker.
type Option func(*options)

// WithLogger sets the worker logger.
func WithLogger(l core.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the job timestamps clock.
func WithClock(c core.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithAuditRecorder records an entry per job transition.
func WithAuditRecorder(r core.AuditRecorder) Option {
	return func(o *options) {
		if r != nil {
			o.audit = r
		}
	}
}

// WithQueueSize bounds the number of queued jobs.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithKeyPrefix prepends prefix to every artifact key.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithIDGenerator replaces the job id generator.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) {
		if gen != nil {
			o.newID = gen
		}
	}
}

type entry struct {
	job  Job
	done chan struct{}
}

type task struct {
	id  string
	req Request
}

// Worker executes series exports asynchronously.
type Worker struct {
	source Source
	store  blob.Store
	opts   options

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs an export worker writing to store.
func NewWorker(source Source, store blob.Store, opts ...Option) *Worker {
	o := options{
		logger:    core.NopLogger(),
		clock:     core.ClockFunc(nil),
		audit:     nopAudit{},
		queueSize: defaultQueueSize,
		newID:     func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		opts:   o,
		queue:  make(chan task, o.queueSize),
		jobs:   make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
	}
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, core.AuditEntry) {}

// Start begins processing queued jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the running job.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			_ = w.process(w.ctx, t)
		}
	}
}

// Enqueue validates req and schedules it. The returned job is queued.
func (w *Worker) Enqueue(ctx context.Context, req Request) (Job, error) {
	formats, err := w.prepare(ctx, req)
	if err != nil {
		return Job{}, err
	}
	req.Formats = formats
	e := w.register(req)
	w.mu.RLock()
	queued := e.job.copy()
	w.mu.RUnlock()
	select {
	case w.queue <- task{id: queued.ID, req: req}:
	default:
		err := errors.New("export queue full")
		w.finish(queued.ID, nil, err)
		return Job{}, err
	}
	return queued, nil
}

// Run exports req inline and returns the finished job.
func (w *Worker) Run(ctx context.Context, req Request) (Job, error) {
	formats, err := w.prepare(ctx, req)
	if err != nil {
		return Job{}, err
	}
	req.Formats = formats
	e := w.register(req)
	err = w.process(ctx, task{id: e.job.ID, req: req})
	job, _ := w.Job(e.job.ID)
	return job, err
}

// Job returns a snapshot of the job.
func (w *Worker) Job(id string) (Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	return e.job.copy(), true
}

// Wait blocks until the job is done or ctx ends.
func (w *Worker) Wait(ctx context.Context, id string) (Job, error) {
	w.mu.RLock()
	e, ok := w.jobs[id]
	w.mu.RUnlock()
	if !ok {
		return Job{}, fmt.Errorf("export job %s not found", id)
	}
	select {
	case <-e.done:
		job, _ := w.Job(id)
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (w *Worker) prepare(ctx context.Context, req Request) ([]Format, error) {
	if w.store == nil {
		return nil, errors.New("export store not configured")
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return nil, fmt.Errorf("export window ends before it starts")
	}
	formats := req.Formats
	if len(formats) == 0 {
		formats = []Format{FormatNDJSON}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{}, len(formats))
	for _, f := range formats {
		if _, dup := seen[f]; dup {
			continue
		}
		if _, err := rendererFor(f); err != nil {
			return nil, err
		}
		seen[f] = struct{}{}
		uniq = append(uniq, f)
	}
	if _, err := w.source.Dataset(ctx, req.SeriesID); err != nil {
		return nil, fmt.Errorf("export series %d: %w", req.SeriesID, err)
	}
	return uniq, nil
}

func (w *Worker) register(req Request) *entry {
	now := w.opts.clock.Now()
	e := &entry{
		job: Job{
			ID:          w.opts.newID(),
			SeriesID:    req.SeriesID,
			Formats:     req.Formats,
			Compress:    req.Compress,
			RequestedBy: req.RequestedBy,
			Status:      StatusQueued,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		done: make(chan struct{}),
	}
	w.mu.Lock()
	w.jobs[e.job.ID] = e
	w.mu.Unlock()
	w.record(e.job.ID, StatusQueued, nil)
	return e
}

func (w *Worker) process(ctx context.Context, t task) error {
	w.setStatus(t.id, StatusRunning)
	artifacts, err := w.export(ctx, t.id, t.req)
	w.finish(t.id, artifacts, err)
	return err
}

func (w *Worker) export(ctx context.Context, id string, req Request) ([]Artifact, error) {
	ds, err := w.source.Dataset(ctx, req.SeriesID)
	if err != nil {
		return nil, fmt.Errorf("load series %d: %w", req.SeriesID, err)
	}
	cursor, err := w.source.OpenStream(ctx, req.SeriesID, core.StreamFilter{From: req.From, To: req.To},
		w.source.StreamingDefaults().ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("open series %d: %w", req.SeriesID, err)
	}
	outputs := make([]*output, 0, len(req.Formats))
	for _, f := range req.Formats {
		out, err := newOutput(f, ds, req.Compress)
		if err != nil {
			_ = cursor.Close()
			return nil, err
		}
		outputs = append(outputs, out)
	}
	for pair, err := range cursor.Values(ctx) {
		if err != nil {
			return nil, fmt.Errorf("stream series %d: %w", req.SeriesID, err)
		}
		for _, out := range outputs {
			if err := out.write(pair); err != nil {
				return nil, fmt.Errorf("render %s: %w", out.format, err)
			}
		}
	}
	artifacts := make([]Artifact, 0, len(outputs))
	for _, out := range outputs {
		payload, err := out.close()
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", out.format, err)
		}
		key := w.key(ds.ID, id, out)
		info, err := w.store.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
			ContentType:     out.contentType,
			ContentEncoding: out.contentEncoding,
			Metadata: map[string]string{
				"series":     strconv.FormatInt(ds.ID, 10),
				"procedure":  ds.Procedure.Identifier,
				"phenomenon": ds.Phenomenon.Identifier,
				"offering":   ds.Offering.Identifier,
				"rows":       strconv.Itoa(out.rows),
				"job":        id,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("store artifact %s: %w", key, err)
		}
		url := info.URL
		if url == "" {
			if signed, err := w.store.PresignURL(ctx, key, blob.SignedURLOptions{}); err == nil {
				url = signed
			}
		}
		artifacts = append(artifacts, Artifact{
			Key:             key,
			Format:          out.format,
			ContentType:     out.contentType,
			ContentEncoding: out.contentEncoding,
			SizeBytes:       info.Size,
			Rows:            out.rows,
			URL:             url,
			CreatedAt:       w.opts.clock.Now(),
		})
	}
	return artifacts, nil
}

func (w *Worker) key(seriesID int64, jobID string, out *output) string {
	var b strings.Builder
	b.WriteString(w.opts.prefix)
	fmt.Fprintf(&b, "series/%d/%s.%s", seriesID, jobID, out.extension)
	return b.String()
}

func (w *Worker) setStatus(id string, status Status) {
	w.mu.Lock()
	if e, ok := w.jobs[id]; ok {
		e.job.Status = status
		e.job.UpdatedAt = w.opts.clock.Now()
	}
	w.mu.Unlock()
	w.record(id, status, nil)
}

func (w *Worker) finish(id string, artifacts []Artifact, err error) {
	now := w.opts.clock.Now()
	status := StatusSucceeded
	if err != nil {
		status = StatusFailed
	}
	w.mu.Lock()
	e, ok := w.jobs[id]
	if ok {
		e.job.Status = status
		e.job.Artifacts = artifacts
		e.job.UpdatedAt = now
		e.job.CompletedAt = &now
		if err != nil {
			e.job.Error = err.Error()
		}
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	close(e.done)
	w.record(id, status, err)
	if err != nil {
		w.opts.logger.Error("export failed", "job", id, "error", err)
		return
	}
	w.opts.logger.Info("export completed", "job", id, "artifacts", len(artifacts))
}

func (w *Worker) record(id string, status Status, err error) {
	entry := core.AuditEntry{
		Operation:  "archive_export_" + string(status),
		Status:     core.AuditStatusSuccess,
		EntityID:   id,
		OccurredAt: w.opts.clock.Now(),
	}
	if err != nil {
		entry.Status = core.AuditStatusError
		entry.Error = err.Error()
	}
	w.opts.audit.Record(w.ctx, entry)
}
