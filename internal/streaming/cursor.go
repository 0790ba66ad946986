// Package streaming pages stored series values through bounded fetches and
// exposes them as one forward-only sequence.
package streaming

import (
	"context"
	"fmt"
	"iter"

	"obsstore/pkg/domain"
)

// State is the paging state of a Cursor.
type State int

// Cursor states. A cursor only ever moves forward through them.
const (
	StateEmpty State = iota
	StateInBatch
	StateLastPageShort
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateInBatch:
		return "in_batch"
	case StateLastPageShort:
		return "last_page_short"
	case StateExhausted:
		return "exhausted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Fetcher is the narrow read collaborator of a Cursor. A limit of zero asks
// for every remaining row.
type Fetcher interface {
	Fetch(ctx context.Context, offset, limit int) ([]domain.Observation, error)
	Evict(obs domain.Observation)
	Release() error
}

// ValueFunc rebuilds the value of a fetched record.
type ValueFunc func(ctx context.Context, obs domain.Observation) (domain.Value, error)

// FetchObserver is notified after every backend fetch.
type FetchObserver interface {
	ObserveFetch(seriesID int64, rows int)
}

// Options configure a Cursor.
type Options struct {
	SeriesID int64
	// ChunkSize of zero or less disables chunking: one fetch covers the
	// whole result.
	ChunkSize int
	// MaxReturnedValues of zero or less disables the limit.
	MaxReturnedValues int
	// GuardUnchunked applies MaxReturnedValues to the single unchunked fetch.
	GuardUnchunked bool
	// Duplicated suppresses rows repeating the time key of an earlier row.
	Duplicated bool
	// Accept is the residual filter applied after the deleted check.
	Accept   func(domain.Observation) bool
	Value    ValueFunc
	Observer FetchObserver
}

// Stats reports cursor bookkeeping.
type Stats struct {
	State           State
	Fetches         int
	Offset          int
	Consumed        int
	ConsumedInChunk int
	Returned        int
	Discarded       int
	Released        bool
}

type cursorState struct {
	chunkSize       int
	offset          int
	consumedInChunk int
	fetches         int
	consumed        int
	returned        int
	discarded       int
	state           State
}

type timeKey struct {
	start, end, result int64
}

// Cursor is a lazy forward iterator over one series. It is not safe for
// concurrent use.
type Cursor struct {
	fetcher  Fetcher
	opts     Options
	st       cursorState
	batch    []domain.Observation
	pos      int
	pending  *domain.Observation
	released bool
	err      error

	dupStart int64
	seen     map[timeKey]struct{}
}

// NewCursor creates a cursor in the Empty state. No fetch happens until the
// first HasNext, Next or NextRecord call.
func NewCursor(fetcher Fetcher, opts Options) *Cursor {
	if opts.Value == nil {
		opts.Value = func(_ context.Context, obs domain.Observation) (domain.Value, error) {
			return domain.ValueOf(obs)
		}
	}
	return &Cursor{
		fetcher: fetcher,
		opts:    opts,
		st:      cursorState{chunkSize: opts.ChunkSize, state: StateEmpty},
	}
}

// HasNext reports whether another value is available, fetching the next
// chunk when the current one is drained.
func (c *Cursor) HasNext(ctx context.Context) (bool, error) {
	return c.advance(ctx)
}

// Next returns the next phenomenon time and value. The boolean is false once
// the sequence is exhausted.
func (c *Cursor) Next(ctx context.Context) (domain.TimeValuePair, bool, error) {
	obs, ok, err := c.NextRecord(ctx)
	if !ok || err != nil {
		return domain.TimeValuePair{}, false, err
	}
	value, err := c.opts.Value(ctx, obs)
	if err != nil {
		err = fmt.Errorf("series %d observation %d: %w", c.opts.SeriesID, obs.ID, err)
		c.fail(err)
		return domain.TimeValuePair{}, false, err
	}
	return domain.TimeValuePair{Time: obs.PhenomenonTime, Value: value}, true, nil
}

// NextRecord returns the next stored record.
func (c *Cursor) NextRecord(ctx context.Context) (domain.Observation, bool, error) {
	ok, err := c.advance(ctx)
	if !ok || err != nil {
		return domain.Observation{}, false, err
	}
	obs := *c.pending
	c.pending = nil
	c.st.returned++
	return obs, true, nil
}

// Values ranges over the remaining values and closes the cursor when the loop
// ends, including on early break.
func (c *Cursor) Values(ctx context.Context) iter.Seq2[domain.TimeValuePair, error] {
	return func(yield func(domain.TimeValuePair, error) bool) {
		defer func() { _ = c.Close() }()
		for {
			pair, ok, err := c.Next(ctx)
			if err != nil {
				yield(domain.TimeValuePair{}, err)
				return
			}
			if !ok || !yield(pair, nil) {
				return
			}
		}
	}
}

// Close abandons the cursor. The fetcher is released exactly once across
// Close and natural exhaustion; repeated calls are no-ops.
func (c *Cursor) Close() error {
	c.st.state = StateExhausted
	c.batch, c.pending = nil, nil
	return c.release()
}

// Stats returns a snapshot of the paging bookkeeping.
func (c *Cursor) Stats() Stats {
	return Stats{
		State:           c.st.state,
		Fetches:         c.st.fetches,
		Offset:          c.st.offset,
		Consumed:        c.st.consumed,
		ConsumedInChunk: c.st.consumedInChunk,
		Returned:        c.st.returned,
		Discarded:       c.st.discarded,
		Released:        c.released,
	}
}

func (c *Cursor) advance(ctx context.Context) (bool, error) {
	if c.pending != nil {
		return true, nil
	}
	if c.err != nil {
		return false, c.err
	}
	for c.st.state != StateExhausted {
		for c.pos < len(c.batch) {
			obs := c.batch[c.pos]
			c.pos++
			c.st.consumedInChunk++
			if !c.valid(obs) || c.duplicate(obs) {
				c.fetcher.Evict(obs)
				c.st.discarded++
				continue
			}
			c.pending = &obs
			return true, nil
		}
		if c.st.state == StateLastPageShort {
			c.st.state = StateExhausted
			c.batch = nil
			if err := c.release(); err != nil {
				c.err = err
				return false, err
			}
			return false, nil
		}
		if err := c.fetch(ctx); err != nil {
			c.fail(err)
			return false, err
		}
	}
	return false, nil
}

func (c *Cursor) fetch(ctx context.Context) error {
	chunked := c.st.chunkSize > 0
	limit := 0
	if chunked {
		limit = c.st.chunkSize
	}
	rows, err := c.fetcher.Fetch(ctx, c.st.offset, limit)
	c.st.fetches++
	if err != nil {
		return domain.WrapStorage(fmt.Sprintf("fetch series %d at offset %d", c.opts.SeriesID, c.st.offset), err)
	}
	if chunked {
		c.st.offset += c.st.chunkSize
	}
	c.st.consumed += len(rows)
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveFetch(c.opts.SeriesID, len(rows))
	}
	if maxValues := c.opts.MaxReturnedValues; maxValues > 0 && (chunked || c.opts.GuardUnchunked) && c.st.consumed > maxValues {
		return &domain.TooManyResultsError{SeriesID: c.opts.SeriesID, Limit: maxValues, Count: c.st.consumed}
	}
	c.batch, c.pos, c.st.consumedInChunk = rows, 0, 0
	if !chunked || len(rows) < c.st.chunkSize {
		c.st.state = StateLastPageShort
	} else {
		c.st.state = StateInBatch
	}
	return nil
}

func (c *Cursor) valid(obs domain.Observation) bool {
	if obs.Deleted {
		return false
	}
	return c.opts.Accept == nil || c.opts.Accept(obs)
}

func (c *Cursor) duplicate(obs domain.Observation) bool {
	if !c.opts.Duplicated {
		return false
	}
	key := timeKey{start: obs.PhenomenonTime.Start.UnixNano(), end: obs.PhenomenonTime.End.UnixNano()}
	if obs.ResultTime != nil {
		key.result = obs.ResultTime.UnixNano()
	}
	if c.seen == nil || key.start != c.dupStart {
		c.seen = make(map[timeKey]struct{})
		c.dupStart = key.start
	}
	if _, ok := c.seen[key]; ok {
		return true
	}
	c.seen[key] = struct{}{}
	return false
}

// fail moves the cursor to Exhausted and releases the fetcher; err stays
// sticky for later calls.
func (c *Cursor) fail(err error) {
	c.err = err
	c.st.state = StateExhausted
	c.batch, c.pending = nil, nil
	_ = c.release()
}

func (c *Cursor) release() error {
	if c.released {
		return nil
	}
	c.released = true
	if err := c.fetcher.Release(); err != nil {
		return domain.WrapStorage(fmt.Sprintf("release series %d", c.opts.SeriesID), err)
	}
	return nil
}

// SessionFetcher reads a series through a storage session, paging the base
// criteria.
type SessionFetcher struct {
	Session  domain.Session
	Criteria domain.Criteria
}

// Fetch implements Fetcher.
func (f *SessionFetcher) Fetch(ctx context.Context, offset, limit int) ([]domain.Observation, error) {
	return f.Session.FindObservations(ctx, f.Criteria.Page(offset, limit))
}

// Evict implements Fetcher.
func (f *SessionFetcher) Evict(obs domain.Observation) { f.Session.Evict(obs) }

// Release implements Fetcher by closing the session.
func (f *SessionFetcher) Release() error { return f.Session.Close() }
