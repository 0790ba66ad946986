// Package memory provides an in-memory storage gateway used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"obsstore/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.Gateway  = (*Store)(nil)
	_ domain.Session  = (*session)(nil)
	_ domain.Registry = (*session)(nil)
)

// ErrSessionDone is returned when a finished session is used.
var ErrSessionDone = errors.New("memory: session already finished")

// Store keeps all entities in maps. Sessions work on a clone of the state
// taken at Begin; Commit swaps the clone in, so the last committer wins.
type Store struct {
	mu    sync.RWMutex
	state memoryState
}

type memoryState struct {
	seq          int64
	features     map[int64]domain.Feature
	procedures   map[int64]domain.Procedure
	phenomena    map[int64]domain.Phenomenon
	offerings    map[int64]domain.Offering
	units        map[int64]domain.Unit
	codespaces   map[int64]domain.Codespace
	datasets     map[int64]domain.Dataset
	observations map[int64]domain.Observation
}

func newMemoryState() memoryState {
	return memoryState{
		features:     make(map[int64]domain.Feature),
		procedures:   make(map[int64]domain.Procedure),
		phenomena:    make(map[int64]domain.Phenomenon),
		offerings:    make(map[int64]domain.Offering),
		units:        make(map[int64]domain.Unit),
		codespaces:   make(map[int64]domain.Codespace),
		datasets:     make(map[int64]domain.Dataset),
		observations: make(map[int64]domain.Observation),
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	cloned.seq = s.seq
	for k, v := range s.features {
		cloned.features[k] = cloneFeature(v)
	}
	for k, v := range s.procedures {
		cloned.procedures[k] = v
	}
	for k, v := range s.phenomena {
		cloned.phenomena[k] = v
	}
	for k, v := range s.offerings {
		cloned.offerings[k] = v
	}
	for k, v := range s.units {
		cloned.units[k] = v
	}
	for k, v := range s.codespaces {
		cloned.codespaces[k] = v
	}
	for k, v := range s.datasets {
		cloned.datasets[k] = cloneDataset(v)
	}
	for k, v := range s.observations {
		cloned.observations[k] = v.Clone()
	}
	return cloned
}

func (s *memoryState) nextID() int64 {
	s.seq++
	return s.seq
}

func cloneFeature(f domain.Feature) domain.Feature {
	if f.Geometry != nil {
		g := f.Geometry.Clone()
		f.Geometry = &g
	}
	return f
}

func cloneDataset(d domain.Dataset) domain.Dataset {
	if d.Feature != nil {
		f := cloneFeature(*d.Feature)
		d.Feature = &f
	}
	if d.FirstTime != nil {
		t := *d.FirstTime
		d.FirstTime = &t
	}
	if d.LastTime != nil {
		t := *d.LastTime
		d.LastTime = &t
	}
	return d
}

// NewStore constructs an empty in-memory gateway.
func NewStore() *Store {
	return &Store{state: newMemoryState()}
}

// Begin opens a session over a snapshot of the current state.
func (s *Store) Begin(_ context.Context) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &session{store: s, state: s.state.clone()}, nil
}

// Close implements domain.Gateway.
func (s *Store) Close() error { return nil }

// ObservationCount returns the number of committed observation records.
func (s *Store) ObservationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.observations)
}

type session struct {
	store   *Store
	state   memoryState
	done    bool
	flushes int
	evicted int
}

func (s *session) Registry() domain.Registry { return s }

func (s *session) check() error {
	if s.done {
		return ErrSessionDone
	}
	return nil
}

func (s *session) SaveObservation(_ context.Context, obs *domain.Observation) error {
	if err := s.check(); err != nil {
		return err
	}
	if obs == nil {
		return errors.New("memory: nil observation")
	}
	if err := obs.Payload.Validate(); err != nil {
		return fmt.Errorf("save observation: %w", err)
	}
	if _, ok := s.state.datasets[obs.DatasetID]; !ok {
		return &domain.NotFoundError{Entity: "dataset", Key: fmt.Sprint(obs.DatasetID)}
	}
	if obs.ID == 0 {
		obs.ID = s.state.nextID()
	}
	for _, childID := range obs.ChildIDs {
		child, ok := s.state.observations[childID]
		if !ok {
			return &domain.NotFoundError{Entity: "observation", Key: fmt.Sprint(childID)}
		}
		parentID := obs.ID
		child.ParentID = &parentID
		s.state.observations[childID] = child
	}
	s.state.observations[obs.ID] = obs.Clone()
	return nil
}

func (s *session) FindObservations(_ context.Context, criteria domain.Criteria) ([]domain.Observation, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []domain.Observation
	for _, obs := range s.state.observations {
		ok, err := matchAll(obs, criteria.Predicates)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, obs.Clone())
		}
	}
	orders := criteria.Order
	if len(orders) == 0 {
		orders = []domain.Order{{Field: domain.FieldID}}
	}
	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range orders {
			a, _ := domain.FieldValue(out[i], o.Field)
			b, _ := domain.FieldValue(out[j], o.Field)
			c, err := compare(a, b)
			if err != nil {
				sortErr = err
				return false
			}
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	if sortErr != nil {
		return nil, sortErr
	}
	if criteria.Offset > 0 {
		if criteria.Offset >= len(out) {
			return nil, nil
		}
		out = out[criteria.Offset:]
	}
	if criteria.Limit > 0 && criteria.Limit < len(out) {
		out = out[:criteria.Limit]
	}
	return out, nil
}

func (s *session) Flush(_ context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	s.flushes++
	return nil
}

func (s *session) Evict(domain.Observation) { s.evicted++ }

func (s *session) Commit(_ context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	s.done = true
	s.store.mu.Lock()
	s.store.state = s.state
	s.store.mu.Unlock()
	return nil
}

func (s *session) Rollback() error {
	if err := s.check(); err != nil {
		return err
	}
	s.done = true
	s.state = memoryState{}
	return nil
}

func (s *session) Close() error {
	if s.done {
		return nil
	}
	return s.Rollback()
}
