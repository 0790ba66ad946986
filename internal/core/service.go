package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"obsstore/internal/infra/persistence/memory"
	"obsstore/internal/streaming"
	"obsstore/pkg/domain"
)

// StreamingConfig bounds series reads.
type StreamingConfig struct {
	// ChunkSize is the default fetch size; zero or less reads a series in
	// one fetch.
	ChunkSize int
	// MaxReturnedValues aborts a read once exceeded; zero or less disables it.
	MaxReturnedValues int
	// GuardUnchunked applies MaxReturnedValues to unchunked reads as well.
	GuardUnchunked bool
}

// DefaultStreamingConfig returns the streaming defaults.
func DefaultStreamingConfig() StreamingConfig {
	return StreamingConfig{ChunkSize: 1000, MaxReturnedValues: 0, GuardUnchunked: true}
}

type serviceOptions struct {
	clock          Clock
	logger         Logger
	metrics        MetricsRecorder
	tracer         Tracer
	audit          AuditRecorder
	streaming      StreamingConfig
	swapper        domain.AxisSwapper
	updateGeometry bool
	newIdentifier  func() string
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:          ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:         noopLogger{},
		metrics:        noopMetricsRecorder{},
		tracer:         noopTracer{},
		audit:          noopAuditRecorder{},
		streaming:      DefaultStreamingConfig(),
		updateGeometry: true,
	}
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

// WithClock overrides the clock used for audit timestamps and durations.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder overrides the metrics sink. A recorder that also
// implements streaming.FetchObserver receives cursor fetches.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer overrides the tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithAuditRecorder overrides the audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithStreaming overrides the streaming bounds.
func WithStreaming(cfg StreamingConfig) ServiceOption {
	return func(o *serviceOptions) {
		o.streaming = cfg
	}
}

// WithAxisSwapper installs the CRS axis order collaborator.
func WithAxisSwapper(swapper domain.AxisSwapper) ServiceOption {
	return func(o *serviceOptions) {
		o.swapper = swapper
	}
}

// WithFeatureGeometryUpdate toggles setting missing feature geometries from
// sampling geometries.
func WithFeatureGeometryUpdate(enabled bool) ServiceOption {
	return func(o *serviceOptions) {
		o.updateGeometry = enabled
	}
}

// WithIdentifierGenerator overrides the generator of missing observation
// identifiers.
func WithIdentifierGenerator(gen func() string) ServiceOption {
	return func(o *serviceOptions) {
		o.newIdentifier = gen
	}
}

// Service persists observations into a storage gateway and streams series
// back out. Writes are serialised; reads run on their own sessions.
type Service struct {
	gateway domain.Gateway
	opts    serviceOptions
	writeMu sync.Mutex
}

// NewService constructs a service backed by the supplied gateway.
func NewService(gateway domain.Gateway, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Service{gateway: gateway, opts: o}
}

// NewInMemoryService creates a service over a fresh in-memory gateway.
func NewInMemoryService(opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(), opts...)
}

// Gateway returns the underlying storage gateway.
func (s *Service) Gateway() domain.Gateway {
	return s.gateway
}

// Close closes the gateway.
func (s *Service) Close() error {
	return s.gateway.Close()
}

func (s *Service) run(ctx context.Context, op string, audited bool, fn func(context.Context) (string, error)) error {
	ctx, span := s.opts.tracer.Start(ctx, op)
	started := s.opts.clock.Now()
	entityID, err := fn(ctx)
	duration := s.opts.clock.Now().Sub(started)
	span.End(err)
	s.opts.metrics.Observe(ctx, op, err == nil, duration)
	if audited {
		entry := AuditEntry{
			Operation:  op,
			Status:     AuditStatusSuccess,
			EntityID:   entityID,
			OccurredAt: started,
			Duration:   duration,
		}
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = err.Error()
		}
		s.opts.audit.Record(ctx, entry)
	}
	switch {
	case err == nil:
		s.opts.logger.Debug("operation completed", "operation", op, "entity", entityID, "duration", duration)
	case IsRejected(err):
		s.opts.logger.Warn("operation rejected", "operation", op, "kind", domain.KindOf(err), "error", err)
	default:
		s.opts.logger.Error("operation failed", "operation", op, "kind", domain.KindOf(err), "error", err)
	}
	return err
}

// withSession runs fn in a fresh session, committing on success and rolling
// back otherwise.
func (s *Service) withSession(ctx context.Context, fn func(domain.Session) error) (err error) {
	session, err := s.gateway.Begin(ctx)
	if err != nil {
		return domain.WrapStorage("begin", err)
	}
	defer func() {
		if err != nil {
			if rbErr := session.Close(); rbErr != nil {
				s.opts.logger.Warn("rollback failed", "error", rbErr)
			}
		}
	}()
	if err = fn(session); err != nil {
		return err
	}
	if err = session.Commit(ctx); err != nil {
		return domain.WrapStorage("commit", err)
	}
	return nil
}

// SensorRegistration declares a procedure and the datasets it produces.
type SensorRegistration struct {
	Procedure       domain.Procedure
	Phenomena       []domain.Phenomenon
	Offerings       []domain.Offering
	Feature         *domain.Feature
	ObservationType domain.ObservationType
	// Duplicated marks the datasets as carrying repeated observations that
	// streaming suppresses.
	Duplicated bool
}

// RegisterSensor inserts the procedure, its observed properties and
// offerings, and returns one dataset per offering and observed property.
func (s *Service) RegisterSensor(ctx context.Context, reg SensorRegistration) ([]domain.Dataset, error) {
	if reg.Procedure.Identifier == "" {
		return nil, errors.New("register sensor: procedure identifier required")
	}
	if len(reg.Phenomena) == 0 || len(reg.Offerings) == 0 {
		return nil, errors.New("register sensor: at least one observed property and offering required")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var out []domain.Dataset
	err := s.run(ctx, "register_sensor", true, func(ctx context.Context) (string, error) {
		out = nil
		return reg.Procedure.Identifier, s.withSession(ctx, func(session domain.Session) error {
			registry := session.Registry()
			procedure, err := registry.GetOrInsertProcedure(ctx, reg.Procedure)
			if err != nil {
				return domain.WrapStorage("insert procedure", err)
			}
			var feature *domain.Feature
			if reg.Feature != nil {
				f, err := registry.GetOrInsertFeature(ctx, *reg.Feature)
				if err != nil {
					return domain.WrapStorage("insert feature", err)
				}
				feature = &f
			}
			for _, o := range reg.Offerings {
				offering, err := registry.GetOrInsertOffering(ctx, o)
				if err != nil {
					return domain.WrapStorage("insert offering", err)
				}
				for _, p := range reg.Phenomena {
					phenomenon, err := registry.GetOrInsertPhenomenon(ctx, p)
					if err != nil {
						return domain.WrapStorage("insert observed property", err)
					}
					ds, err := registry.CheckOrInsertDataset(ctx, domain.Dataset{
						Procedure:       procedure,
						Phenomenon:      phenomenon,
						Offering:        offering,
						Feature:         feature,
						ObservationType: reg.ObservationType,
						Duplicated:      reg.Duplicated,
					})
					if err != nil {
						return domain.WrapStorage("insert dataset", err)
					}
					out = append(out, ds)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterPhenomenon inserts an observed property that complex fields and
// profile level values may refer to.
func (s *Service) RegisterPhenomenon(ctx context.Context, p domain.Phenomenon) (domain.Phenomenon, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var out domain.Phenomenon
	err := s.run(ctx, "register_phenomenon", true, func(ctx context.Context) (string, error) {
		return p.Identifier, s.withSession(ctx, func(session domain.Session) error {
			var err error
			out, err = session.Registry().GetOrInsertPhenomenon(ctx, p)
			return domain.WrapStorage("insert observed property", err)
		})
	})
	return out, err
}

// PersistRequest submits one observation to a set of datasets. The first
// dataset is the representative one.
type PersistRequest struct {
	Observation domain.ObservationSpec
	DatasetIDs  []int64
	// Feature overrides the feature of the datasets when its identifier is set.
	Feature *domain.Feature
}

// PersistResult is the stored top-level record and the offerings touched.
type PersistResult struct {
	Observation domain.Observation
	Offerings   []domain.Offering
}

// Persist writes one observation tree in a single session. Any failure
// rolls back every write of the call.
func (s *Service) Persist(ctx context.Context, req PersistRequest) (PersistResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	var result PersistResult
	err := s.run(ctx, "persist_observation", true, func(ctx context.Context) (string, error) {
		result = PersistResult{}
		err := s.withSession(ctx, func(session domain.Session) error {
			if len(req.DatasetIDs) == 0 {
				return errors.New("persist: no target dataset")
			}
			registry := session.Registry()
			datasets := make([]domain.Dataset, 0, len(req.DatasetIDs))
			for _, id := range req.DatasetIDs {
				ds, err := registry.DatasetByID(ctx, id)
				if err != nil {
					return domain.WrapStorage(fmt.Sprintf("load dataset %d", id), err)
				}
				datasets = append(datasets, ds)
			}
			var feature *domain.Feature
			if req.Feature != nil && req.Feature.Identifier != "" {
				f, err := registry.GetOrInsertFeature(ctx, *req.Feature)
				if err != nil {
					return domain.WrapStorage("insert feature", err)
				}
				feature = &f
			}
			offerings := NewOfferingSet()
			persister := NewPersister(session, PersisterConfig{
				AxisSwapper:           s.opts.swapper,
				UpdateFeatureGeometry: s.opts.updateGeometry,
				Logger:                s.opts.logger,
				NewIdentifier:         s.opts.newIdentifier,
			})
			obs, err := persister.Persist(ctx, req.Observation, datasets, feature, offerings)
			if err != nil {
				return err
			}
			result = PersistResult{Observation: obs, Offerings: offerings.List()}
			return nil
		})
		return result.Observation.Identifier, err
	})
	if err != nil {
		return PersistResult{}, err
	}
	return result, nil
}

// Dataset loads a dataset by ID.
func (s *Service) Dataset(ctx context.Context, id int64) (domain.Dataset, error) {
	session, err := s.gateway.Begin(ctx)
	if err != nil {
		return domain.Dataset{}, domain.WrapStorage("begin", err)
	}
	defer session.Close()
	ds, err := session.Registry().DatasetByID(ctx, id)
	if err != nil {
		return domain.Dataset{}, domain.WrapStorage(fmt.Sprintf("load dataset %d", id), err)
	}
	return ds, nil
}

// StreamFilter narrows a series read. From and To bound the phenomenon time
// inclusively; Accept is applied to every fetched row.
type StreamFilter struct {
	From   *time.Time
	To     *time.Time
	Accept func(domain.Observation) bool
}

// OpenStream opens a lazy cursor over the series. chunkSize is used as
// given; pass StreamingDefaults().ChunkSize for the configured default.
// The cursor owns its session and releases it when exhausted, on error or
// on Close.
func (s *Service) OpenStream(ctx context.Context, seriesID int64, filter StreamFilter, chunkSize int) (*streaming.Cursor, error) {
	var cursor *streaming.Cursor
	err := s.run(ctx, "open_stream", false, func(ctx context.Context) (string, error) {
		session, err := s.gateway.Begin(ctx)
		if err != nil {
			return "", domain.WrapStorage("begin", err)
		}
		ds, err := session.Registry().DatasetByID(ctx, seriesID)
		if err != nil {
			_ = session.Close()
			return "", domain.WrapStorage(fmt.Sprintf("load series %d", seriesID), err)
		}
		crit := domain.Criteria{}.Where(
			domain.Eq(domain.FieldDatasetID, seriesID),
			domain.Eq(domain.FieldDeleted, false),
		)
		if !ds.Hidden {
			crit = crit.Where(domain.Eq(domain.FieldChild, false))
		}
		if filter.From != nil {
			crit = crit.Where(domain.Ge(domain.FieldPhenomenonTimeEnd, *filter.From))
		}
		if filter.To != nil {
			crit = crit.Where(domain.Le(domain.FieldPhenomenonTimeStart, *filter.To))
		}
		crit = crit.OrderBy(domain.DefaultSeriesOrder...)
		observer, _ := s.opts.metrics.(streaming.FetchObserver)
		cursor = streaming.NewCursor(&streaming.SessionFetcher{Session: session, Criteria: crit}, streaming.Options{
			SeriesID:          seriesID,
			ChunkSize:         chunkSize,
			MaxReturnedValues: s.opts.streaming.MaxReturnedValues,
			GuardUnchunked:    s.opts.streaming.GuardUnchunked,
			Duplicated:        ds.Duplicated,
			Accept:            filter.Accept,
			Value: func(ctx context.Context, obs domain.Observation) (domain.Value, error) {
				return readValue(ctx, session, obs)
			},
			Observer: observer,
		})
		return strconv.FormatInt(seriesID, 10), nil
	})
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

// StreamingDefaults returns the streaming configuration of the service.
func (s *Service) StreamingDefaults() StreamingConfig {
	return s.opts.streaming
}

// ReadValue rebuilds the full value of a stored record, including the
// children of complex and profile parents.
func (s *Service) ReadValue(ctx context.Context, id int64) (domain.Observation, domain.Value, error) {
	var (
		obs   domain.Observation
		value domain.Value
	)
	err := s.run(ctx, "read_observation", false, func(ctx context.Context) (string, error) {
		session, err := s.gateway.Begin(ctx)
		if err != nil {
			return "", domain.WrapStorage("begin", err)
		}
		defer session.Close()
		found, err := session.FindObservations(ctx, domain.Criteria{}.Where(domain.Eq(domain.FieldID, id)).Page(0, 1))
		if err != nil {
			return "", domain.WrapStorage("find observation", err)
		}
		if len(found) == 0 {
			return "", &domain.NotFoundError{Entity: "observation", Key: strconv.FormatInt(id, 10)}
		}
		obs = found[0]
		value, err = readValue(ctx, session, obs)
		return obs.Identifier, err
	})
	if err != nil {
		return domain.Observation{}, nil, err
	}
	return obs, value, nil
}
