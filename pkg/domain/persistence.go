package domain

import (
	"context"
	"time"
)

// Gateway is the storage collaborator. Every unit of work runs inside a
// Session obtained from Begin.
type Gateway interface {
	Begin(ctx context.Context) (Session, error)
	Close() error
}

// Session is one transactional scope. Sessions are not safe for concurrent
// use; callers serialise access.
type Session interface {
	// Registry exposes the context lookup services bound to this session.
	Registry() Registry
	// SaveObservation inserts the record and assigns its ID. Saving a parent
	// whose ChildIDs are set links those children to it.
	SaveObservation(ctx context.Context, obs *Observation) error
	// FindObservations evaluates declarative criteria.
	FindObservations(ctx context.Context, criteria Criteria) ([]Observation, error)
	// Flush makes pending writes visible to subsequent reads of the session.
	Flush(ctx context.Context) error
	// Evict detaches a record the caller discarded.
	Evict(obs Observation)
	Commit(ctx context.Context) error
	Rollback() error
	// Close releases the session, rolling back when it was not committed.
	// Calling Close after Commit or Rollback is a no-op.
	Close() error
}

// Registry resolves and registers the identity entities observations refer to.
type Registry interface {
	PhenomenonByIdentifier(ctx context.Context, identifier string) (Phenomenon, error)
	PhenomenonByID(ctx context.Context, id int64) (Phenomenon, error)
	GetOrInsertProcedure(ctx context.Context, p Procedure) (Procedure, error)
	GetOrInsertPhenomenon(ctx context.Context, p Phenomenon) (Phenomenon, error)
	GetOrInsertOffering(ctx context.Context, o Offering) (Offering, error)
	GetOrInsertFeature(ctx context.Context, f Feature) (Feature, error)
	GetOrInsertUnit(ctx context.Context, symbol string) (Unit, error)
	GetOrInsertCodespace(ctx context.Context, name string) (Codespace, error)
	// CheckOrInsertDataset returns the dataset matching the procedure,
	// phenomenon and offering IDs of d, inserting d when none exists. A
	// duplicated d marks an existing dataset duplicated; the flag is never
	// cleared.
	CheckOrInsertDataset(ctx context.Context, d Dataset) (Dataset, error)
	DatasetByID(ctx context.Context, id int64) (Dataset, error)
	// SetObservationType records the declared observation type of a dataset.
	SetObservationType(ctx context.Context, datasetID int64, t ObservationType) error
	// TouchDataset records that an observation of the feature was written to
	// the dataset, extending its time bounds.
	TouchDataset(ctx context.Context, datasetID, featureID int64, t TimePeriod) error
	// UpdateFeatureGeometry sets the geometry of a feature that has none.
	UpdateFeatureGeometry(ctx context.Context, featureID int64, g Geometry) error
}

// Field names understood by every gateway.
const (
	FieldID                  = "id"
	FieldIdentifier          = "identifier"
	FieldDatasetID           = "dataset_id"
	FieldFeatureID           = "feature_id"
	FieldPhenomenonTimeStart = "phenomenon_time_start"
	FieldPhenomenonTimeEnd   = "phenomenon_time_end"
	FieldResultTime          = "result_time"
	FieldParentID            = "parent_id"
	FieldParent              = "is_parent"
	FieldChild               = "is_child"
	FieldPosition            = "position"
	FieldDeleted             = "deleted"
)

// Op is a predicate operator.
type Op string

// Supported operators. OpIn expects []int64; OpNull expects a bool telling
// whether the field must be null.
const (
	OpEq   Op = "eq"
	OpNe   Op = "ne"
	OpLt   Op = "lt"
	OpLe   Op = "le"
	OpGt   Op = "gt"
	OpGe   Op = "ge"
	OpIn   Op = "in"
	OpNull Op = "null"
)

// Predicate restricts one field. Values are int64, string, bool or time.Time.
type Predicate struct {
	Field string
	Op    Op
	Value any
}

// Order sorts by one field.
type Order struct {
	Field string
	Desc  bool
}

// Criteria is a declarative observation query. A Limit of zero means no limit.
type Criteria struct {
	Predicates []Predicate
	Order      []Order
	Limit      int
	Offset     int
}

// Where returns a copy of c extended with the predicates.
func (c Criteria) Where(preds ...Predicate) Criteria {
	out := c
	out.Predicates = append(append([]Predicate(nil), c.Predicates...), preds...)
	return out
}

// OrderBy returns a copy of c sorted by the given fields.
func (c Criteria) OrderBy(orders ...Order) Criteria {
	out := c
	out.Order = append(append([]Order(nil), c.Order...), orders...)
	return out
}

// Page returns a copy of c restricted to one page.
func (c Criteria) Page(offset, limit int) Criteria {
	out := c
	out.Offset, out.Limit = offset, limit
	return out
}

func Eq(field string, v any) Predicate        { return Predicate{Field: field, Op: OpEq, Value: v} }
func Ne(field string, v any) Predicate        { return Predicate{Field: field, Op: OpNe, Value: v} }
func Lt(field string, v any) Predicate        { return Predicate{Field: field, Op: OpLt, Value: v} }
func Le(field string, v any) Predicate        { return Predicate{Field: field, Op: OpLe, Value: v} }
func Gt(field string, v any) Predicate        { return Predicate{Field: field, Op: OpGt, Value: v} }
func Ge(field string, v any) Predicate        { return Predicate{Field: field, Op: OpGe, Value: v} }
func In(field string, ids ...int64) Predicate { return Predicate{Field: field, Op: OpIn, Value: ids} }
func IsNull(field string) Predicate           { return Predicate{Field: field, Op: OpNull, Value: true} }
func NotNull(field string) Predicate          { return Predicate{Field: field, Op: OpNull, Value: false} }

// FieldValue returns the value of a named field of o. The second result is
// false for unknown fields; nil values denote null.
func FieldValue(o Observation, field string) (any, bool) {
	switch field {
	case FieldID:
		return o.ID, true
	case FieldIdentifier:
		if o.Identifier == "" {
			return nil, true
		}
		return o.Identifier, true
	case FieldDatasetID:
		return o.DatasetID, true
	case FieldFeatureID:
		return o.FeatureID, true
	case FieldPhenomenonTimeStart:
		return o.PhenomenonTime.Start, true
	case FieldPhenomenonTimeEnd:
		return o.PhenomenonTime.End, true
	case FieldResultTime:
		if o.ResultTime == nil {
			return nil, true
		}
		return *o.ResultTime, true
	case FieldParentID:
		if o.ParentID == nil {
			return nil, true
		}
		return *o.ParentID, true
	case FieldParent:
		return o.Parent, true
	case FieldChild:
		return o.Child, true
	case FieldPosition:
		return int64(o.Position), true
	case FieldDeleted:
		return o.Deleted, true
	}
	return nil, false
}

// DefaultSeriesOrder is the stable order of streamed series values.
var DefaultSeriesOrder = []Order{
	{Field: FieldPhenomenonTimeStart},
	{Field: FieldPhenomenonTimeEnd},
	{Field: FieldID},
}

// TimeBounds widens first/last by t.
func TimeBounds(first, last *time.Time, t TimePeriod) (*time.Time, *time.Time) {
	if first == nil || t.Start.Before(*first) {
		s := t.Start
		first = &s
	}
	if last == nil || t.End.After(*last) {
		e := t.End
		last = &e
	}
	return first, last
}
