package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"obsstore/pkg/domain"
)

// PersisterConfig tunes a Persister.
type PersisterConfig struct {
	// AxisSwapper adapts incoming sampling geometries to the datasource axis
	// order. Nil leaves geometries untouched.
	AxisSwapper domain.AxisSwapper
	// UpdateFeatureGeometry sets the sampling geometry on a feature that has
	// none when a top-level record is written.
	UpdateFeatureGeometry bool
	Logger                Logger
	// NewIdentifier generates the identifier of a top-level record submitted
	// without one. Defaults to UUIDv7.
	NewIdentifier func() string
}

// Persister writes observation value trees through one storage session.
// It issues writes incrementally; the caller owns commit and rollback.
type Persister struct {
	session domain.Session
	cfg     PersisterConfig
}

// NewPersister binds a persister to a session.
func NewPersister(session domain.Session, cfg PersisterConfig) *Persister {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	if cfg.NewIdentifier == nil {
		cfg.NewIdentifier = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return &Persister{session: session, cfg: cfg}
}

// persistScope is shared by reference across one persist call tree.
type persistScope struct {
	session        domain.Session
	registry       domain.Registry
	caches         *Caches
	offerings      *OfferingSet
	swap           domain.AxisSwapper
	updateGeometry bool
	logger         Logger
}

// Persist stores spec.Value against datasets. The first dataset is the
// representative one: it supplies the context identity and the duplicate
// check. Offerings touched along the way are added to offerings.
func (p *Persister) Persist(ctx context.Context, spec domain.ObservationSpec, datasets []domain.Dataset, feature *domain.Feature, offerings *OfferingSet) (domain.Observation, error) {
	if err := checkSupported(spec.Value); err != nil {
		return domain.Observation{}, err
	}
	oc, err := ResolveRoot(datasets, feature)
	if err != nil {
		return domain.Observation{}, err
	}
	if offerings == nil {
		offerings = NewOfferingSet()
	}
	scope := &persistScope{
		session:        p.session,
		registry:       p.session.Registry(),
		caches:         NewCaches(),
		offerings:      offerings,
		swap:           p.cfg.AxisSwapper,
		updateGeometry: p.cfg.UpdateFeatureGeometry,
		logger:         p.cfg.Logger,
	}
	if err := scope.checkDuplicate(ctx, spec, datasets[0], oc); err != nil {
		return domain.Observation{}, err
	}
	if spec.Identifier == "" {
		spec.Identifier = p.cfg.NewIdentifier()
	}
	var geometry *domain.Geometry
	if spec.SamplingGeometry != nil {
		g, err := scope.swapGeometry(*spec.SamplingGeometry)
		if err != nil {
			return domain.Observation{}, err
		}
		geometry = &g
	}
	root := &observationNode{
		scope:    scope,
		spec:     spec.Clone(),
		datasets: append([]domain.Dataset(nil), datasets...),
		oc:       oc,
		geometry: geometry,
	}
	return root.persist(ctx)
}

// checkSupported rejects a tree holding any unsupported kind before anything
// is written.
func checkSupported(v domain.Value) error {
	if v == nil {
		return &domain.UnsupportedValueKindError{Kind: "nil"}
	}
	if !v.Kind().IsSupported() {
		return &domain.UnsupportedValueKindError{Kind: v.Kind()}
	}
	if c, ok := v.(domain.Composite); ok {
		for _, sub := range c.SubValues() {
			if err := checkSupported(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *persistScope) checkDuplicate(ctx context.Context, spec domain.ObservationSpec, rep domain.Dataset, oc ObservationContext) error {
	crit := oc.Criteria().Where(
		domain.Eq(domain.FieldDatasetID, rep.ID),
		domain.Eq(domain.FieldPhenomenonTimeStart, spec.PhenomenonTime.Start),
		domain.Eq(domain.FieldPhenomenonTimeEnd, spec.PhenomenonTime.End),
		domain.Eq(domain.FieldChild, false),
		domain.Eq(domain.FieldDeleted, false),
	)
	if spec.ResultTime != nil {
		crit = crit.Where(domain.Eq(domain.FieldResultTime, *spec.ResultTime))
	}
	found, err := s.session.FindObservations(ctx, crit.Page(0, 1))
	if err != nil {
		return domain.WrapStorage("duplicate check", err)
	}
	if len(found) > 0 {
		return &domain.DuplicateObservationError{
			DatasetID:  rep.ID,
			Start:      spec.PhenomenonTime.Start,
			End:        spec.PhenomenonTime.End,
			ResultTime: spec.ResultTime,
		}
	}
	if spec.Identifier == "" {
		return nil
	}
	crit = domain.Criteria{}.Where(
		domain.Eq(domain.FieldIdentifier, spec.Identifier),
		domain.Eq(domain.FieldDeleted, false),
	)
	found, err = s.session.FindObservations(ctx, crit.Page(0, 1))
	if err != nil {
		return domain.WrapStorage("duplicate identifier check", err)
	}
	if len(found) > 0 {
		return &domain.DuplicateObservationError{DatasetID: rep.ID, Identifier: spec.Identifier}
	}
	return nil
}

func (s *persistScope) swapGeometry(g domain.Geometry) (domain.Geometry, error) {
	if s.swap == nil {
		return g.Clone(), nil
	}
	out, err := s.swap(g)
	if err != nil {
		return domain.Geometry{}, fmt.Errorf("swap geometry axes: %w", err)
	}
	return out, nil
}

// checkObservationType validates that requested may be written to ds,
// recording it as the declared type when ds has none yet.
func (s *persistScope) checkObservationType(ctx context.Context, ds *domain.Dataset, requested domain.ObservationType) error {
	switch {
	case ds.ObservationType == "":
		if err := s.registry.SetObservationType(ctx, ds.ID, requested); err != nil {
			return domain.WrapStorage(fmt.Sprintf("set observation type of dataset %d", ds.ID), err)
		}
		ds.ObservationType = requested
		return nil
	case ds.ObservationType == requested:
		return nil
	case ds.ObservationType.IsProfile() && requested.IsProfile():
		return nil
	}
	return &domain.InvalidObservationTypeError{
		Requested:  requested,
		Expected:   ds.ObservationType,
		DatasetID:  ds.ID,
		Procedure:  ds.Procedure.Identifier,
		Phenomenon: ds.Phenomenon.Identifier,
		Offering:   ds.Offering.Identifier,
	}
}

// observationNode persists one value of the tree. Children are spawned with
// the same scope.
type observationNode struct {
	scope    *persistScope
	spec     domain.ObservationSpec
	datasets []domain.Dataset
	oc       ObservationContext
	child    bool
	position int
	geometry *domain.Geometry
}

func (n *observationNode) persist(ctx context.Context) (domain.Observation, error) {
	return domain.Accept[domain.Observation](n.spec.Value, valueVisitor{ctx: ctx, node: n})
}

func (n *observationNode) spawn(oc ObservationContext, datasets []domain.Dataset, spec domain.ObservationSpec, position int, geometry *domain.Geometry) *observationNode {
	spec.Identifier = ""
	return &observationNode{
		scope:    n.scope,
		spec:     spec,
		datasets: datasets,
		oc:       oc,
		child:    true,
		position: position,
		geometry: geometry,
	}
}

func (n *observationNode) newRecord(payload domain.Payload) domain.Observation {
	obs := domain.Observation{
		Name:           n.spec.Name,
		Description:    n.spec.Description,
		PhenomenonTime: n.spec.PhenomenonTime,
		Parameters:     append([]domain.Parameter(nil), n.spec.Parameters...),
		DatasetID:      n.datasets[0].ID,
		Child:          n.child,
		Position:       n.position,
		Payload:        payload,
	}
	if !n.child {
		obs.Identifier = n.spec.Identifier
	}
	if n.spec.ResultTime != nil {
		rt := *n.spec.ResultTime
		obs.ResultTime = &rt
	}
	if n.spec.ValidTime != nil {
		vt := *n.spec.ValidTime
		obs.ValidTime = &vt
	}
	if n.geometry != nil {
		g := n.geometry.Clone()
		obs.Geometry = &g
	}
	n.oc.ApplyTo(&obs)
	return obs
}

// checkDatasets records the offerings and validates the observation type of
// every target dataset. Children written into a profile dataset are exempt:
// they carry their leaf type while the dataset declares the profile type.
func (n *observationNode) checkDatasets(ctx context.Context, requested domain.ObservationType) error {
	for i := range n.datasets {
		ds := &n.datasets[i]
		n.scope.offerings.Add(ds.Offering)
		if n.child && ds.ObservationType.IsProfile() {
			continue
		}
		if err := n.scope.checkObservationType(ctx, ds, requested); err != nil {
			return err
		}
	}
	return nil
}

func (n *observationNode) resolveParameters(ctx context.Context, params []domain.Parameter) error {
	for _, p := range params {
		if p.Value == nil {
			return fmt.Errorf("parameter %s: %w", p.Name, &domain.UnsupportedValueKindError{Kind: "nil"})
		}
		if k := p.Value.Kind(); k.IsComposite() || !k.IsSupported() {
			return fmt.Errorf("parameter %s: %w", p.Name, &domain.UnsupportedValueKindError{Kind: k})
		}
		switch v := p.Value.(type) {
		case domain.QuantityValue:
			if v.Unit != "" {
				if _, err := n.scope.caches.unit(ctx, n.scope.registry, v.Unit); err != nil {
					return err
				}
			}
		case domain.CategoryValue:
			if v.Codespace != "" {
				if _, err := n.scope.caches.codespace(ctx, n.scope.registry, v.Codespace); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// write saves obs and records the dataset associations of the write.
func (n *observationNode) write(ctx context.Context, obs *domain.Observation) error {
	if err := n.resolveParameters(ctx, obs.Parameters); err != nil {
		return err
	}
	if err := n.scope.session.SaveObservation(ctx, obs); err != nil {
		return domain.WrapStorage(fmt.Sprintf("save %s observation", obs.Payload.Kind), err)
	}
	for _, ds := range n.datasets {
		if err := n.scope.registry.TouchDataset(ctx, ds.ID, obs.FeatureID, obs.PhenomenonTime); err != nil {
			return domain.WrapStorage(fmt.Sprintf("touch dataset %d", ds.ID), err)
		}
	}
	if !n.child && n.scope.updateGeometry && n.geometry != nil && n.oc.Feature != nil && n.oc.Feature.ID != 0 {
		if err := n.scope.registry.UpdateFeatureGeometry(ctx, n.oc.Feature.ID, *n.geometry); err != nil {
			return domain.WrapStorage(fmt.Sprintf("update geometry of feature %s", n.oc.Feature.Identifier), err)
		}
	}
	n.scope.logger.Debug("observation persisted",
		"id", obs.ID,
		"kind", obs.Payload.Kind,
		"dataset", obs.DatasetID,
		"child", obs.Child,
		"children", len(obs.ChildIDs),
	)
	return nil
}

func (n *observationNode) persistScalar(ctx context.Context, payload domain.Payload) (domain.Observation, error) {
	otype, ok := domain.ObservationTypeFor(payload.Kind)
	if !ok {
		return domain.Observation{}, &domain.UnsupportedValueKindError{Kind: payload.Kind}
	}
	if err := n.checkDatasets(ctx, otype); err != nil {
		return domain.Observation{}, err
	}
	obs := n.newRecord(payload)
	if err := n.write(ctx, &obs); err != nil {
		return domain.Observation{}, err
	}
	return obs, nil
}

// childDatasets returns the hidden datasets holding values of the child
// observed property, one per offering of the parent datasets.
func (n *observationNode) childDatasets(ctx context.Context, oc ObservationContext) ([]domain.Dataset, error) {
	seen := make(map[int64]bool)
	var out []domain.Dataset
	for _, parent := range n.datasets {
		if seen[parent.Offering.ID] {
			continue
		}
		seen[parent.Offering.ID] = true
		ds, err := n.scope.registry.CheckOrInsertDataset(ctx, domain.Dataset{
			Procedure:  oc.Procedure,
			Phenomenon: oc.Phenomenon,
			Offering:   parent.Offering,
			Feature:    oc.Feature,
			Hidden:     true,
		})
		if err != nil {
			return nil, domain.WrapStorage(fmt.Sprintf("dataset for %s", oc.Phenomenon.Identifier), err)
		}
		out = append(out, ds)
	}
	return out, nil
}

func (n *observationNode) flush(ctx context.Context) error {
	if err := n.scope.session.Flush(ctx); err != nil {
		return domain.WrapStorage("flush children", err)
	}
	return nil
}

func (n *observationNode) persistComplex(ctx context.Context, cv domain.ComplexValue) (domain.Observation, error) {
	if err := n.checkDatasets(ctx, domain.ObservationTypeComplex); err != nil {
		return domain.Observation{}, err
	}
	childIDs := make([]int64, 0, len(cv.Fields))
	for i, field := range cv.Fields {
		if field.Definition == "" {
			return domain.Observation{}, &domain.UnknownObservedPropertyError{Identifier: field.Name}
		}
		oc, err := ResolveChild(ctx, n.oc, n.scope.registry, field.Definition)
		if err != nil {
			return domain.Observation{}, err
		}
		datasets, err := n.childDatasets(ctx, oc)
		if err != nil {
			return domain.Observation{}, err
		}
		spec := n.spec.Clone()
		spec.Value = field.Value
		rec, err := n.spawn(oc, datasets, spec, i, n.geometry).persist(ctx)
		if err != nil {
			return domain.Observation{}, fmt.Errorf("complex field %s: %w", field.Name, err)
		}
		childIDs = append(childIDs, rec.ID)
	}
	if err := n.flush(ctx); err != nil {
		return domain.Observation{}, err
	}
	parent := n.newRecord(domain.Payload{Kind: domain.KindComplex})
	parent.Parent = true
	parent.ChildIDs = childIDs
	if err := n.write(ctx, &parent); err != nil {
		return domain.Observation{}, err
	}
	return parent, nil
}

func (n *observationNode) persistProfile(ctx context.Context, pv domain.ProfileValue) (domain.Observation, error) {
	if err := n.checkDatasets(ctx, domain.ObservationTypeProfile); err != nil {
		return domain.Observation{}, err
	}
	if pv.Geometry != nil {
		g, err := n.scope.swapGeometry(*pv.Geometry)
		if err != nil {
			return domain.Observation{}, err
		}
		n.geometry = &g
	}
	var childIDs []int64
	position := 0
	for li, level := range pv.Levels {
		levelSpec := n.spec.Clone()
		levelSpec.Parameters = append(levelSpec.Parameters, level.Parameters()...)
		levelSpec.Parameters = append(levelSpec.Parameters, domain.Parameter{
			Name:  domain.ParamLevel,
			Value: domain.CountValue{Value: int64(li)},
		})
		switch {
		case level.PhenomenonTime != nil:
			levelSpec.PhenomenonTime = *level.PhenomenonTime
		case pv.PhenomenonTime != nil:
			levelSpec.PhenomenonTime = *pv.PhenomenonTime
		}
		geometry := n.geometry
		if level.Location != nil {
			g, err := n.scope.swapGeometry(*level.Location)
			if err != nil {
				return domain.Observation{}, err
			}
			geometry = &g
		}
		for _, lv := range level.Values {
			oc, err := ResolveChild(ctx, n.oc, n.scope.registry, lv.Definition)
			if err != nil {
				return domain.Observation{}, err
			}
			datasets := append([]domain.Dataset(nil), n.datasets...)
			if lv.Definition != "" {
				if datasets, err = n.childDatasets(ctx, oc); err != nil {
					return domain.Observation{}, err
				}
			}
			spec := levelSpec.Clone()
			spec.Value = lv.Value
			rec, err := n.spawn(oc, datasets, spec, position, geometry).persist(ctx)
			if err != nil {
				return domain.Observation{}, fmt.Errorf("profile level %d: %w", li, err)
			}
			childIDs = append(childIDs, rec.ID)
			position++
		}
		if err := n.flush(ctx); err != nil {
			return domain.Observation{}, err
		}
	}
	parent := n.newRecord(domain.Payload{Kind: domain.KindProfile})
	parent.Parent = true
	parent.ChildIDs = childIDs
	parent.Parameters = append(parent.Parameters, domain.Parameter{
		Name:  domain.ParamLevels,
		Value: domain.CountValue{Value: int64(len(pv.Levels))},
	})
	if err := n.write(ctx, &parent); err != nil {
		return domain.Observation{}, err
	}
	return parent, nil
}

type valueVisitor struct {
	ctx  context.Context
	node *observationNode
}

func (v valueVisitor) VisitBoolean(b domain.BooleanValue) (domain.Observation, error) {
	return v.node.persistScalar(v.ctx, domain.Payload{Kind: domain.KindBoolean, Bool: &b.Value})
}

func (v valueVisitor) VisitCount(c domain.CountValue) (domain.Observation, error) {
	return v.node.persistScalar(v.ctx, domain.Payload{Kind: domain.KindCount, Count: &c.Value})
}

func (v valueVisitor) VisitQuantity(q domain.QuantityValue) (domain.Observation, error) {
	payload := domain.Payload{Kind: domain.KindQuantity, Quantity: &q.Value}
	if q.Unit != "" {
		u, err := v.node.scope.caches.unit(v.ctx, v.node.scope.registry, q.Unit)
		if err != nil {
			return domain.Observation{}, err
		}
		payload.Unit = &u
	}
	return v.node.persistScalar(v.ctx, payload)
}

func (v valueVisitor) VisitText(t domain.TextValue) (domain.Observation, error) {
	return v.node.persistScalar(v.ctx, domain.Payload{Kind: domain.KindText, Text: &t.Value})
}

func (v valueVisitor) VisitCategory(c domain.CategoryValue) (domain.Observation, error) {
	payload := domain.Payload{Kind: domain.KindCategory, Category: &c.Value}
	if c.Codespace != "" {
		cs, err := v.node.scope.caches.codespace(v.ctx, v.node.scope.registry, c.Codespace)
		if err != nil {
			return domain.Observation{}, err
		}
		payload.Codespace = &cs
	}
	return v.node.persistScalar(v.ctx, payload)
}

func (v valueVisitor) VisitGeometry(g domain.GeometryValue) (domain.Observation, error) {
	geom := g.Geometry.Clone()
	return v.node.persistScalar(v.ctx, domain.Payload{Kind: domain.KindGeometry, Geometry: &geom})
}

func (v valueVisitor) VisitReference(r domain.ReferenceValue) (domain.Observation, error) {
	payload := domain.Payload{Kind: domain.KindReference, Href: &r.Href}
	if r.Title != "" {
		payload.Title = &r.Title
	}
	return v.node.persistScalar(v.ctx, payload)
}

func (v valueVisitor) VisitComplex(c domain.ComplexValue) (domain.Observation, error) {
	return v.node.persistComplex(v.ctx, c)
}

func (v valueVisitor) VisitProfile(p domain.ProfileValue) (domain.Observation, error) {
	return v.node.persistProfile(v.ctx, p)
}

func (v valueVisitor) VisitUnsupported(u domain.UnsupportedValue) (domain.Observation, error) {
	return domain.Observation{}, &domain.UnsupportedValueKindError{Kind: u.ValueKind}
}

// IsRejected reports whether err aborted a persist call because of the
// submitted value rather than storage.
func IsRejected(err error) bool {
	switch domain.KindOf(err) {
	case domain.ErrorKindUnsupportedValue, domain.ErrorKindInvalidObservationType,
		domain.ErrorKindDuplicateObservation, domain.ErrorKindUnknownObservedProperty:
		return true
	}
	return errors.Is(err, context.Canceled)
}
