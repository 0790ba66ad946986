package memory

import (
	"context"
	"fmt"

	"obsstore/pkg/domain"
)

func (s *session) PhenomenonByIdentifier(_ context.Context, identifier string) (domain.Phenomenon, error) {
	if err := s.check(); err != nil {
		return domain.Phenomenon{}, err
	}
	for _, p := range s.state.phenomena {
		if p.Identifier == identifier {
			return p, nil
		}
	}
	return domain.Phenomenon{}, &domain.NotFoundError{Entity: "phenomenon", Key: identifier}
}

func (s *session) PhenomenonByID(_ context.Context, id int64) (domain.Phenomenon, error) {
	if err := s.check(); err != nil {
		return domain.Phenomenon{}, err
	}
	p, ok := s.state.phenomena[id]
	if !ok {
		return domain.Phenomenon{}, &domain.NotFoundError{Entity: "phenomenon", Key: fmt.Sprint(id)}
	}
	return p, nil
}

func (s *session) GetOrInsertProcedure(_ context.Context, p domain.Procedure) (domain.Procedure, error) {
	if err := s.check(); err != nil {
		return domain.Procedure{}, err
	}
	for _, existing := range s.state.procedures {
		if existing.Identifier == p.Identifier {
			return existing, nil
		}
	}
	p.ID = s.state.nextID()
	s.state.procedures[p.ID] = p
	return p, nil
}

func (s *session) GetOrInsertPhenomenon(_ context.Context, p domain.Phenomenon) (domain.Phenomenon, error) {
	if err := s.check(); err != nil {
		return domain.Phenomenon{}, err
	}
	for _, existing := range s.state.phenomena {
		if existing.Identifier == p.Identifier {
			return existing, nil
		}
	}
	p.ID = s.state.nextID()
	s.state.phenomena[p.ID] = p
	return p, nil
}

func (s *session) GetOrInsertOffering(_ context.Context, o domain.Offering) (domain.Offering, error) {
	if err := s.check(); err != nil {
		return domain.Offering{}, err
	}
	for _, existing := range s.state.offerings {
		if existing.Identifier == o.Identifier {
			return existing, nil
		}
	}
	o.ID = s.state.nextID()
	s.state.offerings[o.ID] = o
	return o, nil
}

func (s *session) GetOrInsertFeature(_ context.Context, f domain.Feature) (domain.Feature, error) {
	if err := s.check(); err != nil {
		return domain.Feature{}, err
	}
	for _, existing := range s.state.features {
		if existing.Identifier == f.Identifier {
			return cloneFeature(existing), nil
		}
	}
	f = cloneFeature(f)
	f.ID = s.state.nextID()
	s.state.features[f.ID] = f
	return cloneFeature(f), nil
}

func (s *session) GetOrInsertUnit(_ context.Context, symbol string) (domain.Unit, error) {
	if err := s.check(); err != nil {
		return domain.Unit{}, err
	}
	for _, existing := range s.state.units {
		if existing.Symbol == symbol {
			return existing, nil
		}
	}
	u := domain.Unit{ID: s.state.nextID(), Symbol: symbol}
	s.state.units[u.ID] = u
	return u, nil
}

func (s *session) GetOrInsertCodespace(_ context.Context, name string) (domain.Codespace, error) {
	if err := s.check(); err != nil {
		return domain.Codespace{}, err
	}
	for _, existing := range s.state.codespaces {
		if existing.Name == name {
			return existing, nil
		}
	}
	c := domain.Codespace{ID: s.state.nextID(), Name: name}
	s.state.codespaces[c.ID] = c
	return c, nil
}

func (s *session) CheckOrInsertDataset(_ context.Context, d domain.Dataset) (domain.Dataset, error) {
	if err := s.check(); err != nil {
		return domain.Dataset{}, err
	}
	key := d.Key()
	for id, existing := range s.state.datasets {
		if existing.Key() != key {
			continue
		}
		if d.Duplicated && !existing.Duplicated {
			existing.Duplicated = true
			s.state.datasets[id] = existing
		}
		return cloneDataset(existing), nil
	}
	for _, ref := range []struct {
		entity string
		id     int64
		ok     bool
	}{
		{"procedure", key.ProcedureID, s.hasProcedure(key.ProcedureID)},
		{"phenomenon", key.PhenomenonID, s.hasPhenomenon(key.PhenomenonID)},
		{"offering", key.OfferingID, s.hasOffering(key.OfferingID)},
	} {
		if !ref.ok {
			return domain.Dataset{}, &domain.NotFoundError{Entity: ref.entity, Key: fmt.Sprint(ref.id)}
		}
	}
	d = cloneDataset(d)
	d.ID = s.state.nextID()
	s.state.datasets[d.ID] = d
	return cloneDataset(d), nil
}

func (s *session) hasProcedure(id int64) bool {
	_, ok := s.state.procedures[id]
	return ok
}

func (s *session) hasPhenomenon(id int64) bool {
	_, ok := s.state.phenomena[id]
	return ok
}

func (s *session) hasOffering(id int64) bool {
	_, ok := s.state.offerings[id]
	return ok
}

func (s *session) DatasetByID(_ context.Context, id int64) (domain.Dataset, error) {
	if err := s.check(); err != nil {
		return domain.Dataset{}, err
	}
	d, ok := s.state.datasets[id]
	if !ok {
		return domain.Dataset{}, &domain.NotFoundError{Entity: "dataset", Key: fmt.Sprint(id)}
	}
	return cloneDataset(d), nil
}

func (s *session) SetObservationType(_ context.Context, datasetID int64, t domain.ObservationType) error {
	if err := s.check(); err != nil {
		return err
	}
	d, ok := s.state.datasets[datasetID]
	if !ok {
		return &domain.NotFoundError{Entity: "dataset", Key: fmt.Sprint(datasetID)}
	}
	d.ObservationType = t
	s.state.datasets[datasetID] = d
	return nil
}

func (s *session) TouchDataset(_ context.Context, datasetID, featureID int64, t domain.TimePeriod) error {
	if err := s.check(); err != nil {
		return err
	}
	d, ok := s.state.datasets[datasetID]
	if !ok {
		return &domain.NotFoundError{Entity: "dataset", Key: fmt.Sprint(datasetID)}
	}
	if d.Feature == nil && featureID != 0 {
		f, ok := s.state.features[featureID]
		if !ok {
			return &domain.NotFoundError{Entity: "feature", Key: fmt.Sprint(featureID)}
		}
		f = cloneFeature(f)
		d.Feature = &f
	}
	d.FirstTime, d.LastTime = domain.TimeBounds(d.FirstTime, d.LastTime, t)
	d.Published = !d.Hidden
	s.state.datasets[datasetID] = d
	return nil
}

func (s *session) UpdateFeatureGeometry(_ context.Context, featureID int64, g domain.Geometry) error {
	if err := s.check(); err != nil {
		return err
	}
	f, ok := s.state.features[featureID]
	if !ok {
		return &domain.NotFoundError{Entity: "feature", Key: fmt.Sprint(featureID)}
	}
	if f.Geometry != nil && !f.Geometry.IsEmpty() {
		return nil
	}
	geom := g.Clone()
	f.Geometry = &geom
	s.state.features[featureID] = f
	return nil
}
