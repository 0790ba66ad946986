package core

import (
	"context"
	"fmt"

	"obsstore/pkg/domain"
)

// readValue rebuilds the value of obs. Composite parents are reassembled
// from their children in position order.
func readValue(ctx context.Context, session domain.Session, obs domain.Observation) (domain.Value, error) {
	switch obs.Payload.Kind {
	case domain.KindComplex:
		return readComplex(ctx, session, obs)
	case domain.KindProfile:
		return readProfile(ctx, session, obs)
	default:
		return domain.ValueOf(obs)
	}
}

func children(ctx context.Context, session domain.Session, parentID int64) ([]domain.Observation, error) {
	crit := domain.Criteria{}.
		Where(domain.Eq(domain.FieldParentID, parentID), domain.Eq(domain.FieldDeleted, false)).
		OrderBy(domain.Order{Field: domain.FieldPosition}, domain.Order{Field: domain.FieldID})
	rows, err := session.FindObservations(ctx, crit)
	if err != nil {
		return nil, domain.WrapStorage(fmt.Sprintf("children of %d", parentID), err)
	}
	return rows, nil
}

func readComplex(ctx context.Context, session domain.Session, obs domain.Observation) (domain.Value, error) {
	rows, err := children(ctx, session, obs.ID)
	if err != nil {
		return nil, err
	}
	registry := session.Registry()
	cv := domain.ComplexValue{Fields: make([]domain.Field, 0, len(rows))}
	for _, child := range rows {
		p, err := registry.PhenomenonByID(ctx, child.PhenomenonID)
		if err != nil {
			return nil, domain.WrapStorage(fmt.Sprintf("observed property %d", child.PhenomenonID), err)
		}
		v, err := readValue(ctx, session, child)
		if err != nil {
			return nil, err
		}
		name := p.Name
		if name == "" {
			name = p.Identifier
		}
		cv.Fields = append(cv.Fields, domain.Field{Name: name, Definition: p.Identifier, Value: v})
	}
	return cv, nil
}

// readProfile groups children by their level index. Levels without values
// have no child: they come back empty, without bounds, location or time.
func readProfile(ctx context.Context, session domain.Session, obs domain.Observation) (domain.Value, error) {
	rows, err := children(ctx, session, obs.ID)
	if err != nil {
		return nil, err
	}
	registry := session.Registry()
	pv := domain.ProfileValue{}
	if obs.Geometry != nil {
		g := obs.Geometry.Clone()
		pv.Geometry = &g
	}
	if v, ok := obs.Parameter(domain.ParamLevels); ok {
		if c, ok := v.(domain.CountValue); ok && c.Value > 0 {
			pv.Levels = make([]domain.ProfileLevel, c.Value)
		}
	}
	filled := make(map[int64]bool, len(pv.Levels))
	for _, child := range rows {
		level := levelIndex(child)
		if level < 0 {
			return nil, fmt.Errorf("profile %d: child %d has level %d", obs.ID, child.ID, level)
		}
		for int64(len(pv.Levels)) <= level {
			pv.Levels = append(pv.Levels, domain.ProfileLevel{})
		}
		if !filled[level] {
			pv.Levels[level] = profileLevel(child)
			filled[level] = true
		}
		v, err := readValue(ctx, session, child)
		if err != nil {
			return nil, err
		}
		lv := domain.LevelValue{Value: v}
		if child.PhenomenonID != obs.PhenomenonID {
			p, err := registry.PhenomenonByID(ctx, child.PhenomenonID)
			if err != nil {
				return nil, domain.WrapStorage(fmt.Sprintf("observed property %d", child.PhenomenonID), err)
			}
			lv.Definition = p.Identifier
		}
		pv.Levels[level].Values = append(pv.Levels[level].Values, lv)
	}
	return pv, nil
}

func levelIndex(child domain.Observation) int64 {
	if v, ok := child.Parameter(domain.ParamLevel); ok {
		if c, ok := v.(domain.CountValue); ok {
			return c.Value
		}
	}
	return int64(child.Position)
}

// profileLevel restores the level bounds from the depth or height
// parameters of its first child.
func profileLevel(child domain.Observation) domain.ProfileLevel {
	var level domain.ProfileLevel
	quantity := func(name string) *domain.QuantityValue {
		v, ok := child.Parameter(name)
		if !ok {
			return nil
		}
		q, ok := v.(domain.QuantityValue)
		if !ok {
			return nil
		}
		return &q
	}
	for _, pair := range [][3]string{
		{domain.ParamDepth, domain.ParamFromDepth, domain.ParamToDepth},
		{domain.ParamHeight, domain.ParamFromHeight, domain.ParamToHeight},
	} {
		if q := quantity(pair[0]); q != nil {
			level.Start = q
			break
		}
		if from, to := quantity(pair[1]), quantity(pair[2]); from != nil || to != nil {
			level.Start, level.End = from, to
			break
		}
	}
	if child.Geometry != nil {
		g := child.Geometry.Clone()
		level.Location = &g
	}
	pt := child.PhenomenonTime
	level.PhenomenonTime = &pt
	return level
}
