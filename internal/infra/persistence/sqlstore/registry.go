package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"obsstore/pkg/domain"
)

func (s *session) PhenomenonByIdentifier(ctx context.Context, identifier string) (domain.Phenomenon, error) {
	return s.phenomenon(ctx, "identifier", identifier)
}

func (s *session) PhenomenonByID(ctx context.Context, id int64) (domain.Phenomenon, error) {
	return s.phenomenon(ctx, "id", id)
}

func (s *session) phenomenon(ctx context.Context, column string, key any) (domain.Phenomenon, error) {
	if err := s.check(); err != nil {
		return domain.Phenomenon{}, err
	}
	var p domain.Phenomenon
	err := s.queryRow(ctx, `SELECT id, identifier, name, description FROM phenomena WHERE `+column+` = ?`, key).
		Scan(&p.ID, &p.Identifier, &p.Name, &p.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Phenomenon{}, notFound("phenomenon", key)
	}
	if err != nil {
		return domain.Phenomenon{}, fmt.Errorf("select phenomenon: %w", err)
	}
	return p, nil
}

func (s *session) GetOrInsertProcedure(ctx context.Context, p domain.Procedure) (domain.Procedure, error) {
	if err := s.check(); err != nil {
		return domain.Procedure{}, err
	}
	err := s.queryRow(ctx, `SELECT id, name FROM procedures WHERE identifier = ?`, p.Identifier).Scan(&p.ID, &p.Name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Procedure{}, fmt.Errorf("select procedure: %w", err)
	}
	if p.ID, err = s.insert(ctx, `INSERT INTO procedures (identifier, name) VALUES (?, ?)`, p.Identifier, p.Name); err != nil {
		return domain.Procedure{}, fmt.Errorf("insert procedure: %w", err)
	}
	return p, nil
}

func (s *session) GetOrInsertPhenomenon(ctx context.Context, p domain.Phenomenon) (domain.Phenomenon, error) {
	existing, err := s.PhenomenonByIdentifier(ctx, p.Identifier)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Phenomenon{}, err
	}
	if p.ID, err = s.insert(ctx, `INSERT INTO phenomena (identifier, name, description) VALUES (?, ?, ?)`,
		p.Identifier, p.Name, p.Description); err != nil {
		return domain.Phenomenon{}, fmt.Errorf("insert phenomenon: %w", err)
	}
	return p, nil
}

func (s *session) GetOrInsertOffering(ctx context.Context, o domain.Offering) (domain.Offering, error) {
	if err := s.check(); err != nil {
		return domain.Offering{}, err
	}
	err := s.queryRow(ctx, `SELECT id, name FROM offerings WHERE identifier = ?`, o.Identifier).Scan(&o.ID, &o.Name)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Offering{}, fmt.Errorf("select offering: %w", err)
	}
	if o.ID, err = s.insert(ctx, `INSERT INTO offerings (identifier, name) VALUES (?, ?)`, o.Identifier, o.Name); err != nil {
		return domain.Offering{}, fmt.Errorf("insert offering: %w", err)
	}
	return o, nil
}

func (s *session) feature(ctx context.Context, column string, key any) (domain.Feature, error) {
	var (
		f    domain.Feature
		geom sql.NullString
		srid int
	)
	err := s.queryRow(ctx, `SELECT id, identifier, name, geometry, srid FROM features WHERE `+column+` = ?`, key).
		Scan(&f.ID, &f.Identifier, &f.Name, &geom, &srid)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Feature{}, notFound("feature", key)
	}
	if err != nil {
		return domain.Feature{}, fmt.Errorf("select feature: %w", err)
	}
	if f.Geometry, err = parseGeometry(geom, srid); err != nil {
		return domain.Feature{}, fmt.Errorf("feature %s geometry: %w", f.Identifier, err)
	}
	return f, nil
}

func (s *session) GetOrInsertFeature(ctx context.Context, f domain.Feature) (domain.Feature, error) {
	if err := s.check(); err != nil {
		return domain.Feature{}, err
	}
	existing, err := s.feature(ctx, "identifier", f.Identifier)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Feature{}, err
	}
	geom, srid := wkt(f.Geometry)
	if f.ID, err = s.insert(ctx, `INSERT INTO features (identifier, name, geometry, srid) VALUES (?, ?, ?, ?)`,
		f.Identifier, f.Name, geom, srid); err != nil {
		return domain.Feature{}, fmt.Errorf("insert feature: %w", err)
	}
	return f, nil
}

func (s *session) GetOrInsertUnit(ctx context.Context, symbol string) (domain.Unit, error) {
	if err := s.check(); err != nil {
		return domain.Unit{}, err
	}
	u := domain.Unit{Symbol: symbol}
	err := s.queryRow(ctx, `SELECT id FROM units WHERE symbol = ?`, symbol).Scan(&u.ID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Unit{}, fmt.Errorf("select unit: %w", err)
	}
	if u.ID, err = s.insert(ctx, `INSERT INTO units (symbol) VALUES (?)`, symbol); err != nil {
		return domain.Unit{}, fmt.Errorf("insert unit: %w", err)
	}
	return u, nil
}

func (s *session) GetOrInsertCodespace(ctx context.Context, name string) (domain.Codespace, error) {
	if err := s.check(); err != nil {
		return domain.Codespace{}, err
	}
	c := domain.Codespace{Name: name}
	err := s.queryRow(ctx, `SELECT id FROM codespaces WHERE name = ?`, name).Scan(&c.ID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Codespace{}, fmt.Errorf("select codespace: %w", err)
	}
	if c.ID, err = s.insert(ctx, `INSERT INTO codespaces (name) VALUES (?)`, name); err != nil {
		return domain.Codespace{}, fmt.Errorf("insert codespace: %w", err)
	}
	return c, nil
}

func (s *session) exists(ctx context.Context, table string, id int64) (bool, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("select %s: %w", table, err)
	}
	return n > 0, nil
}

func (s *session) CheckOrInsertDataset(ctx context.Context, d domain.Dataset) (domain.Dataset, error) {
	if err := s.check(); err != nil {
		return domain.Dataset{}, err
	}
	key := d.Key()
	var id int64
	err := s.queryRow(ctx, `SELECT id FROM datasets WHERE procedure_id = ? AND phenomenon_id = ? AND offering_id = ?`,
		key.ProcedureID, key.PhenomenonID, key.OfferingID).Scan(&id)
	if err == nil {
		if d.Duplicated {
			if _, err := s.exec(ctx, `UPDATE datasets SET duplicated = ? WHERE id = ?`, true, id); err != nil {
				return domain.Dataset{}, fmt.Errorf("mark dataset %d duplicated: %w", id, err)
			}
		}
		return s.DatasetByID(ctx, id)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Dataset{}, fmt.Errorf("select dataset: %w", err)
	}
	for _, ref := range []struct {
		table, entity string
		id            int64
	}{
		{"procedures", "procedure", key.ProcedureID},
		{"phenomena", "phenomenon", key.PhenomenonID},
		{"offerings", "offering", key.OfferingID},
	} {
		ok, err := s.exists(ctx, ref.table, ref.id)
		if err != nil {
			return domain.Dataset{}, err
		}
		if !ok {
			return domain.Dataset{}, notFound(ref.entity, ref.id)
		}
	}
	var featureID sql.NullInt64
	if d.Feature != nil && d.Feature.ID != 0 {
		featureID = sql.NullInt64{Int64: d.Feature.ID, Valid: true}
	}
	id, err = s.insert(ctx, `INSERT INTO datasets
		(procedure_id, phenomenon_id, offering_id, feature_id, observation_type, category, hidden, published, duplicated, first_time, last_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ProcedureID, key.PhenomenonID, key.OfferingID, featureID, string(d.ObservationType), d.Category,
		d.Hidden, d.Published, d.Duplicated, nullNanos(d.FirstTime), nullNanos(d.LastTime))
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("insert dataset: %w", err)
	}
	return s.DatasetByID(ctx, id)
}

const datasetSelect = `SELECT d.id, d.observation_type, d.category, d.hidden, d.published, d.duplicated, d.first_time, d.last_time,
	p.id, p.identifier, p.name,
	ph.id, ph.identifier, ph.name, ph.description,
	o.id, o.identifier, o.name,
	d.feature_id
	FROM datasets d
	JOIN procedures p ON p.id = d.procedure_id
	JOIN phenomena ph ON ph.id = d.phenomenon_id
	JOIN offerings o ON o.id = d.offering_id`

func (s *session) DatasetByID(ctx context.Context, id int64) (domain.Dataset, error) {
	if err := s.check(); err != nil {
		return domain.Dataset{}, err
	}
	var (
		d           domain.Dataset
		otype       string
		first, last sql.NullInt64
		featureID   sql.NullInt64
	)
	err := s.queryRow(ctx, datasetSelect+` WHERE d.id = ?`, id).Scan(
		&d.ID, &otype, &d.Category, &d.Hidden, &d.Published, &d.Duplicated, &first, &last,
		&d.Procedure.ID, &d.Procedure.Identifier, &d.Procedure.Name,
		&d.Phenomenon.ID, &d.Phenomenon.Identifier, &d.Phenomenon.Name, &d.Phenomenon.Description,
		&d.Offering.ID, &d.Offering.Identifier, &d.Offering.Name,
		&featureID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Dataset{}, notFound("dataset", id)
	}
	if err != nil {
		return domain.Dataset{}, fmt.Errorf("select dataset: %w", err)
	}
	d.ObservationType = domain.ObservationType(otype)
	d.FirstTime, d.LastTime = timePtr(first), timePtr(last)
	if featureID.Valid {
		f, err := s.feature(ctx, "id", featureID.Int64)
		if err != nil {
			return domain.Dataset{}, err
		}
		d.Feature = &f
	}
	return d, nil
}

func (s *session) SetObservationType(ctx context.Context, datasetID int64, t domain.ObservationType) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE datasets SET observation_type = ? WHERE id = ?`, string(t), datasetID)
	if err != nil {
		return fmt.Errorf("update dataset: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("dataset", datasetID)
	}
	return nil
}

func (s *session) TouchDataset(ctx context.Context, datasetID, featureID int64, t domain.TimePeriod) error {
	if err := s.check(); err != nil {
		return err
	}
	var (
		hidden      bool
		feature     sql.NullInt64
		first, last sql.NullInt64
	)
	err := s.queryRow(ctx, `SELECT hidden, feature_id, first_time, last_time FROM datasets WHERE id = ?`, datasetID).
		Scan(&hidden, &feature, &first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("dataset", datasetID)
	}
	if err != nil {
		return fmt.Errorf("select dataset: %w", err)
	}
	if !feature.Valid && featureID != 0 {
		ok, err := s.exists(ctx, "features", featureID)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("feature", featureID)
		}
		feature = sql.NullInt64{Int64: featureID, Valid: true}
	}
	firstTime, lastTime := domain.TimeBounds(timePtr(first), timePtr(last), t)
	if _, err := s.exec(ctx, `UPDATE datasets SET feature_id = ?, first_time = ?, last_time = ?, published = ? WHERE id = ?`,
		feature, nullNanos(firstTime), nullNanos(lastTime), !hidden, datasetID); err != nil {
		return fmt.Errorf("update dataset: %w", err)
	}
	return nil
}

func (s *session) UpdateFeatureGeometry(ctx context.Context, featureID int64, g domain.Geometry) error {
	if err := s.check(); err != nil {
		return err
	}
	geom, srid := wkt(&g)
	res, err := s.exec(ctx, `UPDATE features SET geometry = ?, srid = ? WHERE id = ? AND geometry IS NULL`, geom, srid, featureID)
	if err != nil {
		return fmt.Errorf("update feature: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	ok, err := s.exists(ctx, "features", featureID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("feature", featureID)
	}
	return nil
}
