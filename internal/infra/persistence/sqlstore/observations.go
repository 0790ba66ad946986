package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"obsstore/internal/codec"
	"obsstore/pkg/domain"
)

var columns = map[string]string{
	domain.FieldID:                  "o.id",
	domain.FieldIdentifier:          "o.identifier",
	domain.FieldDatasetID:           "o.dataset_id",
	domain.FieldFeatureID:           "o.feature_id",
	domain.FieldPhenomenonTimeStart: "o.phenomenon_time_start",
	domain.FieldPhenomenonTimeEnd:   "o.phenomenon_time_end",
	domain.FieldResultTime:          "o.result_time",
	domain.FieldParentID:            "o.parent_id",
	domain.FieldParent:              "o.is_parent",
	domain.FieldChild:               "o.is_child",
	domain.FieldPosition:            "o.position",
	domain.FieldDeleted:             "o.deleted",
}

var comparators = map[domain.Op]string{
	domain.OpEq: "=",
	domain.OpNe: "<>",
	domain.OpLt: "<",
	domain.OpLe: "<=",
	domain.OpGt: ">",
	domain.OpGe: ">=",
}

func (s *session) SaveObservation(ctx context.Context, obs *domain.Observation) error {
	if err := s.check(); err != nil {
		return err
	}
	if obs == nil {
		return errors.New("sqlstore: nil observation")
	}
	if err := obs.Payload.Validate(); err != nil {
		return fmt.Errorf("save observation: %w", err)
	}
	ok, err := s.exists(ctx, "datasets", obs.DatasetID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("dataset", obs.DatasetID)
	}
	p := obs.Payload
	var unitID, codespaceID sql.NullInt64
	if p.Unit != nil {
		u := *p.Unit
		if u.ID == 0 {
			if u, err = s.GetOrInsertUnit(ctx, u.Symbol); err != nil {
				return err
			}
		}
		unitID = sql.NullInt64{Int64: u.ID, Valid: true}
	}
	if p.Codespace != nil {
		c := *p.Codespace
		if c.ID == 0 {
			if c, err = s.GetOrInsertCodespace(ctx, c.Name); err != nil {
				return err
			}
		}
		codespaceID = sql.NullInt64{Int64: c.ID, Valid: true}
	}
	var validStart, validEnd sql.NullInt64
	if obs.ValidTime != nil {
		validStart = nullNanos(&obs.ValidTime.Start)
		validEnd = nullNanos(&obs.ValidTime.End)
	}
	geom, srid := wkt(obs.Geometry)
	valueGeom, valueSRID := wkt(p.Geometry)
	var parentID sql.NullInt64
	if obs.ParentID != nil {
		parentID = sql.NullInt64{Int64: *obs.ParentID, Valid: true}
	}
	id, err := s.insert(ctx, `INSERT INTO observations (
		identifier, name, description, phenomenon_time_start, phenomenon_time_end, result_time,
		valid_time_start, valid_time_end, geometry, srid,
		dataset_id, feature_id, phenomenon_id, procedure_id, offering_id,
		is_parent, is_child, parent_id, position, hidden_child, published, deleted,
		value_kind, value_bool, value_count, value_quantity, unit_id, value_text, value_category,
		codespace_id, value_geometry, value_srid, value_href, value_title
	) VALUES (`+placeholders(34)+`)`,
		nullString(obs.Identifier), obs.Name, obs.Description,
		nanos(obs.PhenomenonTime.Start), nanos(obs.PhenomenonTime.End), nullNanos(obs.ResultTime),
		validStart, validEnd, geom, srid,
		obs.DatasetID, obs.FeatureID, obs.PhenomenonID, obs.ProcedureID, obs.OfferingID,
		obs.Parent, obs.Child, parentID, obs.Position, obs.HiddenChild, obs.Published, obs.Deleted,
		string(p.Kind), nullBool(p.Bool), nullInt(p.Count), nullFloat(p.Quantity), unitID,
		nullStringPtr(p.Text), nullStringPtr(p.Category),
		codespaceID, valueGeom, valueSRID, nullStringPtr(p.Href), nullStringPtr(p.Title),
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	obs.ID = id
	for i, param := range obs.Parameters {
		data, err := codec.Marshal(param.Value)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", param.Name, err)
		}
		if _, err := s.exec(ctx, `INSERT INTO observation_parameters (observation_id, position, name, value) VALUES (?, ?, ?, ?)`,
			id, i, param.Name, string(data)); err != nil {
			return fmt.Errorf("insert parameter %s: %w", param.Name, err)
		}
	}
	if len(obs.ChildIDs) > 0 {
		args := []any{id}
		for _, c := range obs.ChildIDs {
			args = append(args, c)
		}
		res, err := s.exec(ctx, `UPDATE observations SET parent_id = ? WHERE id IN (`+placeholders(len(obs.ChildIDs))+`)`, args...)
		if err != nil {
			return fmt.Errorf("link children: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && int(n) != len(obs.ChildIDs) {
			return notFound("observation", fmt.Sprintf("children of %d", id))
		}
	}
	return nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullInt(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// where renders the predicates as a conjunction.
func where(preds []domain.Predicate) (string, []any, error) {
	if len(preds) == 0 {
		return "", nil, nil
	}
	var (
		clauses []string
		args    []any
	)
	for _, p := range preds {
		col, ok := columns[p.Field]
		if !ok {
			return "", nil, fmt.Errorf("unknown field %q", p.Field)
		}
		switch p.Op {
		case domain.OpNull:
			isNull, ok := p.Value.(bool)
			if !ok {
				return "", nil, fmt.Errorf("field %s: null operator expects bool, got %T", p.Field, p.Value)
			}
			if isNull {
				clauses = append(clauses, col+" IS NULL")
			} else {
				clauses = append(clauses, col+" IS NOT NULL")
			}
		case domain.OpIn:
			ids, ok := p.Value.([]int64)
			if !ok {
				return "", nil, fmt.Errorf("field %s: in operator expects []int64, got %T", p.Field, p.Value)
			}
			if len(ids) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			clauses = append(clauses, col+" IN ("+placeholders(len(ids))+")")
			for _, id := range ids {
				args = append(args, id)
			}
		default:
			cmp, ok := comparators[p.Op]
			if !ok {
				return "", nil, fmt.Errorf("field %s: unknown operator %q", p.Field, p.Op)
			}
			v, err := sqlValue(p.Value)
			if err != nil {
				return "", nil, fmt.Errorf("field %s: %w", p.Field, err)
			}
			clauses = append(clauses, col+" "+cmp+" ?")
			args = append(args, v)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func sqlValue(v any) (any, error) {
	switch val := v.(type) {
	case time.Time:
		return nanos(val), nil
	case int:
		return int64(val), nil
	case int64, string, bool:
		return val, nil
	}
	return nil, fmt.Errorf("unsupported predicate value %T", v)
}

func (s *session) orderAndPage(c domain.Criteria) (string, error) {
	var b strings.Builder
	orders := c.Order
	if len(orders) == 0 {
		orders = []domain.Order{{Field: domain.FieldID}}
	}
	for i, o := range orders {
		col, ok := columns[o.Field]
		if !ok {
			return "", fmt.Errorf("unknown order field %q", o.Field)
		}
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(col)
		if o.Desc {
			b.WriteString(" DESC")
		}
	}
	switch {
	case c.Limit > 0:
		b.WriteString(" LIMIT " + strconv.Itoa(c.Limit))
	case c.Offset > 0 && s.dialect.UnboundedLimit != "":
		b.WriteString(" " + s.dialect.UnboundedLimit)
	}
	if c.Offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(c.Offset))
	}
	return b.String(), nil
}

const observationSelect = `SELECT o.id, o.identifier, o.name, o.description, o.phenomenon_time_start, o.phenomenon_time_end,
	o.result_time, o.valid_time_start, o.valid_time_end, o.geometry, o.srid,
	o.dataset_id, o.feature_id, o.phenomenon_id, o.procedure_id, o.offering_id,
	o.is_parent, o.is_child, o.parent_id, o.position, o.hidden_child, o.published, o.deleted,
	o.value_kind, o.value_bool, o.value_count, o.value_quantity, o.unit_id, u.symbol, o.value_text, o.value_category,
	o.codespace_id, c.name, o.value_geometry, o.value_srid, o.value_href, o.value_title
	FROM observations o
	LEFT JOIN units u ON u.id = o.unit_id
	LEFT JOIN codespaces c ON c.id = o.codespace_id`

func (s *session) FindObservations(ctx context.Context, criteria domain.Criteria) ([]domain.Observation, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	clause, args, err := where(criteria.Predicates)
	if err != nil {
		return nil, err
	}
	tail, err := s.orderAndPage(criteria)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, observationSelect+clause+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("select observations: %w", err)
	}
	var out []domain.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	_ = rows.Close()
	if err := s.loadParameters(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanObservation(rows *sql.Rows) (domain.Observation, error) {
	var (
		o                    domain.Observation
		identifier           sql.NullString
		start, end           int64
		result               sql.NullInt64
		validStart, validEnd sql.NullInt64
		geom                 sql.NullString
		srid                 int
		parentID             sql.NullInt64
		kind                 string
		vBool                sql.NullBool
		vCount               sql.NullInt64
		vQuantity            sql.NullFloat64
		unitID               sql.NullInt64
		unitSymbol           sql.NullString
		vText, vCategory     sql.NullString
		codespaceID          sql.NullInt64
		codespaceName        sql.NullString
		vGeom                sql.NullString
		vSRID                int
		vHref, vTitle        sql.NullString
	)
	if err := rows.Scan(
		&o.ID, &identifier, &o.Name, &o.Description, &start, &end,
		&result, &validStart, &validEnd, &geom, &srid,
		&o.DatasetID, &o.FeatureID, &o.PhenomenonID, &o.ProcedureID, &o.OfferingID,
		&o.Parent, &o.Child, &parentID, &o.Position, &o.HiddenChild, &o.Published, &o.Deleted,
		&kind, &vBool, &vCount, &vQuantity, &unitID, &unitSymbol, &vText, &vCategory,
		&codespaceID, &codespaceName, &vGeom, &vSRID, &vHref, &vTitle,
	); err != nil {
		return domain.Observation{}, fmt.Errorf("scan observation: %w", err)
	}
	o.Identifier = identifier.String
	o.PhenomenonTime = domain.TimePeriod{Start: fromNanos(start), End: fromNanos(end)}
	o.ResultTime = timePtr(result)
	if validStart.Valid && validEnd.Valid {
		o.ValidTime = &domain.TimePeriod{Start: fromNanos(validStart.Int64), End: fromNanos(validEnd.Int64)}
	}
	var err error
	if o.Geometry, err = parseGeometry(geom, srid); err != nil {
		return domain.Observation{}, fmt.Errorf("observation %d geometry: %w", o.ID, err)
	}
	if parentID.Valid {
		pid := parentID.Int64
		o.ParentID = &pid
	}
	p := domain.Payload{Kind: domain.Kind(kind)}
	if vBool.Valid {
		b := vBool.Bool
		p.Bool = &b
	}
	if vCount.Valid {
		n := vCount.Int64
		p.Count = &n
	}
	if vQuantity.Valid {
		q := vQuantity.Float64
		p.Quantity = &q
	}
	if unitID.Valid {
		p.Unit = &domain.Unit{ID: unitID.Int64, Symbol: unitSymbol.String}
	}
	if vText.Valid {
		t := vText.String
		p.Text = &t
	}
	if vCategory.Valid {
		c := vCategory.String
		p.Category = &c
	}
	if codespaceID.Valid {
		p.Codespace = &domain.Codespace{ID: codespaceID.Int64, Name: codespaceName.String}
	}
	if p.Geometry, err = parseGeometry(vGeom, vSRID); err != nil {
		return domain.Observation{}, fmt.Errorf("observation %d value geometry: %w", o.ID, err)
	}
	if vHref.Valid {
		h := vHref.String
		p.Href = &h
	}
	if vTitle.Valid {
		t := vTitle.String
		p.Title = &t
	}
	o.Payload = p
	return o, nil
}

// parameterBatch bounds the ids bound into one parameter lookup; SQLite
// rejects statements with more than 32766 variables.
const parameterBatch = 500

func (s *session) loadParameters(ctx context.Context, obs []domain.Observation) error {
	index := make(map[int64]int, len(obs))
	for i, o := range obs {
		index[o.ID] = i
	}
	for lo := 0; lo < len(obs); lo += parameterBatch {
		hi := min(lo+parameterBatch, len(obs))
		if err := s.loadParameterBatch(ctx, obs, index, obs[lo:hi]); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) loadParameterBatch(ctx context.Context, obs []domain.Observation, index map[int64]int, batch []domain.Observation) error {
	args := make([]any, 0, len(batch))
	for _, o := range batch {
		args = append(args, o.ID)
	}
	rows, err := s.query(ctx, `SELECT observation_id, name, value FROM observation_parameters
		WHERE observation_id IN (`+placeholders(len(args))+`) ORDER BY observation_id, position`, args...)
	if err != nil {
		return fmt.Errorf("select parameters: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id    int64
			name  string
			value string
		)
		if err := rows.Scan(&id, &name, &value); err != nil {
			return fmt.Errorf("scan parameter: %w", err)
		}
		v, err := codec.Unmarshal([]byte(value))
		if err != nil {
			return fmt.Errorf("observation %d parameter %s: %w", id, name, err)
		}
		i := index[id]
		obs[i].Parameters = append(obs[i].Parameters, domain.Parameter{Name: name, Value: v})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate parameters: %w", err)
	}
	return nil
}
