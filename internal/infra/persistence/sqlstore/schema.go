package sqlstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2) instead of ?.
	Numbered bool
	// Column types substituted into the DDL.
	IDType    string
	BoolType  string
	FloatType string
	// UnboundedLimit is emitted before OFFSET when no LIMIT is set, or empty
	// when the engine accepts a bare OFFSET.
	UnboundedLimit string
}

// SQLite is the dialect of modernc.org/sqlite.
var SQLite = Dialect{
	Name:           "sqlite",
	IDType:         "INTEGER PRIMARY KEY AUTOINCREMENT",
	BoolType:       "INTEGER",
	FloatType:      "REAL",
	UnboundedLimit: "LIMIT -1",
}

// Postgres is the dialect of pgx.
var Postgres = Dialect{
	Name:      "postgres",
	Numbered:  true,
	IDType:    "BIGSERIAL PRIMARY KEY",
	BoolType:  "BOOLEAN",
	FloatType: "DOUBLE PRECISION",
}

func (d Dialect) placeholder(n int) string {
	if d.Numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Rebind rewrites ? placeholders for dialects using numbered ones.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS features (
	id {{id}},
	identifier TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	geometry TEXT,
	srid INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS procedures (
	id {{id}},
	identifier TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS phenomena (
	id {{id}},
	identifier TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS offerings (
	id {{id}},
	identifier TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS units (
	id {{id}},
	symbol TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS codespaces (
	id {{id}},
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS datasets (
	id {{id}},
	procedure_id BIGINT NOT NULL REFERENCES procedures(id),
	phenomenon_id BIGINT NOT NULL REFERENCES phenomena(id),
	offering_id BIGINT NOT NULL REFERENCES offerings(id),
	feature_id BIGINT REFERENCES features(id),
	observation_type TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	hidden {{bool}} NOT NULL,
	published {{bool}} NOT NULL,
	duplicated {{bool}} NOT NULL,
	first_time BIGINT,
	last_time BIGINT,
	UNIQUE (procedure_id, phenomenon_id, offering_id)
);
CREATE TABLE IF NOT EXISTS observations (
	id {{id}},
	identifier TEXT,
	name TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	phenomenon_time_start BIGINT NOT NULL,
	phenomenon_time_end BIGINT NOT NULL,
	result_time BIGINT,
	valid_time_start BIGINT,
	valid_time_end BIGINT,
	geometry TEXT,
	srid INTEGER NOT NULL DEFAULT 0,
	dataset_id BIGINT NOT NULL REFERENCES datasets(id),
	feature_id BIGINT NOT NULL DEFAULT 0,
	phenomenon_id BIGINT NOT NULL,
	procedure_id BIGINT NOT NULL,
	offering_id BIGINT NOT NULL,
	is_parent {{bool}} NOT NULL,
	is_child {{bool}} NOT NULL,
	parent_id BIGINT,
	position INTEGER NOT NULL DEFAULT 0,
	hidden_child {{bool}} NOT NULL,
	published {{bool}} NOT NULL,
	deleted {{bool}} NOT NULL,
	value_kind TEXT NOT NULL,
	value_bool {{bool}},
	value_count BIGINT,
	value_quantity {{float}},
	unit_id BIGINT REFERENCES units(id),
	value_text TEXT,
	value_category TEXT,
	codespace_id BIGINT REFERENCES codespaces(id),
	value_geometry TEXT,
	value_srid INTEGER NOT NULL DEFAULT 0,
	value_href TEXT,
	value_title TEXT
);
CREATE INDEX IF NOT EXISTS observations_series ON observations (dataset_id, phenomenon_time_start, phenomenon_time_end, id);
CREATE INDEX IF NOT EXISTS observations_parent ON observations (parent_id, position);
CREATE INDEX IF NOT EXISTS observations_identifier ON observations (identifier);
CREATE TABLE IF NOT EXISTS observation_parameters (
	observation_id BIGINT NOT NULL REFERENCES observations(id),
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (observation_id, position)
);
`

// Schema renders the DDL for the dialect.
func (d Dialect) Schema() string {
	return strings.NewReplacer(
		"{{id}}", d.IDType,
		"{{bool}}", d.BoolType,
		"{{float}}", d.FloatType,
	).Replace(schemaTemplate)
}

// SplitStatements splits DDL on statement terminators, dropping blanks.
func SplitStatements(ddl string) []string {
	var out []string
	for _, stmt := range strings.Split(ddl, ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Migrate applies the schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range SplitStatements(s.dialect.Schema()) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}
