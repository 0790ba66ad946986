// Package postgres opens the SQL storage gateway on a PostgreSQL server
// through the pgx database/sql adapter.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"obsstore/internal/infra/persistence/sqlstore"
)

const (
	defaultDSN      = "postgres://localhost/obsstore?sslmode=disable"
	applicationName = "obsstore"
)

var (
	connectMu sync.Mutex
	connect   = func(cfg *pgx.ConnConfig) (*sql.DB, error) { return stdlib.OpenDB(*cfg), nil }
)

// Open parses dsn (falling back to a local default), connects and applies
// the schema. Connections report application_name obsstore unless the DSN
// sets one.
func Open(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	if cfg.RuntimeParams["application_name"] == "" {
		cfg.RuntimeParams["application_name"] = applicationName
	}
	connectMu.Lock()
	db, err := connect(cfg)
	connectMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres %s/%s: %w", cfg.Host, cfg.Database, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres %s/%s: %w", cfg.Host, cfg.Database, err)
	}
	store := sqlstore.New(db, sqlstore.Postgres)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OverrideConnect swaps the connector for tests and returns a restore
// function.
func OverrideConnect(fn func(cfg *pgx.ConnConfig) (*sql.DB, error)) func() {
	connectMu.Lock()
	defer connectMu.Unlock()
	prev := connect
	connect = fn
	return func() {
		connectMu.Lock()
		defer connectMu.Unlock()
		connect = prev
	}
}
