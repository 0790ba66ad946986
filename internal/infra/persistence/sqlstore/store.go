// Package sqlstore implements the storage gateway over database/sql. The
// sqlite and postgres packages open a database and bind it to a dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"obsstore/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ domain.Gateway  = (*Store)(nil)
	_ domain.Session  = (*session)(nil)
	_ domain.Registry = (*session)(nil)
)

// ErrSessionDone is returned when a finished session is used.
var ErrSessionDone = errors.New("sqlstore: session already finished")

// Store is a gateway over one database handle.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New binds db to the dialect. Call Migrate before the first Begin.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the dialect the store speaks.
func (s *Store) Dialect() Dialect { return s.dialect }

// Begin opens a transaction-backed session.
func (s *Store) Begin(ctx context.Context) (domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &session{tx: tx, dialect: s.dialect}, nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

type session struct {
	tx      *sql.Tx
	dialect Dialect
	done    bool
}

func (s *session) Registry() domain.Registry { return s }

func (s *session) check() error {
	if s.done {
		return ErrSessionDone
	}
	return nil
}

func (s *session) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *session) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.tx.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *session) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// insert runs an INSERT ... RETURNING id.
func (s *session) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := s.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// Flush is a no-op: the transaction already sees its own writes.
func (s *session) Flush(context.Context) error { return s.check() }

// Evict is a no-op: rows are not cached.
func (s *session) Evict(domain.Observation) {}

func (s *session) Commit(_ context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	s.done = true
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *session) Rollback() error {
	if err := s.check(); err != nil {
		return err
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	if s.done {
		return nil
	}
	return s.Rollback()
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func wkt(g *domain.Geometry) (sql.NullString, int) {
	if g == nil {
		return sql.NullString{}, 0
	}
	return sql.NullString{String: g.WKT(), Valid: true}, g.SRID
}

func parseGeometry(text sql.NullString, srid int) (*domain.Geometry, error) {
	if !text.Valid {
		return nil, nil
	}
	g, err := domain.ParseWKT(srid, text.String)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func notFound(entity string, key any) error {
	return &domain.NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
