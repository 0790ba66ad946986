// Package testutil provides an in-process database/sql driver that records
// the statements a gateway sends to PostgreSQL.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

var driverSeq atomic.Uint64

// Statement is one recorded call.
type Statement struct {
	Query bool
	SQL   string
}

// Faults makes the stub fail selected calls.
type Faults struct {
	Ping   bool
	Begin  bool
	Commit bool
	// Exec fails every exec whose SQL contains this fragment.
	Exec string
}

// Recorder is the single connection behind a stub database. Queries yield
// no rows, except INSERT ... RETURNING id which yields 1, 2, 3 and so on.
type Recorder struct {
	Faults Faults

	mu         sync.Mutex
	statements []Statement
	commits    int
	rollbacks  int
	lastID     int64
}

// NewStubDB opens a sql.DB on a freshly registered stub driver.
func NewStubDB() (*sql.DB, *Recorder) {
	rec := &Recorder{}
	name := fmt.Sprintf("obsstore-stub-%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{rec})
	db, err := sql.Open(name, "")
	if err != nil {
		panic(err)
	}
	return db, rec
}

// Statements returns the recorded calls in order.
func (r *Recorder) Statements() []Statement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Statement(nil), r.statements...)
}

// Execs returns the SQL of recorded execs.
func (r *Recorder) Execs() []string {
	var out []string
	for _, s := range r.Statements() {
		if !s.Query {
			out = append(out, s.SQL)
		}
	}
	return out
}

// Saw reports whether any recorded statement contains fragment.
func (r *Recorder) Saw(fragment string) bool {
	for _, s := range r.Statements() {
		if strings.Contains(s.SQL, fragment) {
			return true
		}
	}
	return false
}

// Commits returns the number of committed transactions.
func (r *Recorder) Commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits
}

// Rollbacks returns the number of rolled back transactions.
func (r *Recorder) Rollbacks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rollbacks
}

func (r *Recorder) record(query bool, sqlText string) {
	r.mu.Lock()
	r.statements = append(r.statements, Statement{Query: query, SQL: sqlText})
	r.mu.Unlock()
}

type stubDriver struct{ rec *Recorder }

func (d stubDriver) Open(string) (driver.Conn, error) { return stubConn{d.rec}, nil }

type stubConn struct{ rec *Recorder }

var (
	_ driver.ExecerContext  = stubConn{}
	_ driver.QueryerContext = stubConn{}
	_ driver.ConnBeginTx    = stubConn{}
	_ driver.Pinger         = stubConn{}
)

func (stubConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("stub: prepared statements unsupported")
}

func (stubConn) Close() error { return nil }

func (c stubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c stubConn) Ping(context.Context) error {
	if c.rec.Faults.Ping {
		return errors.New("stub: ping refused")
	}
	return nil
}

func (c stubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.rec.Faults.Begin {
		return nil, errors.New("stub: begin refused")
	}
	return stubTx{c.rec}, nil
}

func (c stubConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.rec.record(false, query)
	if f := c.rec.Faults.Exec; f != "" && strings.Contains(query, f) {
		return nil, fmt.Errorf("stub: exec refused on %q", f)
	}
	return driver.RowsAffected(1), nil
}

func (c stubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.rec.record(true, query)
	if !strings.Contains(query, "RETURNING id") {
		return &stubRows{}, nil
	}
	c.rec.mu.Lock()
	c.rec.lastID++
	id := c.rec.lastID
	c.rec.mu.Unlock()
	return &stubRows{values: [][]driver.Value{{id}}}, nil
}

type stubTx struct{ rec *Recorder }

func (t stubTx) Commit() error {
	if t.rec.Faults.Commit {
		return errors.New("stub: commit refused")
	}
	t.rec.mu.Lock()
	t.rec.commits++
	t.rec.mu.Unlock()
	return nil
}

func (t stubTx) Rollback() error {
	t.rec.mu.Lock()
	t.rec.rollbacks++
	t.rec.mu.Unlock()
	return nil
}

type stubRows struct {
	values [][]driver.Value
	next   int
}

func (*stubRows) Columns() []string { return []string{"id"} }
func (*stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}
