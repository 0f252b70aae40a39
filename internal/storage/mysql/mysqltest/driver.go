// Package mysqltest provides a scripted database/sql driver for store tests.
// Each test lists the statements it expects in order; any deviation fails the
// call that caused it.
package mysqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// Kind identifies the driver call an Op answers.
type Kind int

const (
	KindExec Kind = iota
	KindQuery
	KindBegin
	KindCommit
	KindRollback
)

func (k Kind) String() string {
	switch k {
	case KindExec:
		return "exec"
	case KindQuery:
		return "query"
	case KindBegin:
		return "begin"
	case KindCommit:
		return "commit"
	case KindRollback:
		return "rollback"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Op is one expected driver call and its scripted answer. An empty Query
// matches any statement.
type Op struct {
	Kind         Kind
	Query        string
	RowsAffected int64
	Columns      []string
	Values       [][]driver.Value
	Err          error
}

// WithErr returns a copy of the op that fails with err.
func (o Op) WithErr(err error) Op {
	o.Err = err
	return o
}

// Exec expects an ExecContext call.
func Exec(query string, rowsAffected int64) Op {
	return Op{Kind: KindExec, Query: query, RowsAffected: rowsAffected}
}

// Query expects a QueryContext call returning the given rows.
func Query(query string, columns []string, values ...[]driver.Value) Op {
	return Op{Kind: KindQuery, Query: query, Columns: columns, Values: values}
}

// Begin expects a transaction start.
func Begin() Op { return Op{Kind: KindBegin} }

// Commit expects a transaction commit.
func Commit() Op { return Op{Kind: KindCommit} }

// Rollback expects a transaction rollback.
func Rollback() Op { return Op{Kind: KindRollback} }

// Call records the statement and arguments the store actually sent.
type Call struct {
	Kind  Kind
	Query string
	Args  []driver.Value
}

// Driver replays a fixed script of operations.
type Driver struct {
	ops []Op
	idx int32

	mu    sync.Mutex
	calls []Call
}

var driverSeq atomic.Int32

// NewDB registers a fresh driver for ops and opens a single-connection pool on it.
func NewDB(t testing.TB, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("mysqltest-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open scripted db: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

// AssertConsumed fails the test when part of the script was never reached.
func (d *Driver) AssertConsumed(t testing.TB) {
	t.Helper()
	if got := int(atomic.LoadInt32(&d.idx)); got != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", got, len(d.ops))
	}
}

// Calls returns the exec and query calls seen so far.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Open implements driver.Driver.
func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(kind Kind, query string, args []driver.NamedValue) (*Op, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected %s: %s", kind, NormalizeSQL(query))
	}
	op := &d.ops[idx]
	if op.Kind != kind {
		return nil, fmt.Errorf("expected %s, got %s", op.Kind, kind)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.Query != "" && NormalizeSQL(op.Query) != NormalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", NormalizeSQL(op.Query), NormalizeSQL(query))
	}
	if kind == KindExec || kind == KindQuery {
		values := make([]driver.Value, len(args))
		for i, arg := range args {
			values[i] = arg.Value
		}
		d.mu.Lock()
		d.calls = append(d.calls, Call{Kind: kind, Query: NormalizeSQL(query), Args: values})
		d.mu.Unlock()
	}
	return op, nil
}

// NormalizeSQL collapses whitespace so scripts can be written across lines.
func NormalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(KindBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if op.Err != nil {
		return nil, op.Err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(KindExec, query, args)
	if err != nil {
		return nil, err
	}
	if op.Err != nil {
		return nil, op.Err
	}
	return result(op.RowsAffected), nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(KindQuery, query, args)
	if err != nil {
		return nil, err
	}
	if op.Err != nil {
		return nil, op.Err
	}
	return &rows{columns: op.Columns, values: op.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

// CheckNamedValue accepts every argument type so stores can pass bools and
// int64s without a value converter.
func (c *conn) CheckNamedValue(*driver.NamedValue) error { return nil }

type result int64

func (r result) LastInsertId() (int64, error) { return 0, nil }
func (r result) RowsAffected() (int64, error) { return int64(r), nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(KindCommit, "", nil)
	if err != nil {
		return err
	}
	return op.Err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(KindRollback, "", nil)
	if err != nil {
		return err
	}
	return op.Err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}
