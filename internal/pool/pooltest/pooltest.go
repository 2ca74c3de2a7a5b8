// Package pooltest provides in-memory stand-ins for pool.Acquirer, pool.Conn
// and pgx.Rows so statement handling can be tested without a database.
package pooltest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/pool"
)

// Statement is one call observed by a fake connection.
type Statement struct {
	SQL  string
	Args []any

	// Query is true for Conn.Query, false for Conn.Exec.
	Query bool
}

// QueryFunc answers Conn.Query.
type QueryFunc func(ctx context.Context, sql string, args []any) (pgx.Rows, error)

// ExecFunc answers Conn.Exec.
type ExecFunc func(ctx context.Context, sql string, args []any) (pgconn.CommandTag, error)

// Acquirer is a pool.Acquirer backed by handler functions. It enforces a
// MaxConns ceiling the way the real pool does and records peak concurrency.
// The zero value is not usable; call NewAcquirer.
type Acquirer struct {
	OnQuery QueryFunc
	OnExec  ExecFunc

	// AcquireErr, when set, fails every acquisition.
	AcquireErr error

	slots    chan struct{}
	acquired atomic.Int64
	released atomic.Int64
	current  atomic.Int64
	peak     atomic.Int64

	mu         sync.Mutex
	statements []Statement
}

var _ pool.Acquirer = (*Acquirer)(nil)

// NewAcquirer returns an Acquirer allowing maxConns concurrent connections.
// Unset handlers return empty results.
func NewAcquirer(maxConns int) *Acquirer {
	return &Acquirer{slots: make(chan struct{}, maxConns)}
}

// WithConn implements pool.Acquirer.
func (a *Acquirer) WithConn(ctx context.Context, fn func(ctx context.Context, conn pool.Conn) error) error {
	select {
	case a.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-a.slots }()

	if a.AcquireErr != nil {
		return a.AcquireErr
	}

	a.acquired.Add(1)
	n := a.current.Add(1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer func() {
		a.current.Add(-1)
		a.released.Add(1)
	}()

	return fn(ctx, &conn{a: a})
}

// Statements returns a copy of every statement sent so far.
func (a *Acquirer) Statements() []Statement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Statement(nil), a.statements...)
}

// Acquired is the number of successful acquisitions.
func (a *Acquirer) Acquired() int64 { return a.acquired.Load() }

// Released is the number of connections handed back.
func (a *Acquirer) Released() int64 { return a.released.Load() }

// Peak is the highest number of simultaneously held connections.
func (a *Acquirer) Peak() int64 { return a.peak.Load() }

func (a *Acquirer) record(s Statement) {
	a.mu.Lock()
	a.statements = append(a.statements, s)
	a.mu.Unlock()
}

type conn struct {
	a *Acquirer
}

func (c *conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.a.record(Statement{SQL: sql, Args: args, Query: true})
	if c.a.OnQuery == nil {
		return NewRows(nil, nil), nil
	}
	return c.a.OnQuery(ctx, sql, args)
}

func (c *conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.a.record(Statement{SQL: sql, Args: args})
	if c.a.OnExec == nil {
		return pgconn.NewCommandTag(""), nil
	}
	return c.a.OnExec(ctx, sql, args)
}

// Column describes one result column.
type Column struct {
	Name string
	OID  uint32
}

// Rows is a pgx.Rows over fixed values.
type Rows struct {
	fields []pgconn.FieldDescription
	values [][]any
	pos    int
	err    error
	closed bool

	// FailAt makes Values fail on the given 1-based row.
	FailAt int
}

var _ pgx.Rows = (*Rows)(nil)

// NewRows returns rows with the given columns and values.
func NewRows(columns []Column, values [][]any) *Rows {
	fields := make([]pgconn.FieldDescription, len(columns))
	for i, c := range columns {
		fields[i] = pgconn.FieldDescription{Name: c.Name, DataTypeOID: c.OID}
	}
	return &Rows{fields: fields, values: values}
}

// ErrRows returns rows that report err after iteration.
func ErrRows(err error) *Rows {
	return &Rows{err: err}
}

// Closed reports whether Close was called.
func (r *Rows) Closed() bool { return r.closed }

func (r *Rows) Close()                                       { r.closed = true }
func (r *Rows) Err() error                                   { return r.err }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	if r.closed || r.err != nil || r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Values() ([]any, error) {
	if r.FailAt != 0 && r.pos == r.FailAt {
		return nil, errors.New("cannot decode row")
	}
	return r.values[r.pos-1], nil
}

func (r *Rows) Scan(dest ...any) error {
	return errors.New("pooltest: Scan is not supported")
}
