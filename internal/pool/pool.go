// Package pool owns the shared PostgreSQL connection pool.
//
// A Manager dials lazily on first use and keeps the resulting Handle for the
// rest of the process. A failed dial leaves the slot empty so a later call can
// try again. Each statement borrows one connection through Handle.WithConn,
// which caps in-flight statements at the pool's max size and always returns
// the connection, including on error and cancellation.
package pool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Conn is the part of a pooled connection used to run one statement.
// *pgxpool.Conn satisfies it.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Acquirer lends a connection for the duration of fn.
type Acquirer interface {
	WithConn(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error
}

// Config holds connection settings. It is read once, when the Manager is built.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MinConns int32
	MaxConns int32

	// DialTimeout bounds the initial dial and ping. Zero means defaultDialTimeout.
	DialTimeout time.Duration
}

const defaultDialTimeout = 30 * time.Second

// ConnString renders c as a libpq key/value connection string.
func (c Config) ConnString() string {
	parts := []string{
		fmt.Sprintf("host=%s", quoteDSN(c.Host)),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("dbname=%s", quoteDSN(c.Database)),
		fmt.Sprintf("user=%s", quoteDSN(c.User)),
		fmt.Sprintf("password=%s", quoteDSN(c.Password)),
	}
	return strings.Join(parts, " ")
}

// quoteDSN quotes a value according to libpq rules: empty values become '',
// and values with anything other than alphanumerics, '.', '_' or '-' are
// single-quoted with backslashes and quotes escaped.
func quoteDSN(value string) string {
	if value == "" {
		return "''"
	}
	needsQuoting := false
	for _, r := range value {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') && r != '.' && r != '_' && r != '-' {
			needsQuoting = true
			break
		}
	}
	if !needsQuoting {
		return value
	}
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, "'", `\'`)
	return "'" + escaped + "'"
}

// Handle is the shared pool. All methods are safe for concurrent use.
type Handle struct {
	acquire func(ctx context.Context) (Conn, func(), error)
	close   func()
	slots   chan struct{}
}

func newHandle(maxConns int32, acquire func(ctx context.Context) (Conn, func(), error), closeFn func()) *Handle {
	if maxConns <= 0 {
		panic("pool: max conns must be > 0")
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	return &Handle{
		acquire: acquire,
		close:   closeFn,
		slots:   make(chan struct{}, maxConns),
	}
}

// WithConn borrows a connection for fn. Callers beyond the max size wait for
// a free slot or for ctx to end. The connection goes back to the pool when fn
// returns, fails, or panics.
func (h *Handle) WithConn(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	select {
	case h.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("failed to acquire connection slot: all %d slots are in use, context cancelled while waiting: %w", cap(h.slots), ctx.Err())
	}
	defer func() { <-h.slots }()

	conn, release, err := h.acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	return fn(ctx, conn)
}

// InFlight reports how many statements currently hold a connection.
func (h *Handle) InFlight() int {
	return len(h.slots)
}

// MaxConns returns the in-flight ceiling.
func (h *Handle) MaxConns() int {
	return cap(h.slots)
}

// Close closes the underlying pool.
func (h *Handle) Close() {
	h.close()
}

// connectFunc dials a new Handle.
type connectFunc func(ctx context.Context, config Config) (*Handle, error)

// Manager hands out the process-wide Handle, dialing it on first use.
type Manager struct {
	config  Config
	connect connectFunc
	logger  zerolog.Logger

	sfg    singleflight.Group
	mu     sync.RWMutex
	handle *Handle
}

// NewManager returns a Manager for config. No connection is made until the
// first call to Acquire or WithConn.
func NewManager(config Config, logger zerolog.Logger) *Manager {
	return newManager(config, logger, connectPgx)
}

func newManager(config Config, logger zerolog.Logger, connect connectFunc) *Manager {
	return &Manager{config: config, connect: connect, logger: logger}
}

// Acquire returns the shared Handle. The first successful call dials the
// pool; later calls reuse it. Concurrent first calls share a single dial. A
// failed dial is returned to its callers and not cached.
//
// The dial is detached from any one caller's cancellation and bounded by
// DialTimeout instead. A caller whose ctx ends stops waiting; the dial keeps
// going for the others.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	if h := m.existing(); h != nil {
		return h, nil
	}

	ch := m.sfg.DoChan("pool", func() (any, error) {
		if h := m.existing(); h != nil {
			return h, nil
		}
		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.dialTimeout())
		defer cancel()
		return m.create(dialCtx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire database connection pool: %w", ctx.Err())
	}
}

func (m *Manager) dialTimeout() time.Duration {
	if m.config.DialTimeout > 0 {
		return m.config.DialTimeout
	}
	return defaultDialTimeout
}

func (m *Manager) existing() *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle
}

func (m *Manager) create(ctx context.Context) (*Handle, error) {
	h, err := m.connect(ctx, m.config)
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("host", m.config.Host).
			Int("port", m.config.Port).
			Str("database", m.config.Database).
			Msg("database connection pool creation failed")
		return nil, fmt.Errorf("failed to create database connection pool: %w", err)
	}

	m.logger.Info().
		Str("host", m.config.Host).
		Int("port", m.config.Port).
		Str("database", m.config.Database).
		Int32("min_conns", m.config.MinConns).
		Int32("max_conns", m.config.MaxConns).
		Msg("database connection pool created")

	m.mu.Lock()
	m.handle = h
	m.mu.Unlock()
	return h, nil
}

// WithConn acquires the shared Handle and borrows a connection from it.
func (m *Manager) WithConn(ctx context.Context, fn func(ctx context.Context, conn Conn) error) error {
	h, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	return h.WithConn(ctx, fn)
}

// Close closes the Handle if one was created. Intended for process exit.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle != nil {
		m.handle.Close()
		m.handle = nil
	}
}

// connectPgx dials a pgxpool and verifies it with a ping.
func connectPgx(ctx context.Context, config Config) (*Handle, error) {
	poolConfig, err := pgxpool.ParseConfig(config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection settings: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	// Server-described parameter types let JSON numbers bind to integer columns.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec

	p, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newHandle(config.MaxConns, func(ctx context.Context) (Conn, func(), error) {
		c, err := p.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Release, nil
	}, p.Close), nil
}
