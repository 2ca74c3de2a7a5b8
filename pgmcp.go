package pgmcp

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/bridge"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/dispatch"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/pool"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/safety"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/timeout"
)

// Gateway is the core engine behind the MCP tools. Every exported operation
// returns text and never a Go error; failures come back as error text.
// All exported methods are safe for concurrent use from multiple goroutines.
type Gateway struct {
	config     Config
	conns      pool.Acquirer
	pool       *pool.Manager
	dispatcher *dispatch.Dispatcher
	logger     zerolog.Logger
}

// New creates a Gateway. No connection is made here: the shared pool is
// dialed on the first operation and reused afterwards. A failed dial is
// reported to that operation and retried by the next one.
// Panics on invalid config.
func New(config Config, logger zerolog.Logger) *Gateway {
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("pgmcp: %v", err))
	}
	mgr := pool.NewManager(config.Postgres.poolConfig(), logger)
	g := newGateway(config, mgr, logger)
	g.pool = mgr
	return g
}

func newGateway(config Config, conns pool.Acquirer, logger zerolog.Logger) *Gateway {
	if config.Postgres.TimeoutSeconds <= 0 {
		panic("pgmcp: postgres.timeout must be > 0")
	}
	tmgr, err := timeout.NewManager(config.Postgres.timeoutConfig())
	if err != nil {
		panic(fmt.Sprintf("pgmcp: %v", err))
	}
	return &Gateway{
		config:     config,
		conns:      conns,
		dispatcher: dispatch.New(safety.NewDefaultClassifier(), conns, tmgr, logger),
		logger:     logger,
	}
}

// Close closes the connection pool if it was ever dialed.
func (g *Gateway) Close() {
	if g.pool != nil {
		g.pool.Close()
	}
}

// Ping borrows a connection and runs a trivial statement.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.conns.WithConn(ctx, func(ctx context.Context, conn pool.Conn) error {
		_, err := conn.Exec(ctx, "SELECT 1")
		return err
	})
}

// run drives work through the execution bridge and folds a bridge fault
// into the returned text.
func (g *Gateway) run(ctx context.Context, operation string, work func(ctx context.Context) string) string {
	out, err := bridge.Run(ctx, func(ctx context.Context) (string, error) {
		return work(ctx), nil
	})
	if err != nil {
		g.logger.Error().
			Err(err).
			Str("operation", operation).
			Msg("operation failed")
		return "Error executing database operation: " + err.Error()
	}
	return out
}

// rejected logs a request refused before any SQL was sent and returns its text.
func (g *Gateway) rejected(operation string, err error) string {
	g.logger.Warn().
		Str("operation", operation).
		Str("reason", err.Error()).
		Msg("request rejected")
	return err.Error()
}
