package pgmcp_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rickchristie/govner/pgflock/client"
	"github.com/rs/zerolog"

	pgmcp "github.com/ShunsukeTamura06/fastmcp-postgres-server"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/pool/pooltest"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

// acquireTestDB locks a throwaway database from the pgflock locker. Tests
// are skipped when no locker is running.
func acquireTestDB(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Skipf("pgflock locker unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() pgmcp.Config {
	cfg := pgmcp.DefaultConfig().Config
	cfg.Postgres.Pool.Max = 5
	return cfg
}

// configFromConnString fills the connection fields of a default config
// from a postgres URL.
func configFromConnString(t *testing.T, connStr string) pgmcp.Config {
	t.Helper()
	pc, err := pgconn.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("failed to parse connection string: %v", err)
	}
	cfg := defaultConfig()
	cfg.Postgres.Host = pc.Host
	cfg.Postgres.Port = int(pc.Port)
	cfg.Postgres.Database = pc.Database
	cfg.Postgres.User = pc.User
	cfg.Postgres.Password = pc.Password
	return cfg
}

// newTestGateway returns a Gateway over a real, locked test database.
func newTestGateway(t *testing.T) *pgmcp.Gateway {
	t.Helper()
	g := pgmcp.New(configFromConnString(t, acquireTestDB(t)), testLogger())
	t.Cleanup(g.Close)
	return g
}

// newFakeGateway returns a Gateway whose connections come from acq.
func newFakeGateway(t *testing.T, acq *pooltest.Acquirer) *pgmcp.Gateway {
	t.Helper()
	return pgmcp.NewGatewayWithConns(defaultConfig(), acq, testLogger())
}

func setupTable(t *testing.T, g *pgmcp.Gateway, sql string) {
	t.Helper()
	out := g.ExecuteQuery(context.Background(), pgmcp.ExecuteQueryInput{Query: sql, SkipSafety: true})
	if !strings.HasPrefix(out, "Query executed successfully.") {
		t.Fatalf("setup failed: %s", out)
	}
}

func assertText(t *testing.T, got, want string) {
	t.Helper()
	if got != want {
		t.Fatalf("got:\n%s\nwant:\n%s", got, want)
	}
}

func assertPrefix(t *testing.T, got, prefix string) {
	t.Helper()
	if !strings.HasPrefix(got, prefix) {
		t.Fatalf("expected prefix %q, got %q", prefix, got)
	}
}

func assertNoStatements(t *testing.T, acq *pooltest.Acquirer) {
	t.Helper()
	if n := len(acq.Statements()); n != 0 {
		t.Fatalf("expected no statements sent, got %d: %+v", n, acq.Statements())
	}
}
