package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	pgmcp "github.com/ShunsukeTamura06/fastmcp-postgres-server"
)

func environ(vars ...string) func() []string {
	return func() []string { return vars }
}

func okProbe(info string) probeFunc {
	return func(ctx context.Context, config pgmcp.Config) (string, error) {
		return info, nil
	}
}

const sampleInfo = `[
  {
    "postgresql_version": "PostgreSQL 16.2 on x86_64-pc-linux-gnu",
    "database_name": "app",
    "current_user": "svc",
    "server_address": "10.0.0.5/32",
    "server_port": 5432
  }
]`

func TestDoctor_AllChecksPass(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	var probed pgmcp.Config
	probe := func(ctx context.Context, config pgmcp.Config) (string, error) {
		probed = config
		return sampleInfo, nil
	}

	ok := doctor(&buf, false, environ("POSTGRES_HOST=db.internal", "POSTGRES_DATABASE=app", "POSTGRES_USER=svc"), probe)
	output := buf.String()
	if !ok {
		t.Fatalf("expected all checks to pass:\n%s", output)
	}
	if strings.Contains(output, "✗") {
		t.Fatalf("expected no failures in output:\n%s", output)
	}
	for _, want := range []string{
		"Configuration is valid",
		"Database reachable (svc@db.internal:5432/app)",
		"Server version: PostgreSQL 16.2 on x86_64-pc-linux-gnu",
		"Transport sse http://0.0.0.0:8001/sse",
		"claude mcp add --transport sse postgres http://localhost:8001/sse",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in output:\n%s", want, output)
		}
	}
	if probed.Postgres.Host != "db.internal" {
		t.Fatalf("probe got config %+v", probed.Postgres)
	}
}

func TestDoctor_InvalidConfig(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	probeCalled := false
	probe := func(ctx context.Context, config pgmcp.Config) (string, error) {
		probeCalled = true
		return "", nil
	}

	ok := doctor(&buf, false, environ("MCP_TRANSPORT=carrier-pigeon"), probe)
	output := buf.String()
	if ok {
		t.Fatalf("expected failure:\n%s", output)
	}
	if !strings.Contains(output, "✗ Configuration is valid") {
		t.Fatalf("expected failed config check in output:\n%s", output)
	}
	if !strings.Contains(output, "Fix the issues above") {
		t.Fatalf("expected fix hint in output:\n%s", output)
	}
	if probeCalled {
		t.Fatal("database must not be probed with an invalid config")
	}
}

func TestDoctor_StdioWithStdoutLogging(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ok := doctor(&buf, false, environ("MCP_TRANSPORT=stdio", "LOG_OUTPUT=stdout"), okProbe(sampleInfo))
	if ok {
		t.Fatalf("expected failure:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "LOG_OUTPUT=stdout cannot be used with MCP_TRANSPORT=stdio") {
		t.Fatalf("expected stdio conflict in output:\n%s", buf.String())
	}
}

func TestDoctor_ListsTimeoutRules(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	env := environ(`POSTGRES_TIMEOUT_RULES=[{"pattern":"(?i)pg_sleep","seconds":120}]`)
	if !doctor(&buf, false, env, okProbe(sampleInfo)) {
		t.Fatalf("expected all checks to pass:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), `Timeout 120s for statements matching "(?i)pg_sleep"`) {
		t.Fatalf("expected timeout rule in output:\n%s", buf.String())
	}
}

func TestDoctor_UnreachableDatabase(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	probe := func(ctx context.Context, config pgmcp.Config) (string, error) {
		return "", errors.New("connection refused")
	}

	ok := doctor(&buf, false, environ(), probe)
	output := buf.String()
	if ok {
		t.Fatalf("expected failure:\n%s", output)
	}
	if !strings.Contains(output, "✗ Database reachable (postgres@localhost:5432/postgres): connection refused") {
		t.Fatalf("expected failed connectivity check in output:\n%s", output)
	}
	if strings.Contains(output, "Agent Connection Snippets") {
		t.Fatalf("snippets must not be printed after a failure:\n%s", output)
	}
}

func TestDoctor_SnippetsFollowTransport(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"MCP_TRANSPORT=http":  "claude mcp add --transport http postgres http://localhost:9100/mcp",
		"MCP_TRANSPORT=stdio": `"command": "postgres-mcp-server"`,
		"MCP_TRANSPORT=sse":   "claude mcp add --transport sse postgres http://localhost:9100/sse",
	}
	for transport, want := range cases {
		var buf bytes.Buffer
		if !doctor(&buf, false, environ(transport, "MCP_PORT=9100"), okProbe(sampleInfo)) {
			t.Fatalf("%s: expected success:\n%s", transport, buf.String())
		}
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("%s: expected %q in output:\n%s", transport, want, buf.String())
		}
	}
}

func TestDoctor_ColorOutput(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	doctor(&buf, true, environ(), okProbe(sampleInfo))
	if !strings.Contains(buf.String(), "\033[32m✓\033[0m") {
		t.Fatalf("expected colored pass marks:\n%s", buf.String())
	}
}

func TestServerVersionFrom(t *testing.T) {
	t.Parallel()
	if got := serverVersionFrom(sampleInfo); got != "PostgreSQL 16.2 on x86_64-pc-linux-gnu" {
		t.Fatalf("got %q", got)
	}
	if got := serverVersionFrom("Database error: boom"); got != "" {
		t.Fatalf("expected empty version, got %q", got)
	}
	if got := serverVersionFrom("[]"); got != "" {
		t.Fatalf("expected empty version, got %q", got)
	}
}

func TestPrintCheck(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printCheck(&buf, false, true, "ok")
	printCheck(&buf, false, false, "bad")
	if buf.String() != "  ✓ ok\n  ✗ bad\n" {
		t.Fatalf("got %q", buf.String())
	}
}
