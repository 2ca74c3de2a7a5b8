package pgmcp_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/mark3labs/mcp-go/server"

	pgmcp "github.com/ShunsukeTamura06/fastmcp-postgres-server"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/bridge"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/pool/pooltest"
)

// mcpTestServer bundles everything needed for an MCP HTTP server test.
type mcpTestServer struct {
	acq     *pooltest.Acquirer
	baseURL string
}

// startMCPTestServer registers the tools of a fake-backed Gateway on a
// stateless streamable HTTP server. The optional healthCheckPath enables
// a health check endpoint next to /mcp.
func startMCPTestServer(t *testing.T, acq *pooltest.Acquirer, healthCheckPath string) *mcpTestServer {
	t.Helper()

	g := newFakeGateway(t, acq)
	scheduler := bridge.NewScheduler()
	t.Cleanup(scheduler.Close)

	mcpServer := server.NewMCPServer("postgres-mcp-server-test", "1.0.0",
		server.WithToolCapabilities(true),
		server.WithToolHandlerMiddleware(pgmcp.SchedulerMiddleware(scheduler)),
	)
	pgmcp.RegisterMCPTools(mcpServer, g)

	mux := http.NewServeMux()
	if healthCheckPath != "" {
		mux.HandleFunc(healthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	}
	streamableServer := server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	)
	mux.Handle("/mcp", streamableServer)

	httpSrv := httptest.NewServer(mux)
	t.Cleanup(httpSrv.Close)

	return &mcpTestServer{acq: acq, baseURL: httpSrv.URL}
}

// jsonRPC sends a JSON-RPC request to the MCP endpoint and returns the parsed response.
func (s *mcpTestServer) jsonRPC(t *testing.T, method string, params any) map[string]any {
	t.Helper()

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		reqBody["params"] = params
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	resp, err := http.Post(s.baseURL+"/mcp", "application/json", strings.NewReader(string(bodyBytes)))
	if err != nil {
		t.Fatalf("JSON-RPC request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d; body: %s", resp.StatusCode, string(respBody))
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("failed to parse response JSON: %v; body: %s", err, string(respBody))
	}
	return result
}

// callTool invokes a tool and returns the text of its single content item.
func (s *mcpTestServer) callTool(t *testing.T, name string, args map[string]any) string {
	t.Helper()
	result := s.jsonRPC(t, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})

	resultObj, ok := result["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %T: %v", result["result"], result)
	}
	if resultObj["isError"] == true {
		t.Fatalf("tool %s reported isError: %v", name, resultObj)
	}
	content, ok := resultObj["content"].([]any)
	if !ok || len(content) != 1 {
		t.Fatalf("expected one content item, got %v", resultObj["content"])
	}
	first := content[0].(map[string]any)
	if first["type"] != "text" {
		t.Fatalf("expected content type 'text', got %q", first["type"])
	}
	return first["text"].(string)
}

func TestMCPServer_ToolsList(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, pooltest.NewAcquirer(1), "")

	result := s.jsonRPC(t, "tools/list", map[string]any{})
	resultObj := result["result"].(map[string]any)
	tools, ok := resultObj["tools"].([]any)
	if !ok {
		t.Fatalf("expected tools array, got %T: %v", resultObj["tools"], resultObj["tools"])
	}

	want := []string{
		"execute_query", "get_tables", "get_table_schema", "select_data",
		"insert_data", "update_data", "delete_data", "get_database_info",
	}
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	toolNames := map[string]bool{}
	for _, tool := range tools {
		toolNames[tool.(map[string]any)["name"].(string)] = true
	}
	for _, name := range want {
		if !toolNames[name] {
			t.Fatalf("expected tool %q in list, got %v", name, toolNames)
		}
	}
}

func TestMCPServer_ExecuteQuery(t *testing.T) {
	t.Parallel()
	acq := pooltest.NewAcquirer(2)
	acq.OnQuery = func(ctx context.Context, sql string, args []any) (pgx.Rows, error) {
		return pooltest.NewRows(
			[]pooltest.Column{{Name: "id", OID: pgtype.Int8OID}, {Name: "name", OID: pgtype.TextOID}},
			[][]any{{int64(7), "alice"}},
		), nil
	}
	s := startMCPTestServer(t, acq, "")

	text := s.callTool(t, "execute_query", map[string]any{
		"query":  "SELECT id, name FROM users WHERE id = $1",
		"params": []any{7},
	})
	assertText(t, text, "[\n  {\n    \"id\": 7,\n    \"name\": \"alice\"\n  }\n]")

	stmt := acq.Statements()[0]
	if len(stmt.Args) != 1 || stmt.Args[0] != int64(7) {
		t.Fatalf("expected integral param bound as int64, got %v (%T)", stmt.Args, stmt.Args[0])
	}
}

func TestMCPServer_ExecuteQuery_SafeMode(t *testing.T) {
	t.Parallel()
	acq := pooltest.NewAcquirer(1)
	acq.OnExec = func(ctx context.Context, sql string, args []any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("DROP TABLE"), nil
	}
	s := startMCPTestServer(t, acq, "")

	text := s.callTool(t, "execute_query", map[string]any{"query": "DROP TABLE users"})
	assertText(t, text, "Error: Dangerous query detected (drop_table). Use safe_mode=false to execute if you're sure.")
	assertNoStatements(t, acq)

	text = s.callTool(t, "execute_query", map[string]any{"query": "DROP TABLE users", "safe_mode": false})
	assertText(t, text, "Query executed successfully. DROP TABLE")
}

func TestMCPServer_InsertData(t *testing.T) {
	t.Parallel()
	acq := pooltest.NewAcquirer(1)
	acq.OnExec = func(ctx context.Context, sql string, args []any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	s := startMCPTestServer(t, acq, "")

	text := s.callTool(t, "insert_data", map[string]any{
		"table_name": "users",
		"data":       map[string]any{"name": "bob", "age": 41},
	})
	assertText(t, text, "Query executed successfully. INSERT 0 1")

	stmt := acq.Statements()[0]
	if stmt.SQL != "INSERT INTO public.users (age, name) VALUES ($1, $2)" {
		t.Fatalf("got %q", stmt.SQL)
	}
	if stmt.Args[0] != int64(41) || stmt.Args[1] != "bob" {
		t.Fatalf("got args %v", stmt.Args)
	}
}

func TestMCPServer_InsertData_EmptyData(t *testing.T) {
	t.Parallel()
	acq := pooltest.NewAcquirer(1)
	s := startMCPTestServer(t, acq, "")

	text := s.callTool(t, "insert_data", map[string]any{"table_name": "users", "data": map[string]any{}})
	assertText(t, text, "Error: No data provided for insertion")
	assertNoStatements(t, acq)
}

func TestMCPServer_UpdateData_StringData(t *testing.T) {
	t.Parallel()
	acq := pooltest.NewAcquirer(1)
	acq.OnExec = func(ctx context.Context, sql string, args []any) (pgconn.CommandTag, error) {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	s := startMCPTestServer(t, acq, "")

	text := s.callTool(t, "update_data", map[string]any{
		"table_name":   "users",
		"data":         `{"name": "carol", "age": 29}`,
		"where_clause": "id = 3",
		"schema_name":  "crm",
	})
	assertText(t, text, "Query executed successfully. UPDATE 1")
	if got := acq.Statements()[0].SQL; got != "UPDATE crm.users SET name = $1, age = $2 WHERE id = 3" {
		t.Fatalf("got %q", got)
	}
}

func TestMCPServer_DeleteData_RequiresWhere(t *testing.T) {
	t.Parallel()
	acq := pooltest.NewAcquirer(1)
	s := startMCPTestServer(t, acq, "")

	text := s.callTool(t, "delete_data", map[string]any{"table_name": "users"})
	assertText(t, text, "Error: WHERE clause is required for DELETE operation")
	assertNoStatements(t, acq)
}

func TestMCPServer_SelectData_Defaults(t *testing.T) {
	t.Parallel()
	acq := pooltest.NewAcquirer(1)
	s := startMCPTestServer(t, acq, "")

	text := s.callTool(t, "select_data", map[string]any{"table_name": "users"})
	assertText(t, text, "[]")
	if got := acq.Statements()[0].SQL; got != "SELECT * FROM public.users LIMIT 100" {
		t.Fatalf("got %q", got)
	}
}

func TestMCPServer_SelectData_ExplicitZeroLimit(t *testing.T) {
	t.Parallel()
	acq := pooltest.NewAcquirer(1)
	s := startMCPTestServer(t, acq, "")

	text := s.callTool(t, "select_data", map[string]any{"table_name": "users", "limit": 0})
	assertText(t, text, "[]")
	if got := acq.Statements()[0].SQL; got != "SELECT * FROM public.users LIMIT 0" {
		t.Fatalf("got %q", got)
	}
}

func TestMCPServer_GetTableSchema_DefaultSchema(t *testing.T) {
	t.Parallel()
	acq := pooltest.NewAcquirer(1)
	s := startMCPTestServer(t, acq, "")

	text := s.callTool(t, "get_table_schema", map[string]any{"table_name": "users"})
	assertText(t, text, "[]")
	if args := acq.Statements()[0].Args; args[0] != "users" || args[1] != "public" {
		t.Fatalf("got args %v", args)
	}
}

func TestMCPServer_DatabaseErrorIsText(t *testing.T) {
	t.Parallel()
	acq := pooltest.NewAcquirer(1)
	acq.OnQuery = func(ctx context.Context, sql string, args []any) (pgx.Rows, error) {
		return nil, &pgconn.PgError{Severity: "ERROR", Code: "42601", Message: `syntax error at or near "SELEC"`}
	}
	s := startMCPTestServer(t, acq, "")

	text := s.callTool(t, "execute_query", map[string]any{"query": "SELECT SELEC"})
	assertPrefix(t, text, "Database error: ")
}

func TestMCPServer_HealthCheckAndMCPCoexist(t *testing.T) {
	t.Parallel()
	s := startMCPTestServer(t, pooltest.NewAcquirer(1), "/healthz")

	resp, err := http.Get(s.baseURL + "/healthz")
	if err != nil {
		t.Fatalf("health check request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != `{"status":"ok"}` {
		t.Fatalf("health check: got %d %q", resp.StatusCode, string(body))
	}

	assertText(t, s.callTool(t, "get_tables", map[string]any{}), "[]")
}
