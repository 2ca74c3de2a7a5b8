package pgmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/bridge"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/builder"
)

// RegisterMCPTools registers the eight gateway operations as MCP tools on the
// given MCP server. Every tool answers with a single text content item, also
// on failure, so callers always see the gateway's error text.
func RegisterMCPTools(mcpServer *server.MCPServer, g *Gateway) {
	executeQueryTool := mcp.NewTool("execute_query",
		mcp.WithDescription("Execute a SQL query against the PostgreSQL database. SELECT and WITH queries return rows as JSON; other statements return the command status. Dangerous statements are refused while safe_mode is on."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SQL query to execute. Use $1, $2, ... for parameters."),
		),
		mcp.WithArray("params",
			mcp.Description("Positional parameter values for $1, $2, ..."),
		),
		mcp.WithBoolean("safe_mode",
			mcp.Description("Refuse DROP TABLE, DROP DATABASE, TRUNCATE and unconditioned DELETE/UPDATE (default true)"),
			mcp.DefaultBool(true),
		),
	)

	mcpServer.AddTool(executeQueryTool, g.loggedToolHandler("execute_query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultText("Error: query is required"), nil
		}
		params, err := paramsArgument(req)
		if err != nil {
			return mcp.NewToolResultText("Error: " + err.Error()), nil
		}
		return mcp.NewToolResultText(g.ExecuteQuery(ctx, ExecuteQueryInput{
			Query:      query,
			Params:     params,
			SkipSafety: !req.GetBool("safe_mode", true),
		})), nil
	}))

	getTablesTool := mcp.NewTool("get_tables",
		mcp.WithDescription("List all tables and views outside the system schemas."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(getTablesTool, g.loggedToolHandler("get_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(g.GetTables(ctx)), nil
	}))

	getTableSchemaTool := mcp.NewTool("get_table_schema",
		mcp.WithDescription("Describe the columns of a table: name, data type, nullability, default, length, precision and scale."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table name to describe"),
		),
		mcp.WithString("schema_name",
			mcp.Description("The schema name (defaults to 'public')"),
			mcp.DefaultString(builder.DefaultSchema),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(getTableSchemaTool, g.loggedToolHandler("get_table_schema", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return mcp.NewToolResultText(builder.ErrMissingTable.Error()), nil
		}
		return mcp.NewToolResultText(g.GetTableSchema(ctx, GetTableSchemaInput{
			Table:  table,
			Schema: req.GetString("schema_name", builder.DefaultSchema),
		})), nil
	}))

	selectDataTool := mcp.NewTool("select_data",
		mcp.WithDescription("Select rows from a table. Column list and where clause are written into the SQL as given."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table to read"),
		),
		mcp.WithString("columns",
			mcp.Description("Comma separated column list (defaults to '*')"),
			mcp.DefaultString("*"),
		),
		mcp.WithString("where_clause",
			mcp.Description("Optional filter, without the WHERE keyword"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of rows (defaults to 100)"),
			mcp.DefaultNumber(builder.DefaultLimit),
		),
		mcp.WithString("schema_name",
			mcp.Description("The schema name (defaults to 'public')"),
			mcp.DefaultString(builder.DefaultSchema),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(selectDataTool, g.loggedToolHandler("select_data", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return mcp.NewToolResultText(builder.ErrMissingTable.Error()), nil
		}
		limit := req.GetInt("limit", builder.DefaultLimit)
		return mcp.NewToolResultText(g.SelectData(ctx, SelectInput{
			Table:   table,
			Columns: req.GetString("columns", "*"),
			Where:   req.GetString("where_clause", ""),
			Limit:   &limit,
			Schema:  req.GetString("schema_name", builder.DefaultSchema),
		})), nil
	}))

	insertDataTool := mcp.NewTool("insert_data",
		mcp.WithDescription("Insert one row. Values are bound as parameters."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table to insert into"),
		),
		mcp.WithObject("data",
			mcp.Required(),
			mcp.Description("Column to value mapping. A JSON object string keeps its column order."),
		),
		mcp.WithString("schema_name",
			mcp.Description("The schema name (defaults to 'public')"),
			mcp.DefaultString(builder.DefaultSchema),
		),
	)

	mcpServer.AddTool(insertDataTool, g.loggedToolHandler("insert_data", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return mcp.NewToolResultText(builder.ErrMissingTable.Error()), nil
		}
		data, err := dataArgument(req)
		if err != nil {
			return mcp.NewToolResultText("Error: " + err.Error()), nil
		}
		return mcp.NewToolResultText(g.InsertData(ctx, InsertInput{
			Table:  table,
			Data:   data,
			Schema: req.GetString("schema_name", builder.DefaultSchema),
		})), nil
	}))

	updateDataTool := mcp.NewTool("update_data",
		mcp.WithDescription("Update the rows matched by a where clause. Values are bound as parameters; the where clause is written into the SQL as given."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table to update"),
		),
		mcp.WithObject("data",
			mcp.Required(),
			mcp.Description("Column to new value mapping. A JSON object string keeps its column order."),
		),
		mcp.WithString("where_clause",
			mcp.Required(),
			mcp.Description("Filter selecting the rows to update, without the WHERE keyword"),
		),
		mcp.WithString("schema_name",
			mcp.Description("The schema name (defaults to 'public')"),
			mcp.DefaultString(builder.DefaultSchema),
		),
	)

	mcpServer.AddTool(updateDataTool, g.loggedToolHandler("update_data", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return mcp.NewToolResultText(builder.ErrMissingTable.Error()), nil
		}
		data, err := dataArgument(req)
		if err != nil {
			return mcp.NewToolResultText("Error: " + err.Error()), nil
		}
		return mcp.NewToolResultText(g.UpdateData(ctx, UpdateInput{
			Table:  table,
			Data:   data,
			Where:  req.GetString("where_clause", ""),
			Schema: req.GetString("schema_name", builder.DefaultSchema),
		})), nil
	}))

	deleteDataTool := mcp.NewTool("delete_data",
		mcp.WithDescription("Delete the rows matched by a where clause, which is written into the SQL as given."),
		mcp.WithString("table_name",
			mcp.Required(),
			mcp.Description("The table to delete from"),
		),
		mcp.WithString("where_clause",
			mcp.Required(),
			mcp.Description("Filter selecting the rows to delete, without the WHERE keyword"),
		),
		mcp.WithString("schema_name",
			mcp.Description("The schema name (defaults to 'public')"),
			mcp.DefaultString(builder.DefaultSchema),
		),
		mcp.WithDestructiveHintAnnotation(true),
	)

	mcpServer.AddTool(deleteDataTool, g.loggedToolHandler("delete_data", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		table, err := req.RequireString("table_name")
		if err != nil {
			return mcp.NewToolResultText(builder.ErrMissingTable.Error()), nil
		}
		return mcp.NewToolResultText(g.DeleteData(ctx, DeleteInput{
			Table:  table,
			Where:  req.GetString("where_clause", ""),
			Schema: req.GetString("schema_name", builder.DefaultSchema),
		})), nil
	}))

	databaseInfoTool := mcp.NewTool("get_database_info",
		mcp.WithDescription("Report the PostgreSQL version, current database, current user, and server address and port."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(databaseInfoTool, g.loggedToolHandler("get_database_info", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(g.GetDatabaseInfo(ctx)), nil
	}))
}

// SchedulerMiddleware attaches s to every tool call's context so the
// gateway runs the call's work on s instead of a fresh scheduler.
func SchedulerMiddleware(s *bridge.Scheduler) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return next(bridge.WithScheduler(ctx, s), req)
		}
	}
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (g *Gateway) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		g.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Msg("tool call")
		return result, err
	}
}

// paramsArgument reads the optional "params" array.
func paramsArgument(req mcp.CallToolRequest) ([]any, error) {
	raw, ok := req.GetArguments()["params"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("params must be an array, got %T", raw)
	}
	params := make([]any, len(list))
	for i, v := range list {
		params[i] = wholeNumber(v)
	}
	return params, nil
}

// dataArgument reads the "data" mapping. A JSON object arrives as a Go map
// and its columns are taken in sorted order; a JSON object string keeps its
// document order. A missing or empty mapping yields an empty ColumnValues,
// which the builders reject.
func dataArgument(req mcp.CallToolRequest) (ColumnValues, error) {
	values := NewColumnValues()
	switch raw := req.GetArguments()["data"].(type) {
	case nil:
	case map[string]any:
		for _, k := range slices.Sorted(maps.Keys(raw)) {
			values.Set(k, wholeNumber(raw[k]))
		}
	case string:
		if raw == "" {
			return values, nil
		}
		if err := json.Unmarshal([]byte(raw), values); err != nil {
			return nil, fmt.Errorf("data must be a JSON object: %w", err)
		}
		for pair := values.Oldest(); pair != nil; pair = pair.Next() {
			pair.Value = wholeNumber(pair.Value)
		}
	default:
		return nil, fmt.Errorf("data must be an object, got %T", raw)
	}
	return values, nil
}

// wholeNumber turns an integral JSON number into int64 so it binds to
// integer columns. Other values are returned unchanged.
func wholeNumber(v any) any {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return v
	}
	return int64(f)
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
