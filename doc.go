// Package pgmcp exposes a PostgreSQL database to AI agents as a set of
// Model Context Protocol (MCP) tools.
//
// Eight operations are provided: execute_query, get_tables, get_table_schema,
// select_data, insert_data, update_data, delete_data and get_database_info.
// Each returns text only. Rows come back as pretty-printed JSON, statements
// without rows come back as "Query executed successfully. <command tag>", and
// every failure comes back as readable error text instead of a Go error.
//
// Raw queries pass through a safety check first. While safe mode is on,
// DROP TABLE, DROP DATABASE, TRUNCATE and DELETE/UPDATE without a WHERE
// clause are refused with an explanation and never reach the database. The
// check is a lexical heuristic, not a parser: it is a guard against
// accidents, not a security boundary.
//
// The structured operations (select_data and friends) bind inserted and
// updated values as parameters, but table, schema and column names and the
// where clause are written into the SQL text as given.
//
// # Library Usage
//
//	cfg := pgmcp.DefaultConfig()
//	cfg.Postgres.Host = "db.internal"
//	g := pgmcp.New(cfg, logger)
//	defer g.Close()
//
//	// Use directly
//	out := g.ExecuteQuery(ctx, pgmcp.ExecuteQueryInput{
//		Query:  "SELECT * FROM users WHERE id = $1",
//		Params: []any{42},
//	})
//
//	// Or register as MCP tools
//	pgmcp.RegisterMCPTools(mcpServer, g)
//
// The connection pool is created on first use and shared by every call.
// The number of connections in use never exceeds the configured maximum;
// extra callers wait for a free slot.
package pgmcp
