package pgmcp

import (
	"context"

	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/dispatch"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/normalize"
)

const getTablesSQL = `
SELECT
    table_name,
    table_type,
    table_schema
FROM information_schema.tables
WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY table_schema, table_name;
`

// GetTables lists tables and views outside the system schemas as a JSON
// array of {table_name, table_type, table_schema}. On failure the array holds
// a single {"error": "Failed to get tables: ..."} entry.
func (g *Gateway) GetTables(ctx context.Context) string {
	return g.run(ctx, "get_tables", func(ctx context.Context) string {
		res := g.dispatcher.Dispatch(ctx, getTablesSQL, nil, false)
		return catalogText(res, "Failed to get tables: ")
	})
}

// catalogText renders a catalog lookup. Errors are reported inside the
// result list rather than as plain text.
func catalogText(res *dispatch.Result, prefix string) string {
	if res.Err == nil {
		return res.Text()
	}
	out, err := normalize.Marshal([]map[string]string{{"error": prefix + res.Err.Error()}})
	if err != nil {
		return prefix + res.Err.Error()
	}
	return out
}
