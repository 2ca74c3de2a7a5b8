package pgmcp

import (
	"context"

	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/builder"
)

const getTableSchemaSQL = `
SELECT
    column_name,
    data_type,
    is_nullable,
    column_default,
    character_maximum_length,
    numeric_precision,
    numeric_scale
FROM information_schema.columns
WHERE table_name = $1 AND table_schema = $2
ORDER BY ordinal_position;
`

// GetTableSchema returns the column metadata of one table in declaration
// order. Table and schema are bound as parameters. An unknown table yields [].
func (g *Gateway) GetTableSchema(ctx context.Context, input GetTableSchemaInput) string {
	schema := input.Schema
	if schema == "" {
		schema = builder.DefaultSchema
	}
	return g.run(ctx, "get_table_schema", func(ctx context.Context) string {
		res := g.dispatcher.Dispatch(ctx, getTableSchemaSQL, []any{input.Table, schema}, false)
		return catalogText(res, "Failed to get schema: ")
	})
}
