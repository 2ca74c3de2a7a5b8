package pgmcp

import (
	"context"

	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/builder"
)

// The structured operations write table, schema and column names and the
// where clause into the SQL text unescaped. Only inserted and updated values
// are bound as parameters. All four run with safe mode on.

// SelectData runs SELECT <columns> FROM <schema>.<table> [WHERE ...] LIMIT <n>.
func (g *Gateway) SelectData(ctx context.Context, input SelectInput) string {
	stmt, err := builder.BuildSelect(builder.Select{
		Table:   input.Table,
		Schema:  input.Schema,
		Columns: input.Columns,
		Where:   input.Where,
		Limit:   input.Limit,
	})
	if err != nil {
		return g.rejected("select_data", err)
	}
	return g.dispatchSafe(ctx, "select_data", stmt)
}

// InsertData inserts one row. Placeholders follow the order of input.Data.
func (g *Gateway) InsertData(ctx context.Context, input InsertInput) string {
	stmt, err := builder.BuildInsert(builder.Insert{
		Table:  input.Table,
		Schema: input.Schema,
		Data:   input.Data,
	})
	if err != nil {
		return g.rejected("insert_data", err)
	}
	return g.dispatchSafe(ctx, "insert_data", stmt)
}

// UpdateData updates the rows matched by input.Where, which is required.
func (g *Gateway) UpdateData(ctx context.Context, input UpdateInput) string {
	stmt, err := builder.BuildUpdate(builder.Update{
		Table:  input.Table,
		Schema: input.Schema,
		Data:   input.Data,
		Where:  input.Where,
	})
	if err != nil {
		return g.rejected("update_data", err)
	}
	return g.dispatchSafe(ctx, "update_data", stmt)
}

// DeleteData deletes the rows matched by input.Where, which is required.
func (g *Gateway) DeleteData(ctx context.Context, input DeleteInput) string {
	stmt, err := builder.BuildDelete(builder.Delete{
		Table:  input.Table,
		Schema: input.Schema,
		Where:  input.Where,
	})
	if err != nil {
		return g.rejected("delete_data", err)
	}
	return g.dispatchSafe(ctx, "delete_data", stmt)
}

func (g *Gateway) dispatchSafe(ctx context.Context, operation string, stmt builder.Statement) string {
	return g.run(ctx, operation, func(ctx context.Context) string {
		return g.dispatcher.Dispatch(ctx, stmt.SQL, stmt.Args, true).Text()
	})
}
