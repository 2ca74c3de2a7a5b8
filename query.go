package pgmcp

import (
	"context"
)

// ExecuteQuery runs one raw statement. Reads (SELECT, WITH) return the rows
// as pretty JSON; anything else returns "Query executed successfully. <tag>".
// Unless input.SkipSafety is set, a statement matching a destructive pattern
// is refused without touching the pool.
func (g *Gateway) ExecuteQuery(ctx context.Context, input ExecuteQueryInput) string {
	return g.run(ctx, "execute_query", func(ctx context.Context) string {
		return g.dispatcher.Dispatch(ctx, input.Query, input.Params, !input.SkipSafety).Text()
	})
}
