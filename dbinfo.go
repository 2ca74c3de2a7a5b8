package pgmcp

import (
	"context"
)

const databaseInfoSQL = `
SELECT
    version() AS postgresql_version,
    current_database() AS database_name,
    current_user AS current_user,
    inet_server_addr() AS server_address,
    inet_server_port() AS server_port
`

// GetDatabaseInfo returns a one-row JSON array with the server version,
// current database and user, and the server address and port. The address
// is null over a Unix socket.
func (g *Gateway) GetDatabaseInfo(ctx context.Context) string {
	return g.run(ctx, "get_database_info", func(ctx context.Context) string {
		return g.dispatcher.Dispatch(ctx, databaseInfoSQL, nil, true).Text()
	})
}
