package pgmcp

import (
	"github.com/rs/zerolog"

	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/pool"
)

// NewGatewayWithConns builds a Gateway over conns instead of a real pool.
func NewGatewayWithConns(config Config, conns pool.Acquirer, logger zerolog.Logger) *Gateway {
	return newGateway(config, conns, logger)
}
