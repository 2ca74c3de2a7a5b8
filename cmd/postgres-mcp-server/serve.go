package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	pgmcp "github.com/ShunsukeTamura06/fastmcp-postgres-server"
	"github.com/ShunsukeTamura06/fastmcp-postgres-server/internal/bridge"
)

const shutdownTimeout = 10 * time.Second

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load ServerConfig
	serverConfig, err := pgmcp.LoadServerConfig(nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. Setup logger
	logger, closeLog := setupLogger(serverConfig.Log, isTTY(os.Stderr.Fd()))
	defer closeLog()

	// 3. Create the gateway; the pool is dialed on the first tool call.
	gateway := pgmcp.New(serverConfig.Config, logger)
	defer gateway.Close()

	scheduler := bridge.NewScheduler()
	defer scheduler.Close()

	// 4. Create MCP server with initialize lifecycle logging
	mcpServer := newMCPServer(gateway, scheduler, logger)

	// 5. Serve on the configured transport
	logger.Info().
		Str("transport", serverConfig.MCP.Transport).
		Str("addr", serverConfig.MCP.Addr()).
		Str("database", serverConfig.Postgres.Database).
		Msg("starting " + serverName)

	switch serverConfig.MCP.Transport {
	case "stdio":
		return server.ServeStdio(mcpServer)
	case "http":
		streamableServer := server.NewStreamableHTTPServer(mcpServer,
			server.WithEndpointPath("/mcp"),
			server.WithStateLess(true),
		)
		return serveHTTP(ctx, logger, serverConfig.MCP.Addr(), streamableServer)
	default:
		sseServer := server.NewSSEServer(mcpServer)
		return serveHTTP(ctx, logger, serverConfig.MCP.Addr(), sseServer)
	}
}

func newMCPServer(gateway *pgmcp.Gateway, scheduler *bridge.Scheduler, logger zerolog.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(pgmcp.SchedulerMiddleware(scheduler)),
	)
	pgmcp.RegisterMCPTools(mcpServer, gateway)
	return mcpServer
}

// httpTransport is implemented by both mcp-go HTTP transports.
type httpTransport interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// serveHTTP runs srv until it fails or ctx is cancelled, then shuts it down.
func serveHTTP(ctx context.Context, logger zerolog.Logger, addr string, srv httpTransport) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// setupLogger builds the process logger. An empty format means text on a
// terminal and JSON otherwise. The returned func closes a log file, if any.
func setupLogger(config pgmcp.LoggingConfig, terminal bool) (zerolog.Logger, func()) {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	closeFn := func() {}
	var output io.Writer = os.Stderr
	switch config.Output {
	case "", "stderr":
	case "stdout":
		output = os.Stdout
		terminal = isTTY(os.Stdout.Fd())
	default:
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
			terminal = false
			closeFn = func() { f.Close() }
		}
	}

	format := config.Format
	if format == "" {
		format = "json"
		if terminal {
			format = "text"
		}
	}
	if format == "text" {
		output = zerolog.ConsoleWriter{Out: output, NoColor: !terminal}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), closeFn
}
