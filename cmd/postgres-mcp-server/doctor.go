package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	pgmcp "github.com/ShunsukeTamura06/fastmcp-postgres-server"
)

const probeTimeout = 10 * time.Second

// probeFunc checks connectivity and returns the get_database_info output.
type probeFunc func(ctx context.Context, config pgmcp.Config) (string, error)

func runDoctor() error {
	useColor := isTTY(os.Stderr.Fd())
	if !doctor(os.Stderr, useColor, os.Environ, probeDatabase) {
		return errors.New("doctor checks failed")
	}
	return nil
}

func doctor(w io.Writer, useColor bool, environ func() []string, probe probeFunc) bool {
	printBanner(w, useColor)
	fmt.Fprintf(w, "%s %s\n\n", serverName, serverVersion)

	config, ok := doctorValidateConfig(w, useColor, environ)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Fix the issues above and run '%s doctor' again.\n", serverName)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	pg := config.Postgres
	target := fmt.Sprintf("%s@%s:%d/%s", pg.User, pg.Host, pg.Port, pg.Database)
	info, err := probe(ctx, config.Config)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Database reachable (%s): %v", target, err))
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Fix the issues above and run '%s doctor' again.\n", serverName)
		return false
	}
	printCheck(w, useColor, true, fmt.Sprintf("Database reachable (%s)", target))
	if version := serverVersionFrom(info); version != "" {
		printCheck(w, useColor, true, "Server version: "+version)
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config)
	return true
}

// doctorValidateConfig loads and validates the environment configuration,
// printing check results. Returns the config and true if all checks passed.
func doctorValidateConfig(w io.Writer, useColor bool, environ func() []string) (pgmcp.ServerConfig, bool) {
	config, err := pgmcp.LoadServerConfig(environ)
	if err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Configuration is valid: %v", err))
		return config, false
	}
	printCheck(w, useColor, true, "Configuration is valid")

	pg := config.Postgres
	printCheck(w, useColor, true, fmt.Sprintf("Pool size %d..%d, statement timeout %s", pg.Pool.Min, pg.Pool.Max, pg.Timeout()))
	for _, r := range pg.TimeoutRules {
		printCheck(w, useColor, true, fmt.Sprintf("Timeout %ds for statements matching %q", r.Seconds, r.Pattern))
	}

	if pg.Password == "" {
		printCheck(w, useColor, true, "POSTGRES_PASSWORD is empty (trust or .pgpass authentication)")
	}

	if config.MCP.Transport == "stdio" && config.Log.Output == "stdout" {
		printCheck(w, useColor, false, "LOG_OUTPUT=stdout cannot be used with MCP_TRANSPORT=stdio")
		return config, false
	}
	printCheck(w, useColor, true, fmt.Sprintf("Transport %s", transportTarget(config.MCP)))

	return config, true
}

// probeDatabase dials a short-lived gateway and reads get_database_info.
func probeDatabase(ctx context.Context, config pgmcp.Config) (string, error) {
	config.Postgres.Pool.Min = 0
	config.Postgres.Pool.Max = 1
	g := pgmcp.New(config, zerolog.Nop())
	defer g.Close()

	if err := g.Ping(ctx); err != nil {
		return "", err
	}
	info := g.GetDatabaseInfo(ctx)
	if !strings.HasPrefix(info, "[") {
		return "", errors.New(info)
	}
	return info, nil
}

// serverVersionFrom extracts postgresql_version from get_database_info output.
func serverVersionFrom(info string) string {
	var rows []struct {
		Version string `json:"postgresql_version"`
	}
	if err := json.Unmarshal([]byte(info), &rows); err != nil || len(rows) == 0 {
		return ""
	}
	return rows[0].Version
}

func transportTarget(c pgmcp.MCPConfig) string {
	switch c.Transport {
	case "stdio":
		return "stdio"
	case "http":
		return "http://" + c.Addr() + "/mcp"
	default:
		return "sse http://" + c.Addr() + "/sse"
	}
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
	} else {
		fmt.Fprintf(w, "  %s %s\n", mark, msg)
	}
}

// printAgentSnippets prints MCP connection config snippets for AI agents.
func printAgentSnippets(w io.Writer, useColor bool, config pgmcp.ServerConfig) {
	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}

	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	if config.MCP.Transport == "stdio" {
		pg := config.Postgres
		subheading("Claude Desktop / Cursor (mcpServers)")
		fmt.Fprintf(w, `  {
    "mcpServers": {
      "postgres": {
        "command": "%s",
        "args": ["serve"],
        "env": {
          "MCP_TRANSPORT": "stdio",
          "POSTGRES_HOST": "%s",
          "POSTGRES_PORT": "%d",
          "POSTGRES_DATABASE": "%s",
          "POSTGRES_USER": "%s"
        }
      }
    }
  }
`, serverName, pg.Host, pg.Port, pg.Database, pg.User)
		return
	}

	port := config.MCP.Port
	if config.MCP.Transport == "http" {
		url := fmt.Sprintf("http://localhost:%d/mcp", port)
		subheading("Claude Code")
		fmt.Fprintf(w, "    claude mcp add --transport http postgres %s\n\n", url)
		subheading("Cursor (.cursor/mcp.json)")
		fmt.Fprintf(w, `  {
    "mcpServers": {
      "postgres": {
        "url": "%s"
      }
    }
  }
`, url)
		return
	}

	url := fmt.Sprintf("http://localhost:%d/sse", port)
	subheading("Claude Code")
	fmt.Fprintf(w, "    claude mcp add --transport sse postgres %s\n\n", url)
	subheading("Cursor (.cursor/mcp.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "postgres": {
        "type": "sse",
        "url": "%s"
      }
    }
  }
`, url)
}
