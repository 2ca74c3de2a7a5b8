package main

import (
	"fmt"
	"os"
)

const (
	serverName    = "postgres-mcp-server"
	serverVersion = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("postgres-mcp-server: PostgreSQL tools over the Model Context Protocol")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  postgres-mcp-server serve    Start the MCP server")
	fmt.Println("  postgres-mcp-server doctor   Check configuration and database connectivity")
	fmt.Println("  postgres-mcp-server --help   Show this help message")
	fmt.Println()
	fmt.Println("Configuration is read from the environment:")
	fmt.Println("  POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DATABASE, POSTGRES_USER, POSTGRES_PASSWORD,")
	fmt.Println("  POSTGRES_POOL_MIN, POSTGRES_POOL_MAX, POSTGRES_TIMEOUT,")
	fmt.Println(`  POSTGRES_TIMEOUT_RULES ([{"pattern":"<regex>","seconds":N}, ...]),`)
	fmt.Println("  MCP_TRANSPORT (sse|http|stdio), MCP_HOST, MCP_PORT,")
	fmt.Println("  LOG_LEVEL, LOG_FORMAT (json|text), LOG_OUTPUT (stderr|stdout|<file>)")
}
