// nexid MCP Server - exposes risk decisions as MCP tools for LLM agents
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/nexshop/nexid/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		Endpoint: envOrDefault("NEXID_ENDPOINT", "http://localhost:8080/identity/verify"),
		APIKey:   os.Getenv("NEXID_API_KEY"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "NEXID_API_KEY is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
