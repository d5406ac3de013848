package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/nexshop/nexid/pkg/client"
)

// Config holds the settings for reaching a nexid deployment.
type Config struct {
	Endpoint string // verify URL, e.g. "http://localhost:8080/identity/verify"
	APIKey   string
}

// NewMCPServer creates a configured MCP server with all nexid tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("nexid", "0.1.0")
	h := NewHandlers(client.New(cfg.Endpoint, cfg.APIKey), client.PollOptions{})

	s.AddTool(ToolVerifyInteraction, h.HandleVerifyInteraction)
	s.AddTool(ToolGetDecision, h.HandleGetDecision)
	s.AddTool(ToolCheckHealth, h.HandleCheckHealth)

	return s
}
