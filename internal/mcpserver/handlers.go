package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/nexshop/nexid/pkg/client"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *client.Client
	poll   client.PollOptions
	now    func() time.Time
}

// NewHandlers creates a new Handlers instance. Zero poll options take the
// client defaults.
func NewHandlers(c *client.Client, poll client.PollOptions) *Handlers {
	return &Handlers{client: c, poll: poll, now: time.Now}
}

// HandleVerifyInteraction requests a risk decision for relayed telemetry.
func (h *Handlers) HandleVerifyInteraction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	interaction := req.GetString("context", "")
	if interaction == "" {
		return mcp.NewToolResultError("context is required"), nil
	}

	emailHash := req.GetString("email_hash", "")
	if email := req.GetString("email", ""); email != "" {
		emailHash = client.HashEmail(email)
	}
	payload := client.Payload{
		Context:   interaction,
		UserID:    req.GetString("user_id", ""),
		EmailHash: emailHash,
	}
	snap := client.Snapshot{
		UserAgent:      req.GetString("user_agent", "nexid-mcp"),
		Languages:      []string{},
		Timezone:       "UTC",
		Platform:       "mcp",
		SessionID:      h.client.Collector().SessionID(),
		PageTimeMs:     req.GetFloat("page_time_ms", 0),
		MouseMoves:     req.GetInt("mouse_moves", 0),
		TabInactiveMs:  req.GetFloat("tab_inactive_ms", 0),
		LastActivityTs: float64(h.now().UnixMilli()),
		SDKVersion:     client.SDKVersion,
	}
	async := req.GetBool("async", false)

	resp, err := h.client.VerifySnapshot(ctx, payload, snap, async)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Verification failed: %v", err)), nil
	}

	if async {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Decision is processing.\nRequest ID: %s\n\nUse get_decision with this request_id to fetch the result.",
			resp.RequestID)), nil
	}
	return mcp.NewToolResultText(formatDecision(resp)), nil
}

// HandleGetDecision fetches, or waits for, an async decision.
func (h *Handlers) HandleGetDecision(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("request_id", "")
	if id == "" {
		return mcp.NewToolResultError("request_id is required"), nil
	}

	var (
		resp *client.Response
		err  error
	)
	if req.GetBool("wait", false) {
		resp, err = h.client.Poll(ctx, id, h.poll)
	} else {
		resp, err = h.client.Result(ctx, id)
	}
	if client.IsExpired(err) {
		return mcp.NewToolResultError(fmt.Sprintf(
			"Decision %s has expired and is no longer retained. Submit a new verification.", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get decision: %v", err)), nil
	}

	if resp.Pending() {
		return mcp.NewToolResultText(fmt.Sprintf(
			"Decision %s is still processing. Unknown request IDs also report processing.", id)), nil
	}
	return mcp.NewToolResultText(formatDecision(resp)), nil
}

// HandleCheckHealth summarizes the service health report.
func (h *Handlers) HandleCheckHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	health, err := h.client.Health(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check health: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %s (version %s)\n", health.Status, health.Version)
	for _, check := range health.Checks {
		state := "ok"
		if !check.Healthy {
			state = "FAILING"
		}
		fmt.Fprintf(&sb, "  %s: %s", check.Name, state)
		if check.Detail != "" {
			fmt.Fprintf(&sb, " (%s)", check.Detail)
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func formatDecision(resp *client.Response) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Decision: %s\n", strings.ToUpper(resp.Status))
	fmt.Fprintf(&sb, "Score: %d/100\n", resp.Score)
	if len(resp.Reasons) > 0 {
		fmt.Fprintf(&sb, "Reasons: %s\n", strings.Join(resp.Reasons, ", "))
	}
	if resp.Context != "" {
		fmt.Fprintf(&sb, "Context: %s\n", resp.Context)
	}
	fmt.Fprintf(&sb, "Request ID: %s", resp.RequestID)
	return sb.String()
}
