package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the nexid MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolVerifyInteraction = mcp.NewTool("verify_interaction",
	mcp.WithDescription(
		"Ask nexid for a risk decision (allow, review or deny) on a login, checkout or sensitive action. "+
			"Supply the behavioral signals you observed for the session. "+
			"Returns the status, a 0-100 score and the reasons behind it. "+
			"With async=true the decision is computed in the background; use get_decision with the returned request ID."),
	mcp.WithString("context",
		mcp.Required(),
		mcp.Description("Interaction being verified"),
		mcp.Enum("login", "checkout", "sensitive")),
	mcp.WithString("user_id",
		mcp.Description("Application user ID, matched against trust and block lists")),
	mcp.WithString("email",
		mcp.Description("User email. It is hashed locally before sending; the address never leaves this process.")),
	mcp.WithString("email_hash",
		mcp.Description("Pre-computed lower-case SHA-256 hex of the email. Ignored when email is given.")),
	mcp.WithNumber("page_time_ms",
		mcp.Description("Active milliseconds spent on the page before the action (default 0)")),
	mcp.WithNumber("mouse_moves",
		mcp.Description("Pointer movements observed during the session (default 0)")),
	mcp.WithNumber("tab_inactive_ms",
		mcp.Description("Milliseconds the tab spent unfocused (default 0)")),
	mcp.WithString("user_agent",
		mcp.Description("Client user agent string")),
	mcp.WithBoolean("async",
		mcp.Description("Return immediately and compute the decision in the background")),
)

var ToolGetDecision = mcp.NewTool("get_decision",
	mcp.WithDescription(
		"Fetch the result of an async verification by request ID. "+
			"Reports 'processing' while the decision is pending, and an error once a retained result has expired. "+
			"With wait=true, polls until the decision is ready or about ten seconds pass."),
	mcp.WithString("request_id",
		mcp.Required(),
		mcp.Description("Request ID returned by verify_interaction")),
	mcp.WithBoolean("wait",
		mcp.Description("Poll until the decision is ready (default false)")),
)

var ToolCheckHealth = mcp.NewTool("check_service_health",
	mcp.WithDescription(
		"Report whether the nexid decision service and its dependencies (lists, job dispatcher, result store, database, Redis) are healthy."),
)
