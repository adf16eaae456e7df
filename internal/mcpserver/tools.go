package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the ScamShield MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetSession = mcp.NewTool("get_session",
	mcp.WithDescription(
		"Show the current call-analysis session: its state (idle, recording, encoding, analyzing, resolved, failed), "+
			"the selected analyzer backend, elapsed recording time, and the verdict or error once it finishes."),
)

var ToolStartRecording = mcp.NewTool("start_recording",
	mcp.WithDescription(
		"Start capturing audio from the phone call. Recording stops automatically after 40 seconds. "+
			"Fails if a session is already recording or being analyzed."),
)

var ToolStopRecording = mcp.NewTool("stop_recording",
	mcp.WithDescription(
		"Stop the current recording and wait for the analysis verdict. "+
			"Returns the risk score, risk level, whether a scam was detected, and advice for the caller."),
	mcp.WithNumber("wait_seconds",
		mcp.Description("How long to wait for the verdict (default 60)")),
)

var ToolAnalyzeCall = mcp.NewTool("analyze_call",
	mcp.WithDescription(
		"Record the call for a fixed number of seconds, then stop and return the verdict in one step. "+
			"Use this when you want a single risk check without managing the session yourself."),
	mcp.WithNumber("record_seconds",
		mcp.Required(),
		mcp.Description("Seconds of audio to capture before stopping (1-40)")),
)

var ToolResetSession = mcp.NewTool("reset_session",
	mcp.WithDescription(
		"Abandon whatever the session is doing and return to idle. "+
			"Any in-flight recording or analysis is discarded and not added to history."),
)

var ToolSelectBackend = mcp.NewTool("select_backend",
	mcp.WithDescription(
		"Choose which analyzer judges the next call. Only allowed while idle or after a verdict."),
	mcp.WithString("backend",
		mcp.Required(),
		mcp.Description("Analyzer backend name"),
		mcp.Enum("structured", "multimodal")),
)

var ToolGetHistory = mcp.NewTool("get_history",
	mcp.WithDescription(
		"List the most recent analyzed calls, newest first, with risk level and scam verdict."),
	mcp.WithBoolean("include_stats",
		mcp.Description("Also summarize totals, scam count and average risk")),
)

var ToolGetAlert = mcp.NewTool("get_alert",
	mcp.WithDescription(
		"Show the scam alert currently open for the user, if any."),
)

var ToolCloseAlert = mcp.NewTool("close_alert",
	mcp.WithDescription(
		"Close the open scam alert. 'dismiss' means the user ignored it, 'review' means they read the details."),
	mcp.WithString("action",
		mcp.Required(),
		mcp.Description("How the alert was closed"),
		mcp.Enum("dismiss", "review")),
)

var ToolListCalls = mcp.NewTool("list_calls",
	mcp.WithDescription(
		"Browse the long-term archive of analyzed calls. Results are paginated; pass next_cursor to continue."),
	mcp.WithBoolean("scam_only",
		mcp.Description("Only return calls judged to be scams")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of calls to return (default 20)")),
	mcp.WithString("cursor",
		mcp.Description("Cursor from a previous list_calls result")),
)

var ToolGetCall = mcp.NewTool("get_call",
	mcp.WithDescription(
		"Fetch one archived call with its full transcript and per-speaker breakdown."),
	mcp.WithString("call_id",
		mcp.Required(),
		mcp.Description("Archived call ID (e.g. 'call_...')")),
)
