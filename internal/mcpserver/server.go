package mcpserver

import (
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/scamshield/pkg/client"
)

// Config configures the MCP bridge to a running ScamShield server.
type Config struct {
	APIURL       string        // Base URL, e.g. "http://localhost:8080"
	Timeout      time.Duration // Per-request HTTP timeout
	PollInterval time.Duration // How often to poll while waiting for a verdict
}

// NewMCPServer creates a configured MCP server with all ScamShield tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("scamshield", "1.0.0")
	h := NewHandlers(newClient(cfg), cfg.PollInterval)

	s.AddTool(ToolGetSession, h.HandleGetSession)
	s.AddTool(ToolStartRecording, h.HandleStartRecording)
	s.AddTool(ToolStopRecording, h.HandleStopRecording)
	s.AddTool(ToolAnalyzeCall, h.HandleAnalyzeCall)
	s.AddTool(ToolResetSession, h.HandleResetSession)
	s.AddTool(ToolSelectBackend, h.HandleSelectBackend)
	s.AddTool(ToolGetHistory, h.HandleGetHistory)
	s.AddTool(ToolGetAlert, h.HandleGetAlert)
	s.AddTool(ToolCloseAlert, h.HandleCloseAlert)
	s.AddTool(ToolListCalls, h.HandleListCalls)
	s.AddTool(ToolGetCall, h.HandleGetCall)

	return s
}

func newClient(cfg Config) *client.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return client.New(cfg.APIURL, client.WithHTTPClient(&http.Client{Timeout: timeout}))
}
