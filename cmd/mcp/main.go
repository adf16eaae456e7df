// ScamShield MCP Server - Exposes call risk analysis as MCP tools for LLMs
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/scamshield/internal/mcpserver"
	"github.com/mbd888/scamshield/pkg/client"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:       envOrDefault("SCAMSHIELD_API_URL", client.DefaultURL),
		Timeout:      envDuration("SCAMSHIELD_TIMEOUT", 30*time.Second),
		PollInterval: envDuration("SCAMSHIELD_POLL_INTERVAL", 500*time.Millisecond),
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

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		fmt.Fprintf(os.Stderr, "ignoring invalid %s=%q\n", key, v)
	}
	return defaultValue
}
