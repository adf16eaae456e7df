package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/scamshield/pkg/client"
)

// app carries the persistent flags shared by every subcommand.
type app struct {
	server  string
	timeout time.Duration
	jsonOut bool
	noColor bool
}

func (a *app) client() *client.Client {
	return client.New(a.server, client.WithHTTPClient(&http.Client{Timeout: a.timeout}))
}

// emit prints v as indented JSON when --json is set, otherwise calls human.
func (a *app) emit(cmd *cobra.Command, v any, human func(p *printer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(newPrinter(cmd.OutOrStdout(), !a.noColor))
	return nil
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "shieldctl",
		Short: "Control a ScamShield call-analysis server",
		Long: `shieldctl talks to a running ScamShield server over its HTTP API.

Quick Start:
  shieldctl record                 # Start capturing the call
  shieldctl stop                   # Stop and wait for the verdict
  shieldctl analyze --seconds 20   # Record, stop and judge in one step
  shieldctl history --stats        # Recent verdicts with totals`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&a.server, "server", "s", envOr("SCAMSHIELD_API_URL", client.DefaultURL), "ScamShield server base URL")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "Per-request HTTP timeout")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print raw JSON instead of formatted output")
	root.PersistentFlags().BoolVar(&a.noColor, "no-color", os.Getenv("NO_COLOR") != "", "Disable colored output")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newStatusCmd(a),
		newRecordCmd(a),
		newStopCmd(a),
		newAnalyzeCmd(a),
		newResetCmd(a),
		newBackendCmd(a),
		newHistoryCmd(a),
		newAlertCmd(a),
		newCallsCmd(a),
		newInfoCmd(a),
	)
	return root
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show server configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := a.client().Info(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd, info, func(p *printer) { p.info(info) })
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
