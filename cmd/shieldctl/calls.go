package main

import (
	"github.com/spf13/cobra"

	"github.com/mbd888/scamshield/pkg/client"
)

func newCallsCmd(a *app) *cobra.Command {
	var opts client.ListCallsOptions
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Browse archived calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := a.client().ListCalls(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.emit(cmd, page, func(p *printer) { p.calls(page) })
		},
	}
	cmd.Flags().BoolVar(&opts.ScamOnly, "scam-only", false, "Only calls judged to be scams")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum calls per page")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "Cursor from a previous page")

	cmd.AddCommand(&cobra.Command{
		Use:   "show <call-id>",
		Short: "Show one archived call with its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			call, err := a.client().GetCall(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd, call, func(p *printer) { p.call(call) })
		},
	})
	return cmd
}
