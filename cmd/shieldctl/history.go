package main

import (
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var withStats bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent verdicts, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			page, err := c.History(cmd.Context())
			if err != nil {
				return err
			}
			if !withStats {
				return a.emit(cmd, page, func(p *printer) { p.history(page) })
			}

			stats, err := c.HistoryStats(cmd.Context())
			if err != nil {
				return err
			}
			out := map[string]any{"history": page, "stats": stats}
			return a.emit(cmd, out, func(p *printer) {
				p.stats(stats)
				p.history(page)
			})
		},
	}
	cmd.Flags().BoolVar(&withStats, "stats", false, "Include totals and averages")
	return cmd
}
