package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/mbd888/scamshield/internal/alert"
	"github.com/mbd888/scamshield/pkg/client"
)

func newAlertCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "Show the open scam alert",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			al, err := a.client().Alert(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd, al, func(p *printer) { p.alert(al) })
		},
	}
	cmd.AddCommand(
		newAlertCloseCmd(a, "dismiss", "Close the alert without reading it", (*client.Client).DismissAlert),
		newAlertCloseCmd(a, "review", "Mark the alert as read", (*client.Client).ReviewAlert),
	)
	return cmd
}

func newAlertCloseCmd(a *app, use, short string, closeFn func(*client.Client, context.Context) (*alert.Alert, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			al, err := closeFn(a.client(), cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd, al, func(p *printer) { p.linef("Alert %s %s.", al.ID, al.State) })
		},
	}
}
