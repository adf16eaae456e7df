package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbd888/scamshield/internal/capture"
	"github.com/mbd888/scamshield/internal/session"
	"github.com/mbd888/scamshield/pkg/client"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.client().Session(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd, s, func(p *printer) { p.session(s) })
		},
	}
}

func newRecordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "record",
		Short: "Start capturing the call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.client().Start(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd, s, func(p *printer) {
				p.linef("Recording %s on %s. Run 'shieldctl stop' when the call is done.", s.ID, s.Backend)
			})
		},
	}
}

func newStopCmd(a *app) *cobra.Command {
	var (
		wait   time.Duration
		noWait bool
	)
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop recording and wait for the verdict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			s, err := c.Stop(cmd.Context())
			if err != nil && !client.IsCode(err, "not_recording") {
				return err
			}
			if noWait {
				if s == nil {
					s, err = c.Session(cmd.Context())
					if err != nil {
						return err
					}
				}
				return a.emit(cmd, s, func(p *printer) { p.session(s) })
			}
			return a.awaitVerdict(cmd, c, wait)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", time.Minute, "How long to wait for the verdict")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return immediately after stopping")
	return cmd
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		seconds int
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Record for a fixed time, then stop and print the verdict",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := int(capture.MaxDuration.Seconds())
			if seconds < 1 || seconds > limit {
				return fmt.Errorf("--seconds must be between 1 and %d", limit)
			}

			c := a.client()
			if _, err := c.Start(cmd.Context()); err != nil {
				return err
			}

			select {
			case <-time.After(time.Duration(seconds) * time.Second):
			case <-cmd.Context().Done():
				_, _ = c.Teardown(context.WithoutCancel(cmd.Context()))
				return cmd.Context().Err()
			}

			// The capture limit may already have stopped it.
			if _, err := c.Stop(cmd.Context()); err != nil && !client.IsCode(err, "not_recording") {
				return err
			}
			return a.awaitVerdict(cmd, c, wait)
		},
	}
	cmd.Flags().IntVar(&seconds, "seconds", 15, "Seconds of audio to capture")
	cmd.Flags().DurationVar(&wait, "wait", time.Minute, "How long to wait for the verdict")
	return cmd
}

func (a *app) awaitVerdict(cmd *cobra.Command, c *client.Client, wait time.Duration) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), wait)
	defer cancel()

	s, err := c.WaitForOutcome(ctx, 250*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && s != nil {
			return fmt.Errorf("still %s after %s; check again with 'shieldctl status'", s.State, wait)
		}
		return err
	}
	if err := a.emit(cmd, s, func(p *printer) { p.session(s) }); err != nil {
		return err
	}
	if s.State == session.StateFailed {
		return errors.New("analysis failed")
	}
	return nil
}

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "reset",
		Aliases: []string{"teardown"},
		Short:   "Abandon the session and return to idle",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.client().Teardown(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(cmd, s, func(p *printer) { p.linef("Session reset (backend %s).", s.Backend) })
		},
	}
}

func newBackendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "backend [structured|multimodal]",
		Short:     "Show or select the analyzer backend",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"structured", "multimodal"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.client()
			if len(args) == 0 {
				s, err := c.Session(cmd.Context())
				if err != nil {
					return err
				}
				return a.emit(cmd, map[string]string{"backend": s.Backend}, func(p *printer) { p.linef("%s", s.Backend) })
			}
			backend, err := c.SelectBackend(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd, map[string]string{"backend": backend}, func(p *printer) { p.linef("Backend set to %s.", backend) })
		},
	}
}
