package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"outreach/internal/app"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var stopTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon in the foreground",
		Long:  "Run the scheduler daemon in the foreground. SIGHUP reloads the config file; SIGINT and SIGTERM stop gracefully.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(sigCtx, ctx.configPath())
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			if err := a.Start(sigCtx); err != nil {
				stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
				defer stop()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			reason := app.StopSignal
		wait:
			for {
				select {
				case <-hup:
					if err := a.Reload(sigCtx); err != nil {
						fmt.Fprintln(cmd.ErrOrStderr(), "reload:", err)
					}
				case <-sigCtx.Done():
					break wait
				case <-a.Done():
					reason = app.StopFatalError
					break wait
				}
			}

			stopCtx, stop := context.WithTimeout(context.Background(), stopTimeout)
			defer stop()
			if err := a.Stop(stopCtx, reason); err != nil {
				return err
			}
			return a.Err()
		},
	}

	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 20*time.Second, "Upper bound for graceful shutdown")
	return cmd
}
