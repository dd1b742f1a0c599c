package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"outreach/internal/app"
	"outreach/internal/report"
)

func newCycleCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one discovery and delivery cycle, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(sigCtx, ctx.configPath())
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			sum, runErr := a.RunOnce(sigCtx)

			stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			stopErr := a.Stop(stopCtx, app.StopCompleted)

			return finishCycle(cmd, sum, jsonOut, runErr, stopErr)
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the cycle summary as JSON")
	return cmd
}

// finishCycle prints the summary even when the cycle or shutdown failed and
// returns both errors.
func finishCycle(cmd *cobra.Command, sum report.CycleSummary, jsonOut bool, runErr, stopErr error) error {
	var outErr error
	if jsonOut {
		outErr = writeJSON(cmd, sum)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), renderCycleSummary(sum))
	}
	if stopErr != nil {
		stopErr = fmt.Errorf("stop: %w", stopErr)
	}
	return errors.Join(runErr, stopErr, outErr)
}

func renderCycleSummary(s report.CycleSummary) string {
	itoa := strconv.Itoa
	rows := [][]string{
		{"Cycle", s.ID},
		{"Duration", s.Duration.Round(time.Millisecond).String()},
		{"Skipped", yesNo(s.Skipped)},
		{"Discovered", itoa(s.Pipeline.Discovered)},
		{"Expanded", itoa(s.Expanded)},
		{"Queued", itoa(s.Pipeline.Queued)},
		{"On cooldown", itoa(s.Pipeline.OnCooldown)},
		{"Blacklisted", itoa(s.Pipeline.Blacklisted)},
		{"Sent", itoa(s.Delivery.Succeeded)},
		{"Failed", itoa(s.Delivery.Failed)},
		{"Skipped sends", itoa(s.Delivery.Skipped)},
		{"Retries", itoa(s.Delivery.Retries)},
		{"Remaining", itoa(s.Delivery.Remaining)},
		{"Headroom", itoa(s.Headroom)},
	}
	if s.Delivery.StopReason != "" {
		rows = append(rows, []string{"Stopped", s.Delivery.StopReason})
	}
	if s.Error != "" {
		rows = append(rows, []string{"Error", s.Error})
	}
	return renderKV(rows)
}
