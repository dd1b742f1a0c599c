package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"outreach/internal/app"
)

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Remove history entries past cooldown plus margin",
		Long:  "Remove expired history entries. Fails while the daemon holds the instance lock.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOffline(cmd, true, func(o *app.Offline) error {
				n, err := o.History.PurgeExpired(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Purged %d entries\n", n)
				return nil
			})
		},
	}
}
