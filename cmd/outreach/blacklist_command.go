package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"outreach/internal/app"
)

func newBlacklistCommand(ctx *commandContext) *cobra.Command {
	blCmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Manage the shared blacklist",
	}
	blCmd.AddCommand(&cobra.Command{
		Use:   "add <id>...",
		Short: "Add recipients to the Redis blacklist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.AddToBlacklist(cmd.Context(), ctx.configPath(), args); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %d entries\n", len(args))
			return nil
		},
	})
	return blCmd
}
