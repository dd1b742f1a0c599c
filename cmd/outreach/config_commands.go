package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"outreach/internal/app"
	"outreach/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))

	return configCmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Validate(ctx.configPath())
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderConfigSummary(cfg))
			fmt.Fprintf(out, "Configuration valid: %s\n", ctx.configPath())
			return nil
		},
	}
}

func renderConfigSummary(cfg *config.Config) string {
	schedule := cfg.Scheduler.Every
	if strings.TrimSpace(cfg.Scheduler.Cron) != "" {
		schedule = "cron " + cfg.Scheduler.Cron
	}
	if len(cfg.Scheduler.Slots) > 0 {
		schedule += " + " + strings.Join(cfg.Scheduler.Slots, ", ")
	}
	tz := cfg.Scheduler.Timezone
	if tz == "" {
		tz = "local"
	}
	s := cfg.Sending
	return renderKV([][]string{
		{"Storage", cfg.Storage.Driver + " " + cfg.Storage.Path},
		{"Search source", cfg.Search.Source},
		{"Keywords", strings.Join(cfg.Search.Keywords, ", ")},
		{"Blacklist", cfg.Blacklist.Source},
		{"Channel", cfg.Delivery.Channel},
		{"Daily max", fmt.Sprintf("%d", s.MaxMessagesPerDay)},
		{"Wait", fmt.Sprintf("%ds..%ds", s.MinWaitSeconds, s.MaxWaitSeconds)},
		{"Cooldown", fmt.Sprintf("%d days", s.CooldownDays)},
		{"Retries", fmt.Sprintf("%d", s.Retries())},
		{"Scheduler", yesNo(cfg.Scheduler.Enabled) + " (" + schedule + ")"},
		{"Timezone", tz},
		{"Reports", yesNo(cfg.Reports.Enabled)},
		{"Metrics", yesNo(cfg.Metrics.Enabled)},
	})
}
