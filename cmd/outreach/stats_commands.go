package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"outreach/internal/app"
	"outreach/internal/report"
)

type statsView struct {
	Analysis report.Analysis `json:"analysis"`
	Today    int             `json:"today"`
	DailyMax int             `json:"daily_max"`
	Headroom int             `json:"headroom"`
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	var days int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show delivery statistics for the last days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOffline(cmd, false, func(o *app.Offline) error {
				now := time.Now().In(o.Location())
				if days <= 0 {
					days = 7
				}
				entries, err := o.History.Entries(cmd.Context(), now.AddDate(0, 0, -days), now)
				if err != nil {
					return err
				}
				snap := o.Gate.Snapshot()
				view := statsView{
					Analysis: report.Analyze(entries, now, days),
					Today:    snap.Count,
					DailyMax: o.Gate.Config().DailyMax,
					Headroom: o.Gate.Headroom(now),
				}
				if jsonOut {
					return writeJSON(cmd, view)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderStats(view, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&days, "days", "d", 7, "Number of days to analyze")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print statistics as JSON")
	return cmd
}

func renderStats(v statsView, colorize bool) string {
	a := v.Analysis
	itoa := strconv.Itoa
	var b strings.Builder

	b.WriteString(renderSectionHeader(fmt.Sprintf("Last %d days", a.Days), colorize) + "\n")
	b.WriteString(renderKV([][]string{
		{"Attempted", humanize.Comma(int64(a.Attempted))},
		{"Succeeded", humanize.Comma(int64(a.Succeeded))},
		{"Failed", humanize.Comma(int64(a.Failed))},
		{"Skipped", humanize.Comma(int64(a.Skipped))},
		{"Success rate", fmt.Sprintf("%.1f%%", a.SuccessRate())},
		{"Sent today", fmt.Sprintf("%d / %d", v.Today, v.DailyMax)},
		{"Headroom", itoa(v.Headroom)},
	}) + "\n")

	if len(a.Daily) > 0 {
		rows := make([][]string, 0, len(a.Daily))
		for _, d := range a.Daily {
			rows = append(rows, []string{d.Day, itoa(d.Succeeded), itoa(d.Failed), itoa(d.Skipped), itoa(d.Total())})
		}
		b.WriteString(renderSectionHeader("Per day", colorize) + "\n")
		b.WriteString(renderTable(
			[]string{"Day", "Sent", "Failed", "Skipped", "Total"}, rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
		) + "\n")
	}

	if len(a.Errors) > 0 {
		rows := make([][]string, 0, len(a.Errors))
		for _, e := range a.Errors {
			rows = append(rows, []string{e.Reason, itoa(e.Count)})
		}
		b.WriteString(renderSectionHeader("Errors", colorize) + "\n")
		b.WriteString(renderTable([]string{"Reason", "Count"}, rows, []columnAlignment{alignLeft, alignRight}) + "\n")
	}

	if hours := a.TopHours(3); len(hours) > 0 {
		parts := make([]string, 0, len(hours))
		for _, h := range hours {
			parts = append(parts, fmt.Sprintf("%02d:00 (%d)", h.Hour, h.Count))
		}
		fmt.Fprintf(&b, "Busiest hours: %s\n", strings.Join(parts, ", "))
	}
	for _, r := range a.Recommendations {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return b.String()
}

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the history log for cooldown violations and activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOffline(cmd, false, func(o *app.Offline) error {
				now := time.Now()
				entries, err := o.History.Entries(cmd.Context(), time.Time{}, now)
				if err != nil {
					return err
				}
				h := report.CheckHealth(entries, now, o.History.Cooldown())
				if jsonOut {
					return writeJSON(cmd, h)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderHealth(h, shouldColorize(cmd.OutOrStdout())))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the health check as JSON")
	return cmd
}

func renderHealth(h report.Health, colorize bool) string {
	itoa := strconv.Itoa
	var b strings.Builder
	b.WriteString(renderSectionHeader("History health", colorize) + "\n")
	b.WriteString(renderKV([][]string{
		{"Entries", humanize.Comma(int64(h.Total))},
		{"Recipients", humanize.Comma(int64(h.UniqueRecipients))},
		{"On cooldown", fmt.Sprintf("%d (%.1f%%)", h.RecentSuccesses, h.ResetRatio())},
		{"Last activity", report.LastSeen(h.LastActivity)},
		{"Active", yesNo(h.Active)},
		{"Duplicates", itoa(h.DuplicateCount)},
	}) + "\n")

	if len(h.Duplicates) > 0 {
		rows := make([][]string, 0, len(h.Duplicates))
		for _, e := range h.Duplicates {
			rows = append(rows, []string{e.Recipient, e.At.Format(report.DateLayout)})
		}
		b.WriteString(renderSectionHeader("Cooldown violations", colorize) + "\n")
		b.WriteString(renderTable([]string{"Recipient", "At"}, rows, nil) + "\n")
	}
	return b.String()
}
