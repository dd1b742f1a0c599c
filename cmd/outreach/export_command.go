package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"outreach/internal/app"
	"outreach/internal/report"
)

const dayLayout = "2006-01-02"

func newExportCommand(ctx *commandContext) *cobra.Command {
	var fromFlag, toFlag, outFlag string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export history as CSV",
		Long:  "Export history entries as CSV, oldest first. --from and --to take YYYY-MM-DD in the configured timezone; --to is inclusive.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOffline(cmd, false, func(o *app.Offline) error {
				from, to, err := parseRange(fromFlag, toFlag, o.Location())
				if err != nil {
					return err
				}
				entries, err := o.History.Entries(cmd.Context(), from, to)
				if err != nil {
					return err
				}

				var w io.Writer = cmd.OutOrStdout()
				if path := strings.TrimSpace(outFlag); path != "" && path != "-" {
					f, err := os.Create(path)
					if err != nil {
						return fmt.Errorf("create %s: %w", path, err)
					}
					defer f.Close()
					w = f
				}
				if err := report.WriteCSV(w, entries); err != nil {
					return err
				}
				if outFlag != "" && outFlag != "-" {
					fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d entries to %s\n", len(entries), outFlag)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&fromFlag, "from", "", "First day to export (YYYY-MM-DD)")
	cmd.Flags().StringVar(&toFlag, "to", "", "Last day to export (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&outFlag, "output", "o", "", "Output file (default stdout)")
	return cmd
}

// parseRange turns inclusive day flags into a half-open interval. Empty
// flags leave that side unbounded.
func parseRange(fromRaw, toRaw string, loc *time.Location) (time.Time, time.Time, error) {
	var from, to time.Time
	if s := strings.TrimSpace(fromRaw); s != "" {
		d, err := time.ParseInLocation(dayLayout, s, loc)
		if err != nil {
			return from, to, fmt.Errorf("--from: %w", err)
		}
		from = d
	}
	if s := strings.TrimSpace(toRaw); s != "" {
		d, err := time.ParseInLocation(dayLayout, s, loc)
		if err != nil {
			return from, to, fmt.Errorf("--to: %w", err)
		}
		to = d.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return from, to, fmt.Errorf("--from %s is after --to %s", fromRaw, toRaw)
	}
	return from, to, nil
}
