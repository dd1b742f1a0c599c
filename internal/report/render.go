package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"outreach/internal/transport"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

func (d Daily) Message() transport.Message {
	var b strings.Builder
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "✅ sent: %s\n", humanize.Comma(int64(d.Succeeded)))
	fmt.Fprintf(&b, "❌ failed: %s\n", humanize.Comma(int64(d.Failed)))
	if d.Skipped > 0 {
		fmt.Fprintf(&b, "⏭ skipped: %s\n", humanize.Comma(int64(d.Skipped)))
	}
	fmt.Fprintf(&b, "📈 success rate: %.1f%% (%d/%d)\n", d.SuccessRate(), d.Succeeded, d.Succeeded+d.Failed)
	if len(d.Failures) > 0 {
		b.WriteString("\n⚠️ failures:\n")
		for _, f := range d.Failures {
			fmt.Fprintf(&b, "・%s (%s)\n", f.Recipient, f.Reason)
		}
	}
	return transport.Message{
		Title:    "📊 Daily report (" + d.Day.Format(time.DateOnly) + ")",
		Text:     b.String(),
		Priority: transport.PriorityInfo,
	}
}

func (m Monthly) Message() transport.Message {
	var b strings.Builder
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "📊 sent: %s\n", humanize.Comma(int64(m.Succeeded)))
	fmt.Fprintf(&b, "📈 average per day: %.1f\n", m.AvgPerDay)
	fmt.Fprintf(&b, "📆 active days: %d\n", m.ActiveDays)
	if m.Failed > 0 {
		fmt.Fprintf(&b, "❌ failed: %s\n", humanize.Comma(int64(m.Failed)))
	}
	return transport.Message{
		Title:    "📅 Monthly report (" + m.Month.Format("2006-01") + ")",
		Text:     b.String(),
		Priority: transport.PriorityInfo,
	}
}

// Message renders the cycle summary. Failed and skipped cycles are raised to warn priority.
func (c CycleSummary) Message() transport.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "queued %d of %d discovered", c.Pipeline.Queued, c.Pipeline.Discovered)
	if c.Expanded > 0 {
		fmt.Fprintf(&b, " (+%d from following lists)", c.Expanded)
	}
	fmt.Fprintf(&b, "; cooldown %d, blacklisted %d, duplicates %d\n",
		c.Pipeline.OnCooldown, c.Pipeline.Blacklisted, c.Pipeline.Duplicates)
	fmt.Fprintf(&b, "sent %d, failed %d, skipped %d, retries %d, remaining %d\n",
		c.Delivery.Succeeded, c.Delivery.Failed, c.Delivery.Skipped, c.Delivery.Retries, c.Delivery.Remaining)
	if len(c.Delivery.Denials) > 0 {
		keys := make([]string, 0, len(c.Delivery.Denials))
		for k := range c.Delivery.Denials {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%d", k, c.Delivery.Denials[k]))
		}
		fmt.Fprintf(&b, "gated: %s\n", strings.Join(parts, " "))
	}
	fmt.Fprintf(&b, "headroom %d, took %s", c.Headroom, c.Duration.Round(time.Millisecond))
	if c.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", c.Error)
	}

	prio := transport.PriorityLow
	title := "🔁 Cycle finished"
	switch {
	case c.Skipped:
		prio, title = transport.PriorityWarn, "🔁 Cycle skipped"
	case c.Error != "":
		prio, title = transport.PriorityWarn, "🔁 Cycle failed"
	}
	return transport.Message{Title: title, Text: b.String(), Priority: prio}
}

// Text renders the full maintenance report.
func (a Analysis) Text(h Health, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Outreach report, last %d days (generated %s)\n", a.Days, now.Format(DateLayout))
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "• attempts: %s\n", humanize.Comma(int64(a.Attempted)))
	fmt.Fprintf(&b, "• sent: %s\n", humanize.Comma(int64(a.Succeeded)))
	fmt.Fprintf(&b, "• failed: %s\n", humanize.Comma(int64(a.Failed)))
	fmt.Fprintf(&b, "• skipped: %s\n", humanize.Comma(int64(a.Skipped)))
	fmt.Fprintf(&b, "• success rate: %.1f%%\n", a.SuccessRate())

	if len(a.MostActive) > 0 {
		b.WriteString("\n📅 most active days:\n")
		for _, d := range a.MostActive {
			fmt.Fprintf(&b, "• %s: %d\n", d.Day, d.Total())
		}
	}
	if hours := a.TopHours(5); len(hours) > 0 {
		b.WriteString("\n⏰ busiest hours:\n")
		for _, hc := range hours {
			fmt.Fprintf(&b, "• %02d:00: %d\n", hc.Hour, hc.Count)
		}
	}
	if len(a.Errors) > 0 {
		b.WriteString("\n❌ errors:\n")
		for i, e := range a.Errors {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "• %s: %d\n", e.Reason, e.Count)
		}
	}

	b.WriteString("\n🏥 history\n")
	fmt.Fprintf(&b, "• recipients: %s\n", humanize.Comma(int64(h.UniqueRecipients)))
	fmt.Fprintf(&b, "• on cooldown: %s (%.1f%%)\n", humanize.Comma(int64(h.RecentSuccesses)), h.ResetRatio())
	fmt.Fprintf(&b, "• duplicate sends: %d\n", h.DuplicateCount)
	fmt.Fprintf(&b, "• last activity: %s\n", LastSeen(h.LastActivity))

	if len(a.Recommendations) > 0 {
		b.WriteString("\n💡 recommendations:\n")
		for _, r := range a.Recommendations {
			fmt.Fprintf(&b, "• %s\n", r)
		}
	}
	return strings.TrimSpace(b.String())
}

// LastSeen renders t relative to now, or "never".
func LastSeen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// Stale is the alert published when there was no activity in ActivityWindow.
func (h Health) Stale() transport.Message {
	return transport.Message{
		Title:    "No outreach activity",
		Text:     fmt.Sprintf("nothing recorded in the last %s; last activity %s", ActivityWindow, LastSeen(h.LastActivity)),
		Priority: transport.PriorityWarn,
	}
}
