// Package report derives summaries from the history log: daily and monthly
// reports, per-cycle summaries, maintenance statistics and CSV export.
//
// Nothing here is persisted. Every report is recomputed from history entries.
package report

import (
	"sort"
	"time"

	"outreach/internal/delivery"
	"outreach/internal/domain"
	"outreach/internal/pipeline"
)

const (
	// ReasonWidth caps failure reasons shown in daily reports.
	ReasonWidth = 30
	// MaxFailures is how many failures a daily report lists.
	MaxFailures = 5
)

// Failure is one failed delivery shown in a daily report.
type Failure struct {
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

type Daily struct {
	domain.Report
	Day      time.Time `json:"day"`
	Failures []Failure `json:"failures,omitempty"`
}

type Monthly struct {
	domain.Report
	Month      time.Time `json:"month"`
	ActiveDays int       `json:"active_days"`
	AvgPerDay  float64   `json:"avg_per_day"` // successes per active day
}

// CycleSummary accounts one discovery and delivery cycle. It is emitted even
// when nothing was sent or the cycle was skipped.
type CycleSummary struct {
	ID       string           `json:"id"`
	Started  time.Time        `json:"started"`
	Duration time.Duration    `json:"duration"`
	Expanded int              `json:"expanded,omitempty"`
	Pipeline pipeline.Stats   `json:"pipeline"`
	Delivery delivery.Summary `json:"delivery"`
	Headroom int              `json:"headroom"`
	Skipped  bool             `json:"skipped,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Idle reports whether the cycle sent nothing and attempted nothing.
func (c CycleSummary) Idle() bool { return c.Delivery.Attempts == 0 }

// dayBounds returns local midnight of t and the following midnight.
func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

func monthBounds(t time.Time) (time.Time, time.Time) {
	y, m, _ := t.Date()
	start := time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 1, 0)
}

// PreviousMonth returns the first instant of the month before now, in now's location.
func PreviousMonth(now time.Time) time.Time {
	start, _ := monthBounds(now)
	return start.AddDate(0, -1, 0)
}

func inRange(at, from, to time.Time) bool {
	return !at.Before(from) && at.Before(to)
}

// BuildDaily aggregates entries of the local day containing day.
func BuildDaily(entries []domain.HistoryEntry, day time.Time) Daily {
	from, to := dayBounds(day)
	out := Daily{Day: from}
	out.From, out.To = from, to

	for _, e := range sorted(entries) {
		if !inRange(e.At.In(day.Location()), from, to) {
			continue
		}
		out.Add(e)
		if e.Outcome == domain.OutcomeFailed && len(out.Failures) < MaxFailures {
			out.Failures = append(out.Failures, Failure{
				Recipient: e.Recipient,
				Reason:    clip(e.Error, ReasonWidth),
			})
		}
	}
	return out
}

// BuildMonthly aggregates the calendar month containing month.
func BuildMonthly(entries []domain.HistoryEntry, month time.Time) Monthly {
	from, to := monthBounds(month)
	out := Monthly{Month: from}
	out.From, out.To = from, to

	days := map[string]struct{}{}
	for _, e := range entries {
		at := e.At.In(month.Location())
		if !inRange(at, from, to) {
			continue
		}
		out.Add(e)
		if e.Outcome == domain.OutcomeSuccess {
			days[at.Format(time.DateOnly)] = struct{}{}
		}
	}
	out.ActiveDays = len(days)
	if out.ActiveDays > 0 {
		out.AvgPerDay = float64(out.Succeeded) / float64(out.ActiveDays)
	}
	return out
}

func sorted(entries []domain.HistoryEntry) []domain.HistoryEntry {
	out := make([]domain.HistoryEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// clip cuts s to n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
