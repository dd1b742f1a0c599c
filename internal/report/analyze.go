package report

import (
	"fmt"
	"sort"
	"time"

	"outreach/internal/domain"
)

const (
	errorKeyWidth = 50
	maxDuplicates = 10
	// LowSuccessRate triggers a recommendation below this percentage.
	LowSuccessRate = 70.0
	// DominantErrorShare triggers a recommendation when one error exceeds this share of attempts.
	DominantErrorShare = 0.3
	// ActivityWindow is how far back CheckHealth looks for any activity.
	ActivityWindow = 24 * time.Hour
)

type DayCount struct {
	Day       string `json:"day"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

func (d DayCount) Total() int { return d.Succeeded + d.Failed + d.Skipped }

type ErrorCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

type HourCount struct {
	Hour  int `json:"hour"`
	Count int `json:"count"`
}

// Analysis is the maintenance view of the last Days days.
type Analysis struct {
	domain.Report
	Days            int          `json:"days"`
	Daily           []DayCount   `json:"daily"`
	Errors          []ErrorCount `json:"errors,omitempty"`
	Hourly          [24]int      `json:"hourly"`
	MostActive      []DayCount   `json:"most_active,omitempty"`
	Recommendations []string     `json:"recommendations,omitempty"`
}

// TopHours returns the n busiest hours, busiest first.
func (a Analysis) TopHours(n int) []HourCount {
	out := make([]HourCount, 0, 24)
	for h, c := range a.Hourly {
		if c > 0 {
			out = append(out, HourCount{Hour: h, Count: c})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Analyze computes statistics over entries newer than now minus days.
func Analyze(entries []domain.HistoryEntry, now time.Time, days int) Analysis {
	if days <= 0 {
		days = 7
	}
	out := Analysis{Days: days}
	out.From, out.To = now.AddDate(0, 0, -days), now

	byDay := map[string]*DayCount{}
	errs := map[string]int{}
	for _, e := range entries {
		at := e.At.In(now.Location())
		if at.Before(out.From) || at.After(now) {
			continue
		}
		out.Add(e)
		out.Hourly[at.Hour()]++

		key := at.Format(time.DateOnly)
		dc := byDay[key]
		if dc == nil {
			dc = &DayCount{Day: key}
			byDay[key] = dc
		}
		switch e.Outcome {
		case domain.OutcomeSuccess:
			dc.Succeeded++
		case domain.OutcomeFailed:
			dc.Failed++
			errs[clip(e.Error, errorKeyWidth)]++
		case domain.OutcomeSkipped:
			dc.Skipped++
		}
	}

	for _, dc := range byDay {
		out.Daily = append(out.Daily, *dc)
	}
	sort.Slice(out.Daily, func(i, j int) bool { return out.Daily[i].Day < out.Daily[j].Day })

	out.MostActive = append([]DayCount(nil), out.Daily...)
	sort.SliceStable(out.MostActive, func(i, j int) bool {
		return out.MostActive[i].Total() > out.MostActive[j].Total()
	})
	if len(out.MostActive) > 3 {
		out.MostActive = out.MostActive[:3]
	}

	for reason, n := range errs {
		out.Errors = append(out.Errors, ErrorCount{Reason: reason, Count: n})
	}
	sort.Slice(out.Errors, func(i, j int) bool {
		if out.Errors[i].Count != out.Errors[j].Count {
			return out.Errors[i].Count > out.Errors[j].Count
		}
		return out.Errors[i].Reason < out.Errors[j].Reason
	})

	out.Recommendations = recommend(out)
	return out
}

func recommend(a Analysis) []string {
	var recs []string
	if a.Attempted > 0 && a.SuccessRate() < LowSuccessRate {
		recs = append(recs, fmt.Sprintf("success rate %.1f%% is below %.0f%%; check the delivery channel and discovery selectors", a.SuccessRate(), LowSuccessRate))
	}
	if len(a.Errors) > 0 {
		top := a.Errors[0]
		if float64(top.Count) > float64(a.Attempted)*DominantErrorShare {
			recs = append(recs, fmt.Sprintf("dominant error: %s (%d times)", top.Reason, top.Count))
		}
	}
	return recs
}

// Health describes the history log itself.
type Health struct {
	Total            int                   `json:"total"`
	UniqueRecipients int                   `json:"unique_recipients"`
	RecentSuccesses  int                   `json:"recent_successes"`
	Duplicates       []domain.HistoryEntry `json:"duplicates,omitempty"`
	DuplicateCount   int                   `json:"duplicate_count"`
	LastActivity     time.Time             `json:"last_activity"`
	Active           bool                  `json:"active"`
}

// ResetRatio is the share of known recipients that are still on cooldown, in percent.
func (h Health) ResetRatio() float64 {
	if h.UniqueRecipients == 0 {
		return 0
	}
	return float64(h.RecentSuccesses) / float64(h.UniqueRecipients) * 100
}

// CheckHealth inspects entries for cooldown violations and recent activity.
// A duplicate is a success for a recipient that already had a success less
// than cooldown earlier.
func CheckHealth(entries []domain.HistoryEntry, now time.Time, cooldown time.Duration) Health {
	var h Health
	seen := map[string]struct{}{}
	recent := map[string]struct{}{}
	lastOK := map[string]time.Time{}

	for _, e := range sorted(entries) {
		h.Total++
		seen[e.Recipient] = struct{}{}
		if e.At.After(h.LastActivity) {
			h.LastActivity = e.At
		}
		if e.Outcome != domain.OutcomeSuccess {
			continue
		}
		if prev, ok := lastOK[e.Recipient]; ok && e.At.Sub(prev) < cooldown {
			h.DuplicateCount++
			if len(h.Duplicates) < maxDuplicates {
				h.Duplicates = append(h.Duplicates, e)
			}
		}
		lastOK[e.Recipient] = e.At
		if now.Sub(e.At) < cooldown {
			recent[e.Recipient] = struct{}{}
		}
	}
	h.UniqueRecipients = len(seen)
	h.RecentSuccesses = len(recent)
	h.Active = !h.LastActivity.IsZero() && now.Sub(h.LastActivity) < ActivityWindow
	return h
}
