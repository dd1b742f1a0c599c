// Package domain holds the outreach data model shared by the engine packages.
package domain

import (
	"strings"
	"time"
)

// Outcome is the recorded result of one delivery task.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomeSkipped:
		return true
	default:
		return false
	}
}

// Candidate is a recipient produced by discovery. It is consumed once by the pipeline.
type Candidate struct {
	ID           string    `json:"id"`
	URL          string    `json:"url,omitempty"`
	Keyword      string    `json:"keyword,omitempty"`
	Source       string    `json:"source,omitempty"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// HistoryEntry is one append-only row of the history log.
type HistoryEntry struct {
	Recipient string    `json:"recipient"`
	At        time.Time `json:"at"`
	Outcome   Outcome   `json:"outcome"`
	Retries   int       `json:"retries"`
	URL       string    `json:"url,omitempty"`
	Keyword   string    `json:"keyword,omitempty"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Key identifies an entry for idempotent writes.
func (e HistoryEntry) Key() string {
	return e.Recipient + "|" + e.At.UTC().Format(time.RFC3339Nano)
}

// Task is a candidate bound to a rendered message body.
type Task struct {
	ID        string
	Candidate Candidate
	Message   string
	Attempts  int
}

// NormalizeID canonicalizes a recipient identifier so "@Foo" and "foo" collide.
func NormalizeID(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	return strings.ToLower(s)
}

// Report aggregates history over [From, To). It is derived from the history log and never stored.
type Report struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
}

// Add counts one entry.
func (r *Report) Add(e HistoryEntry) {
	r.Attempted++
	switch e.Outcome {
	case OutcomeSuccess:
		r.Succeeded++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
}

// SuccessRate is succeeded over succeeded+failed, in percent. Skipped recipients do not count.
func (r Report) SuccessRate() float64 {
	n := r.Succeeded + r.Failed
	if n == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(n) * 100
}
