package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"outreach/internal/domain"
)

const (
	// DateLayout is the timestamp layout of exported rows.
	DateLayout   = "2006-01-02 15:04:05"
	messageWidth = 50
)

// CSVHeader lists the export columns in order.
var CSVHeader = []string{"date", "recipient", "url", "status", "error", "message_sent"}

// WriteCSV writes entries oldest first. Message bodies are cut to 50 characters.
func WriteCSV(w io.Writer, entries []domain.HistoryEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, e := range sorted(entries) {
		row := []string{
			e.At.Format(DateLayout),
			e.Recipient,
			e.URL,
			string(e.Outcome),
			e.Error,
			excerpt(e.Message),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func excerpt(s string) string {
	if len([]rune(s)) <= messageWidth {
		return s
	}
	return clip(s, messageWidth) + "..."
}
