// Package transport delivers operator messages (reports and alerts) to a
// destination. Implementations live in subpackages; Log is always available.
package transport

import (
	"context"
	"errors"
	"strings"

	logx "outreach/pkg/logx"
)

// Priority levels used by reports and alerts.
const (
	PriorityLow    = 0
	PriorityInfo   = 5
	PriorityWarn   = 7
	PriorityUrgent = 9
)

// Message is a rendered report or alert.
type Message struct {
	Title    string
	Text     string
	Priority int // 0 low .. 10 high
}

// Body joins title and text the way every plain-text transport renders them.
func (m Message) Body() string {
	title := strings.TrimSpace(m.Title)
	text := strings.TrimSpace(m.Text)
	switch {
	case title == "":
		return prefixForPriority(m.Priority) + text
	case text == "":
		return prefixForPriority(m.Priority) + title
	default:
		return prefixForPriority(m.Priority) + title + "\n" + text
	}
}

func prefixForPriority(p int) string {
	switch {
	case p >= PriorityUrgent:
		return "🚨 "
	case p >= PriorityWarn:
		return "⚠️ "
	default:
		return ""
	}
}

// Transport delivers a message to one destination.
type Transport interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

// ErrPermanent marks a failure that retrying cannot fix (bad credentials, unknown chat).
var ErrPermanent = errors.New("permanent transport failure")

// Log writes messages to a logger. It never fails.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	return &Log{log: log.With(logx.String("comp", "transport.log"))}
}

func (*Log) Name() string { return "log" }

func (l *Log) Send(_ context.Context, m Message) error {
	l.log.Info("report", logx.String("title", m.Title), logx.Int("priority", m.Priority), logx.String("text", m.Text))
	return nil
}
