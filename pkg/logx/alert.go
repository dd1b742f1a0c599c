package logx

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	maxAlertLen = 3000
	maxValueLen = 500
)

// AlertConfig forwards lines at or above MinLevel to an AlertFunc, such as
// the report notifier, at most RatePerSec per second.
type AlertConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// AlertFunc receives a rendered alert. It must not block.
type AlertFunc func(text string)

// alertSink is guarded by Service.mu.
type alertSink struct {
	fn       AlertFunc
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

func (a *alertSink) configure(cfg AlertConfig) {
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.ErrorLevel)
	rps := max(cfg.RatePerSec, 1)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
}

type alertWriter struct{ svc *Service }

func (w *alertWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *alertWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	w.svc.mu.Lock()
	a := w.svc.alert
	w.svc.mu.Unlock()

	if a.fn == nil || level < a.minLevel {
		return len(p), nil
	}
	if a.limiter != nil && !a.limiter.Allow() {
		return len(p), nil
	}
	if msg := formatAlert(p); msg != "" {
		a.fn(msg)
	}
	return len(p), nil
}

// formatAlert renders a JSON log line as "[LEVEL] message" followed by one
// "- key=value" line per field, sorted by key. Secret-looking values are
// masked since alerts leave the host.
func formatAlert(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return clip(strings.TrimSpace(string(p)), maxAlertLen)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(redact(k, fmt.Sprint(m[k])), maxValueLen))
	}
	return clip(b.String(), maxAlertLen)
}

var secretKeys = []string{"token", "password", "secret", "authorization"}

func redact(key, val string) string {
	k := strings.ToLower(key)
	for _, s := range secretKeys {
		if strings.Contains(k, s) {
			return "***"
		}
	}
	if u, err := url.Parse(val); err == nil && u.Scheme != "" && u.Host != "" {
		if u.User != nil {
			u.User = url.User("***")
		}
		if u.RawQuery != "" {
			u.RawQuery = "***"
		}
		// Bot API URLs carry the token as /bot<token>/
		if rest, ok := strings.CutPrefix(u.Path, "/bot"); ok && rest != "" {
			_, tail, _ := strings.Cut(rest, "/")
			u.Path = "/bot***/" + tail
		}
		return u.String()
	}
	return val
}

func clip(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}
