// Package message renders the outreach message body for a candidate.
package message

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/template"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

// Data is what a message template can reference.
type Data struct {
	Handle  string
	Keyword string
	URL     string
}

type Template struct {
	raw  string
	tmpl *template.Template
}

// Parse compiles text. Placeholders: {{.Handle}}, {{.Keyword}}, {{.URL}}.
func Parse(text string) (*Template, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("message is empty")
	}
	tmpl, err := template.New("message").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &Template{raw: text, tmpl: tmpl}, nil
}

// Load reads the message from path. A missing or empty file falls back to
// fallback; a file that does not parse is an error.
func Load(path, fallback string, log logx.Logger) (*Template, error) {
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil && strings.TrimSpace(string(b)) != "":
			return Parse(string(b))
		case err == nil:
			log.Warn("message file is empty; using default message", logx.String("path", path))
		case errors.Is(err, fs.ErrNotExist):
			log.Warn("message file not found; using default message", logx.String("path", path))
		default:
			return nil, fmt.Errorf("read message file: %w", err)
		}
	}
	return Parse(fallback)
}

// Render executes the template for c. A failed execution returns the raw text.
func (t *Template) Render(c domain.Candidate) string {
	var b strings.Builder
	if err := t.tmpl.Execute(&b, Data{Handle: c.ID, Keyword: c.Keyword, URL: c.URL}); err != nil {
		return t.raw
	}
	return b.String()
}

func (t *Template) String() string { return t.raw }

// Truncate shortens s to n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	rs := []rune(s)
	if n <= 0 || len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "..."
}
