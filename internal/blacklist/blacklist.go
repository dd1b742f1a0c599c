// Package blacklist answers whether a recipient must never be contacted.
//
// Every checker reports an unreachable backing store as domain.ErrUnavailable,
// never as "not listed".
package blacklist

import (
	"context"
	"strings"

	"outreach/internal/domain"
)

type Checker interface {
	IsBlacklisted(ctx context.Context, id string) (bool, error)
}

// None lists nobody.
type None struct{}

func (None) IsBlacklisted(context.Context, string) (bool, error) { return false, nil }

// Normalize maps a blacklist entry to a recipient ID. Profile URLs such as
// "https://x.example/Alice" become "alice".
func Normalize(entry string) string {
	entry = strings.TrimSpace(entry)
	if !strings.Contains(entry, "://") {
		return domain.NormalizeID(entry)
	}
	entry, _, _ = strings.Cut(entry, "?")
	entry, _, _ = strings.Cut(entry, "#")
	entry = strings.TrimRight(entry, "/")
	rest := entry[strings.Index(entry, "://")+3:]
	_, path, ok := strings.Cut(rest, "/")
	if !ok || path == "" {
		return ""
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return domain.NormalizeID(path)
}

// Set is an in-memory blacklist.
type Set map[string]struct{}

func NewSet(entries ...string) Set {
	s := make(Set, len(entries))
	for _, e := range entries {
		if id := Normalize(e); id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

func (s Set) IsBlacklisted(_ context.Context, id string) (bool, error) {
	_, ok := s[domain.NormalizeID(id)]
	return ok, nil
}
