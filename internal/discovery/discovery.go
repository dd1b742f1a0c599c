// Package discovery produces recipient candidates for a cycle.
//
// Sources are read-only collaborators: a CSV file maintained by an external
// tool, or HTML result pages scraped with CSS selectors. Following expansion
// widens a thin result set through the accounts that seed recipients follow.
package discovery

import (
	"context"
	"strings"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

// Criteria bounds one discovery pass.
type Criteria struct {
	Keywords           []string
	MaxUsersPerKeyword int
	MaxPages           int
}

// Limit is the total candidate budget of a pass. Zero means unbounded.
func (c Criteria) Limit() int {
	if c.MaxUsersPerKeyword <= 0 || len(c.Keywords) == 0 {
		return 0
	}
	return c.MaxUsersPerKeyword * len(c.Keywords)
}

type Source interface {
	Discover(ctx context.Context, c Criteria) ([]domain.Candidate, error)
}

// FollowingSource lists the accounts a seed recipient follows.
type FollowingSource interface {
	Following(ctx context.Context, seed domain.Candidate, maxPages int) ([]domain.Candidate, error)
}

// Expand collects following lists of up to maxSeeds seeds. A failing seed is
// logged and skipped; candidates already in seeds are dropped.
func Expand(ctx context.Context, src FollowingSource, seeds []domain.Candidate, maxSeeds, maxPages int, log logx.Logger) []domain.Candidate {
	if src == nil || maxSeeds <= 0 {
		return nil
	}
	seen := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		seen[domain.NormalizeID(s.ID)] = true
	}

	var out []domain.Candidate
	for i, seed := range seeds {
		if i >= maxSeeds || ctx.Err() != nil {
			break
		}
		found, err := src.Following(ctx, seed, maxPages)
		if err != nil {
			log.Warn("following expansion failed", logx.String("seed", seed.ID), logx.Err(err))
			continue
		}
		added := 0
		for _, c := range found {
			id := domain.NormalizeID(c.ID)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, c)
			added++
		}
		log.Debug("following expanded", logx.String("seed", seed.ID), logx.Int("found", len(found)), logx.Int("added", added))
	}
	return out
}

// handleFromHref extracts the account handle from a profile link such as
// "https://example.com/alice?ref=x". Links to posts, searches and internal
// pages yield "".
func handleFromHref(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.Contains(href, "/status/") || strings.Contains(href, "/search") || strings.Contains(href, "/i/") {
		return ""
	}
	href, _, _ = strings.Cut(href, "?")
	href, _, _ = strings.Cut(href, "#")
	href = strings.TrimRight(href, "/")
	i := strings.LastIndex(href, "/")
	h := href[i+1:]
	if h == "" || strings.ContainsAny(h, ":.") {
		return ""
	}
	return domain.NormalizeID(h)
}
