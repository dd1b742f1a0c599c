// Package pipeline turns a discovered batch into the eligible delivery queue.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"outreach/internal/domain"
	logx "outreach/pkg/logx"
)

type CooldownChecker interface {
	IsOnCooldown(recipient string, asOf time.Time) bool
}

// Blacklist reports membership. Errors wrapping domain.ErrUnavailable mean the
// answer is unknown, which is never the same as "not listed".
type Blacklist interface {
	IsBlacklisted(ctx context.Context, recipient string) (bool, error)
}

type HeadroomSource interface {
	Headroom(now time.Time) int
}

type Renderer interface {
	Render(c domain.Candidate) string
}

// Stats counts what each filtering step removed.
type Stats struct {
	Discovered  int `json:"discovered"`
	Invalid     int `json:"invalid"`
	Duplicates  int `json:"duplicates"`
	OnCooldown  int `json:"on_cooldown"`
	Blacklisted int `json:"blacklisted"`
	Capped      int `json:"capped"`
	Queued      int `json:"queued"`
}

type Pipeline struct {
	history   CooldownChecker
	blacklist Blacklist
	quota     HeadroomSource
	render    Renderer
	log       logx.Logger
}

func New(history CooldownChecker, blacklist Blacklist, quota HeadroomSource, render Renderer, log logx.Logger) *Pipeline {
	return &Pipeline{
		history:   history,
		blacklist: blacklist,
		quota:     quota,
		render:    render,
		log:       log.With(logx.String("comp", "pipeline")),
	}
}

// BuildQueue filters in order: in-batch duplicates (first wins), cooldown,
// blacklist, then caps at today's headroom. Discovery order is preserved.
//
// If the blacklist cannot answer for any candidate the whole batch is dropped
// and an error wrapping domain.ErrUnavailable is returned.
func (p *Pipeline) BuildQueue(ctx context.Context, candidates []domain.Candidate, asOf time.Time) ([]domain.Task, Stats, error) {
	st := Stats{Discovered: len(candidates)}

	seen := make(map[string]struct{}, len(candidates))
	unique := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		c.ID = domain.NormalizeID(c.ID)
		if c.ID == "" {
			st.Invalid++
			continue
		}
		if _, dup := seen[c.ID]; dup {
			st.Duplicates++
			continue
		}
		seen[c.ID] = struct{}{}
		unique = append(unique, c)
	}

	eligible := unique[:0]
	for _, c := range unique {
		if p.history != nil && p.history.IsOnCooldown(c.ID, asOf) {
			st.OnCooldown++
			continue
		}
		eligible = append(eligible, c)
	}

	if p.blacklist != nil {
		kept := eligible[:0]
		for _, c := range eligible {
			if err := ctx.Err(); err != nil {
				return nil, st, err
			}
			listed, err := p.blacklist.IsBlacklisted(ctx, c.ID)
			if err != nil {
				p.log.Warn("blacklist unavailable; dropping batch", logx.Int("batch", len(eligible)), logx.Err(err))
				return nil, st, fmt.Errorf("pipeline: blacklist check for %q: %w", c.ID, domain.Unavailable(err))
			}
			if listed {
				st.Blacklisted++
				continue
			}
			kept = append(kept, c)
		}
		eligible = kept
	}

	if p.quota != nil {
		if room := p.quota.Headroom(asOf); len(eligible) > room {
			st.Capped = len(eligible) - room
			eligible = eligible[:room]
		}
	}

	tasks := make([]domain.Task, 0, len(eligible))
	for _, c := range eligible {
		t := domain.Task{ID: uuid.NewString(), Candidate: c}
		if p.render != nil {
			t.Message = p.render.Render(c)
		}
		tasks = append(tasks, t)
	}
	st.Queued = len(tasks)

	p.log.Debug("queue built",
		logx.Int("discovered", st.Discovered),
		logx.Int("duplicates", st.Duplicates),
		logx.Int("on_cooldown", st.OnCooldown),
		logx.Int("blacklisted", st.Blacklisted),
		logx.Int("capped", st.Capped),
		logx.Int("queued", st.Queued),
	)
	return tasks, st, nil
}
