// Package gate decides whether a send is allowed right now: blocked hours,
// the daily quota and randomized spacing between sends.
package gate

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"outreach/internal/domain"
	"outreach/internal/storage"
	logx "outreach/pkg/logx"
)

type Decision int

const (
	Allow Decision = iota
	DenyBlockedHour
	DenyQuotaExhausted
	DenyTooSoon
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyBlockedHour:
		return "blocked_hour"
	case DenyQuotaExhausted:
		return "quota_exhausted"
	case DenyTooSoon:
		return "too_soon"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Verdict is a decision plus how long until it may change.
type Verdict struct {
	Decision Decision
	Wait     time.Duration
}

func (v Verdict) Allowed() bool { return v.Decision == Allow }

type Config struct {
	DailyMax     int
	BlockedHours []int
	MinWait      time.Duration
	MaxWait      time.Duration

	// FatigueAfter > 0 multiplies the drawn wait by FatigueFactor once that many
	// sends happened today.
	FatigueAfter  int
	FatigueFactor float64

	// BreakChance is the probability of adding a [BreakMin, BreakMax] pause to a drawn wait.
	BreakChance float64
	BreakMin    time.Duration
	BreakMax    time.Duration
}

// Rand is the random source. *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Int64N(n int64) int64
	Float64() float64
}

type globalRand struct{}

func (globalRand) Int64N(n int64) int64 { return rand.Int64N(n) }
func (globalRand) Float64() float64     { return rand.Float64() }

// State is the in-memory view of the persisted snapshot.
type State struct {
	Day      string        `json:"day"`
	Count    int           `json:"count"`
	LastSend time.Time     `json:"last_send"`
	NextWait time.Duration `json:"next_wait"`
}

type Option func(*Gate)

func WithLocation(loc *time.Location) Option {
	return func(g *Gate) {
		if loc != nil {
			g.loc = loc
		}
	}
}

func WithRand(r Rand) Option {
	return func(g *Gate) {
		if r != nil {
			g.rnd = r
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(g *Gate) { g.log = log.With(logx.String("comp", "gate")) }
}

// Gate owns the send-window state. All methods are safe for concurrent use;
// the lock is held only for the local mutation and snapshot write.
type Gate struct {
	mu sync.Mutex

	cfg     Config
	blocked [24]bool
	loc     *time.Location
	rnd     Rand
	store   storage.Store
	log     logx.Logger

	st      State
	hasWait bool
}

// New restores the snapshot from store (which may be nil for a volatile gate).
func New(ctx context.Context, store storage.Store, cfg Config, opts ...Option) (*Gate, error) {
	g := &Gate{loc: time.Local, rnd: globalRand{}, store: store, log: logx.Nop()}
	for _, o := range opts {
		o(g)
	}
	g.setConfig(cfg)

	if store != nil {
		snap, ok, err := store.LoadGateState(ctx)
		if err != nil {
			return nil, fmt.Errorf("gate: load state: %w", err)
		}
		if ok {
			g.st = State{Day: snap.Day, Count: snap.Count, LastSend: snap.LastSend, NextWait: snap.NextWait}
			g.hasWait = snap.NextWait > 0
			g.log.Debug("gate state restored", logx.String("day", snap.Day), logx.Int("count", snap.Count))
		}
	}
	return g, nil
}

func (g *Gate) setConfig(cfg Config) {
	if cfg.MaxWait < cfg.MinWait {
		cfg.MaxWait = cfg.MinWait
	}
	if cfg.BreakMax < cfg.BreakMin {
		cfg.BreakMax = cfg.BreakMin
	}
	var blocked [24]bool
	for _, h := range cfg.BlockedHours {
		if h >= 0 && h < 24 {
			blocked[h] = true
		}
	}
	g.cfg = cfg
	g.blocked = blocked
}

// Apply swaps limits at runtime without touching today's count or pacing.
func (g *Gate) Apply(cfg Config) {
	g.mu.Lock()
	g.setConfig(cfg)
	g.mu.Unlock()
}

func (g *Gate) dayKey(now time.Time) string { return now.In(g.loc).Format(time.DateOnly) }

// rolloverLocked resets the count when the local calendar day changed.
func (g *Gate) rolloverLocked(now time.Time) {
	day := g.dayKey(now)
	if g.st.Day == day {
		return
	}
	if g.st.Day != "" {
		g.log.Info("daily count reset", logx.String("from", g.st.Day), logx.String("to", day), logx.Int("sent", g.st.Count))
	}
	g.st.Day = day
	g.st.Count = 0
}

// CanSendNow evaluates, in order: day rollover, blocked hour, quota, spacing.
func (g *Gate) CanSendNow(now time.Time) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked(now)
	local := now.In(g.loc)

	if g.blocked[local.Hour()] {
		return Verdict{Decision: DenyBlockedHour, Wait: g.untilUnblocked(local)}
	}
	if g.st.Count >= g.cfg.DailyMax {
		next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, g.loc)
		return Verdict{Decision: DenyQuotaExhausted, Wait: next.Sub(now)}
	}
	if !g.st.LastSend.IsZero() {
		if !g.hasWait {
			g.st.NextWait = g.drawLocked()
			g.hasWait = true
		}
		if elapsed := now.Sub(g.st.LastSend); elapsed < g.st.NextWait {
			return Verdict{Decision: DenyTooSoon, Wait: g.st.NextWait - elapsed}
		}
	}
	return Verdict{Decision: Allow}
}

func (g *Gate) untilUnblocked(local time.Time) time.Duration {
	start := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, g.loc)
	for i := 1; i <= 24; i++ {
		t := start.Add(time.Duration(i) * time.Hour)
		if !g.blocked[t.Hour()] {
			return t.Sub(local)
		}
	}
	return time.Hour
}

// RecordSend accounts one attempted send and draws the next required spacing.
// Memory is updated even when the snapshot write fails; the failure is
// returned as *domain.PersistenceError.
func (g *Gate) RecordSend(ctx context.Context, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rolloverLocked(now)
	g.st.Count++
	g.st.LastSend = now
	g.st.NextWait = g.drawLocked()
	g.hasWait = true

	g.log.Debug("send recorded",
		logx.Int("count", g.st.Count),
		logx.Int("daily_max", g.cfg.DailyMax),
		logx.Duration("next_wait", g.st.NextWait),
	)

	if g.store == nil {
		return nil
	}
	snap := storage.GateSnapshot{Day: g.st.Day, Count: g.st.Count, LastSend: g.st.LastSend, NextWait: g.st.NextWait}
	if err := g.store.SaveGateState(ctx, snap); err != nil {
		return domain.Persistence("gate.record_send", err)
	}
	return nil
}

func (g *Gate) drawLocked() time.Duration {
	c := g.cfg
	wait := c.MinWait
	if span := c.MaxWait - c.MinWait; span > 0 {
		wait += time.Duration(g.rnd.Int64N(int64(span) + 1))
	}
	if c.FatigueAfter > 0 && c.FatigueFactor > 0 && g.st.Count >= c.FatigueAfter {
		wait = time.Duration(float64(wait) * c.FatigueFactor)
	}
	if c.BreakChance > 0 && g.rnd.Float64() < c.BreakChance {
		brk := c.BreakMin
		if span := c.BreakMax - c.BreakMin; span > 0 {
			brk += time.Duration(g.rnd.Int64N(int64(span) + 1))
		}
		g.log.Debug("taking a break", logx.Duration("break", brk))
		wait += brk
	}
	return wait
}

// Headroom is the number of sends left today.
func (g *Gate) Headroom(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(now)
	return max(0, g.cfg.DailyMax-g.st.Count)
}

func (g *Gate) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st
}

func (g *Gate) Config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}
