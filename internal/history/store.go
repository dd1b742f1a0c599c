// Package history is the deduplication authority: an append-only log of
// delivery outcomes per recipient with a rolling cooldown window.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"outreach/internal/domain"
	"outreach/internal/storage"
	logx "outreach/pkg/logx"
)

const DefaultCooldown = 90 * 24 * time.Hour

type Config struct {
	Cooldown time.Duration
	// Margin is kept on top of Cooldown before entries are physically purged.
	Margin time.Duration
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.Margin < 0 {
		c.Margin = 0
	}
	return c
}

// Stats is a cheap in-memory view used by health checks.
type Stats struct {
	Recipients   int       `json:"recipients"`
	LastActivity time.Time `json:"last_activity"`
	Cooldown     time.Duration
}

// Store wraps a storage backend with the cooldown index.
//
// Writes are serialized by wmu and are durable before the index changes.
// Readers only take the read lock on the index.
type Store struct {
	backend storage.Store
	log     logx.Logger

	wmu sync.Mutex

	mu           sync.RWMutex
	cfg          Config
	lastSuccess  map[string]time.Time
	lastActivity time.Time
}

// Open builds the index from the backend. Entries older than cooldown+margin
// relative to now are not loaded.
func Open(ctx context.Context, backend storage.Store, cfg Config, now time.Time, log logx.Logger) (*Store, error) {
	if backend == nil {
		return nil, errors.New("history: nil backend")
	}
	cfg = cfg.withDefaults()
	s := &Store{
		backend:     backend,
		log:         log.With(logx.String("comp", "history")),
		cfg:         cfg,
		lastSuccess: map[string]time.Time{},
	}
	entries, err := backend.LoadHistory(ctx, now.Add(-(cfg.Cooldown + cfg.Margin)))
	if err != nil {
		return nil, fmt.Errorf("history: load: %w", err)
	}
	for _, e := range entries {
		s.index(e)
	}
	s.log.Debug("history loaded", logx.Int("entries", len(entries)), logx.Int("recipients", len(s.lastSuccess)))
	return s, nil
}

func (s *Store) index(e domain.HistoryEntry) {
	if e.At.After(s.lastActivity) {
		s.lastActivity = e.At
	}
	if e.Outcome != domain.OutcomeSuccess {
		return
	}
	if prev, ok := s.lastSuccess[e.Recipient]; !ok || e.At.After(prev) {
		s.lastSuccess[e.Recipient] = e.At
	}
}

// SetConfig changes the cooldown window at runtime. A wider window reloads
// the index from the backend first so successes between the old and the new
// horizon are seen. On a load error the previous config stays in effect.
func (s *Store) SetConfig(ctx context.Context, cfg Config, now time.Time) error {
	cfg = cfg.withDefaults()

	s.wmu.Lock()
	defer s.wmu.Unlock()

	s.mu.RLock()
	widened := cfg.Cooldown+cfg.Margin > s.cfg.Cooldown+s.cfg.Margin
	s.mu.RUnlock()
	if !widened {
		s.mu.Lock()
		s.cfg = cfg
		s.mu.Unlock()
		return nil
	}

	entries, err := s.backend.LoadHistory(ctx, now.Add(-(cfg.Cooldown + cfg.Margin)))
	if err != nil {
		return fmt.Errorf("history: reload: %w", err)
	}
	s.mu.Lock()
	s.cfg = cfg
	for _, e := range entries {
		s.index(e)
	}
	s.mu.Unlock()
	s.log.Debug("history reloaded for wider cooldown", logx.Int("entries", len(entries)), logx.Duration("cooldown", cfg.Cooldown))
	return nil
}

func (s *Store) Cooldown() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Cooldown
}

// Record durably appends e. Re-recording the same (recipient, timestamp) is a no-op.
// A backend failure is returned as *domain.PersistenceError.
func (s *Store) Record(ctx context.Context, e domain.HistoryEntry) error {
	e.Recipient = domain.NormalizeID(e.Recipient)
	if e.Recipient == "" {
		return errors.New("history: empty recipient")
	}
	if !e.Outcome.Valid() {
		return fmt.Errorf("history: invalid outcome %q", e.Outcome)
	}
	if e.At.IsZero() {
		return errors.New("history: zero timestamp")
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	added, err := s.backend.AppendHistory(ctx, e)
	if err != nil {
		return domain.Persistence("history.record", err)
	}
	if !added {
		s.log.Debug("duplicate history entry ignored", logx.String("recipient", e.Recipient), logx.Time("at", e.At))
		return nil
	}

	s.mu.Lock()
	s.index(e)
	s.mu.Unlock()
	return nil
}

// IsOnCooldown reports whether a Success entry for recipient exists with asOf-at < cooldown.
func (s *Store) IsOnCooldown(recipient string, asOf time.Time) bool {
	id := domain.NormalizeID(recipient)
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.lastSuccess[id]
	if !ok {
		return false
	}
	return asOf.Sub(at) < s.cfg.Cooldown
}

// PurgeExpired removes entries older than cooldown+margin. Cooldown answers for
// asOf or later do not change: the removed entries are already outside the window.
func (s *Store) PurgeExpired(ctx context.Context, asOf time.Time) (int, error) {
	s.mu.RLock()
	cutoff := asOf.Add(-(s.cfg.Cooldown + s.cfg.Margin))
	s.mu.RUnlock()

	s.wmu.Lock()
	defer s.wmu.Unlock()

	n, err := s.backend.PurgeHistory(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: purge: %w", err)
	}

	s.mu.Lock()
	for id, at := range s.lastSuccess {
		if at.Before(cutoff) {
			delete(s.lastSuccess, id)
		}
	}
	s.mu.Unlock()

	s.log.Info("history purged", logx.Int("removed", n), logx.Time("cutoff", cutoff))
	return n, nil
}

// Entries returns entries with from <= At < to. A zero to means no upper bound.
func (s *Store) Entries(ctx context.Context, from, to time.Time) ([]domain.HistoryEntry, error) {
	all, err := s.backend.LoadHistory(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("history: entries: %w", err)
	}
	if to.IsZero() {
		return all, nil
	}
	out := all[:0]
	for _, e := range all {
		if e.At.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Recipients: len(s.lastSuccess), LastActivity: s.lastActivity, Cooldown: s.cfg.Cooldown}
}
