package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"outreach/internal/domain"
)

type memoryStore struct {
	mu      sync.Mutex
	closed  bool
	entries []domain.HistoryEntry
	keys    map[string]struct{}
	gate    *GateSnapshot
	dedup   map[string]time.Time
}

// NewMemory returns a process-local Store.
func NewMemory() Store {
	return &memoryStore{keys: map[string]struct{}{}, dedup: map[string]time.Time{}}
}

func (s *memoryStore) AppendHistory(ctx context.Context, e domain.HistoryEntry) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	k := e.Key()
	if _, dup := s.keys[k]; dup {
		return false, nil
	}
	s.keys[k] = struct{}{}
	s.entries = append(s.entries, e)
	return true, nil
}

func (s *memoryStore) LoadHistory(ctx context.Context, since time.Time) ([]domain.HistoryEntry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]domain.HistoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if since.IsZero() || !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryStore) PurgeHistory(ctx context.Context, before time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	removed := 0
	for _, e := range s.entries {
		if e.At.Before(before) {
			delete(s.keys, e.Key())
			removed++
			continue
		}
		s.entries[n] = e
		n++
	}
	s.entries = s.entries[:n]
	return removed, nil
}

func (s *memoryStore) SaveGateState(ctx context.Context, st GateSnapshot) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	cp := st
	s.gate = &cp
	return nil
}

func (s *memoryStore) LoadGateState(ctx context.Context) (GateSnapshot, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return GateSnapshot{}, false, ErrClosed
	}
	if s.gate == nil {
		return GateSnapshot{}, false, nil
	}
	return *s.gate, true, nil
}

func (s *memoryStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	s.dedup[key] = until
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.dedup[strings.TrimSpace(key)]
	return until, ok, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
