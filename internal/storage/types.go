package storage

import (
	"context"
	"errors"
	"time"

	"outreach/internal/domain"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "file": NDJSON history journal plus JSON snapshots (default)
//   - "sqlite": SQLite database file
//   - "memory": process-local, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// GateSnapshot is the persisted rate-gate state.
type GateSnapshot struct {
	Day      string        `json:"day"`
	Count    int           `json:"count"`
	LastSend time.Time     `json:"last_send"`
	NextWait time.Duration `json:"next_wait"`
}

// Store is the persistence API used by the history store, the rate gate and the notifier.
type Store interface {
	// AppendHistory durably appends e. It reports false when an entry with the
	// same (recipient, timestamp) key already exists; that is not an error.
	AppendHistory(ctx context.Context, e domain.HistoryEntry) (bool, error)
	// LoadHistory returns entries with At >= since in append order. A zero since returns all.
	LoadHistory(ctx context.Context, since time.Time) ([]domain.HistoryEntry, error)
	// PurgeHistory physically removes entries with At < before.
	PurgeHistory(ctx context.Context, before time.Time) (int, error)

	SaveGateState(ctx context.Context, s GateSnapshot) error
	LoadGateState(ctx context.Context) (GateSnapshot, bool, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
