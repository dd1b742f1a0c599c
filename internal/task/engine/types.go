package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config controls the job executor. Triggers come from the scheduler.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies to tasks without their own Timeout; 0 means none.
	DefaultTimeout time.Duration
	// MaxQueueDelay discards tasks that waited longer in the queue; 0 means never.
	MaxQueueDelay time.Duration

	HistorySize int
	RetryMax    int
}

func (cfg Config) normalized() Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 2
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	return cfg
}

type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning rejects a task while another with the same
	// state is queued or running.
	OverlapSkipIfRunning
)

// TaskOptions tune retries per task. A negative RetryMax disables retries.
type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // fraction, 0.2 = ±20%
}

func (o TaskOptions) resolve(cfg Config) TaskOptions {
	switch {
	case o.RetryMax < 0:
		o.RetryMax = 0
	case o.RetryMax == 0:
		o.RetryMax = cfg.RetryMax
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 30 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	if o.Overlap != OverlapAllow {
		o.Overlap = OverlapSkipIfRunning
	}
	return o
}

// RunState is the overlap guard shared by tasks that must not run
// concurrently, such as two triggers of the same outreach cycle.
type RunState struct {
	busy atomic.Bool
}

func (s *RunState) tryAcquire() bool {
	return s == nil || s.busy.CompareAndSwap(false, true)
}

func (s *RunState) release() {
	if s != nil {
		s.busy.Store(false)
	}
}

// Running reports whether a task holding s is queued or executing.
func (s *RunState) Running() bool {
	return s != nil && s.busy.Load()
}

// Record describes one task execution. It is kept in the engine history
// and carried as the payload of task.* events.
type Record struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Task is a unit of work. Tasks sharing a Name share overlap state unless
// State is set.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
	State   *RunState
}

// Snapshot is a diagnostic view of the engine.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	History []Record
}
