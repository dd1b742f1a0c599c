package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"outreach/internal/eventbus"
	logx "outreach/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), eventbus.New())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestEnqueueDisabled(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	err := s.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrDisabled) {
		t.Fatalf("Enqueue() = %v, want %v", err, ErrDisabled)
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, QueueSize: 4})
	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 2 * time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("boom")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })

	h := s.Snapshot().History[0]
	if h.Error != "" || h.Attempts != 3 {
		t.Fatalf("history = %+v, want success after 3 attempts", h)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, QueueSize: 4, RetryMax: 5})
	var calls atomic.Int32
	_ = s.Enqueue(Task{
		Name: "unreachable",
		Run: func(context.Context) error {
			calls.Add(1)
			return NoRetry(errors.New("blacklist down"))
		},
	})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })

	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if h := s.Snapshot().History[0]; h.Error != "blacklist down" {
		t.Fatalf("Error = %q, want %q", h.Error, "blacklist down")
	}
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 2, QueueSize: 4})
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	run := func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	opt := TaskOptions{Overlap: OverlapSkipIfRunning}

	if err := s.Enqueue(Task{Name: "cycle", Run: run, Opt: opt}); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}
	<-started
	if err := s.Enqueue(Task{Name: "cycle", Run: run, Opt: opt}); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue() = %v, want %v", err, ErrOverlapSkip)
	}
	close(release)
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })

	// the run state is released once the worker returns
	waitFor(t, func() bool {
		return s.Enqueue(Task{Name: "cycle", Run: func(context.Context) error { return nil }, Opt: opt}) == nil
	})
}

func TestQueueFullDrops(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	_ = s.Enqueue(Task{Name: "a", Run: func(context.Context) error {
		close(started)
		<-block
		return nil
	}})
	<-started
	_ = s.Enqueue(Task{Name: "b", Run: func(context.Context) error { return nil }})

	err := s.Enqueue(Task{Name: "c", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Enqueue() = %v, want %v", err, ErrQueueFull)
	}
	if got := s.Snapshot().DroppedQueueFull; got != 1 {
		t.Fatalf("DroppedQueueFull = %d, want 1", got)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()

	s := startEngine(t, Config{Workers: 1, QueueSize: 2, RetryMax: -1})
	_ = s.Enqueue(Task{Name: "bad", Run: func(context.Context) error { panic("oops") }})
	waitFor(t, func() bool { return len(s.Snapshot().History) == 1 })

	if h := s.Snapshot().History[0]; h.Error != "panic: oops" {
		t.Fatalf("Error = %q, want %q", h.Error, "panic: oops")
	}
}

func TestBackoffHonoursRetryAfter(t *testing.T) {
	t.Parallel()

	opt := TaskOptions{RetryBase: time.Second, RetryMaxDelay: 10 * time.Second}
	got := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("x"), 3*time.Second), nil)
	if got != 3*time.Second {
		t.Fatalf("delay = %v, want %v", got, 3*time.Second)
	}
	if got := backoffDelayWithHint(opt, 3, errors.New("x"), nil); got != 4*time.Second {
		t.Fatalf("delay = %v, want %v", got, 4*time.Second)
	}
	if got := backoffDelayWithHint(opt, 10, errors.New("x"), nil); got != 10*time.Second {
		t.Fatalf("delay = %v, want %v", got, 10*time.Second)
	}
}

func TestRunStateGuard(t *testing.T) {
	t.Parallel()

	var st RunState
	if !st.tryAcquire() || !st.Running() {
		t.Fatalf("first acquire failed")
	}
	if st.tryAcquire() {
		t.Fatalf("second acquire succeeded while running")
	}
	st.release()
	if st.Running() {
		t.Fatalf("Running() = true after release")
	}

	var nilState *RunState
	if !nilState.tryAcquire() || nilState.Running() {
		t.Fatalf("nil RunState must never block")
	}
}

func TestTaskEventsCarryRecord(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "task")
	defer unsub()

	s := New(Config{Enabled: true, Workers: 1, QueueSize: 2}, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	if err := s.Enqueue(Task{Name: "report.daily", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	for _, want := range []string{eventbus.TaskStarted, eventbus.TaskFinished} {
		select {
		case e := <-events:
			rec, ok := e.Data.(Record)
			if e.Type != want || !ok || rec.Name != "report.daily" {
				t.Fatalf("event = %s %+v, want %s for report.daily", e.Type, e.Data, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s event", want)
		}
	}
}
