package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"outreach/internal/storage"
	"outreach/internal/transport"
	logx "outreach/pkg/logx"
)

type recordingTransport struct {
	mu    sync.Mutex
	fails int
	err   error
	got   []transport.Message
	calls int
}

func (*recordingTransport) Name() string { return "rec" }

func (r *recordingTransport) Send(_ context.Context, m transport.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.fails {
		return r.err
	}
	r.got = append(r.got, m)
	return nil
}

func (r *recordingTransport) snapshot() (int, []transport.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, append([]transport.Message(nil), r.got...)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		Workers:       1,
		QueueSize:     8,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
		DedupWindow:   time.Minute,
	}
}

func stopped(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	rec := &recordingTransport{fails: 2, err: errors.New("503")}
	s := New(testConfig(), []transport.Transport{rec}, logx.Nop())
	s.Start(context.Background())

	if err := s.Notify(context.Background(), transport.Message{Title: "Daily", Text: "sent: 1"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	stopped(t, s)

	calls, got := rec.snapshot()
	if calls != 3 || len(got) != 1 {
		t.Fatalf("calls = %d delivered = %d, want 3 and 1", calls, len(got))
	}
}

func TestNotifyStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	rec := &recordingTransport{fails: 5, err: transport.ErrPermanent}
	s := New(testConfig(), []transport.Transport{rec}, logx.Nop())
	s.Start(context.Background())
	_ = s.Notify(context.Background(), transport.Message{Text: "x"})
	stopped(t, s)

	if calls, _ := rec.snapshot(); calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	h := s.Snapshot()
	if len(h) != 1 || h[0].Error == "" {
		t.Fatalf("history = %+v, want one failed entry", h)
	}
}

func TestNotifyDedupsWithinWindow(t *testing.T) {
	t.Parallel()

	rec := &recordingTransport{}
	s := New(testConfig(), []transport.Transport{rec}, logx.Nop())
	s.Start(context.Background())
	m := transport.Message{Title: "Alert", Text: "blacklist unavailable"}
	for range 3 {
		if err := s.Notify(context.Background(), m); err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}
	stopped(t, s)

	if _, got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("delivered = %d, want 1", len(got))
	}
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	cfg := testConfig()
	cfg.PersistDedup = true
	m := transport.Message{Title: "Health", Text: "no activity in 24h"}

	first := &recordingTransport{}
	s1 := New(cfg, []transport.Transport{first}, logx.Nop(), WithStore(st))
	s1.Start(context.Background())
	_ = s1.Notify(context.Background(), m)
	stopped(t, s1)

	second := &recordingTransport{}
	s2 := New(cfg, []transport.Transport{second}, logx.Nop(), WithStore(st))
	s2.Start(context.Background())
	_ = s2.Notify(context.Background(), m)
	stopped(t, s2)

	if _, got := first.snapshot(); len(got) != 1 {
		t.Fatalf("first delivered = %d, want 1", len(got))
	}
	if _, got := second.snapshot(); len(got) != 0 {
		t.Fatalf("second delivered = %d, want 0", len(got))
	}
}

func TestNotifyStateErrors(t *testing.T) {
	t.Parallel()

	disabled := New(Config{}, nil, logx.Nop())
	if err := disabled.Notify(context.Background(), transport.Message{Text: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("Notify() = %v, want %v", err, ErrDisabled)
	}
	notStarted := New(testConfig(), nil, logx.Nop())
	if err := notStarted.Notify(context.Background(), transport.Message{Text: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Notify() = %v, want %v", err, ErrStopped)
	}
}
