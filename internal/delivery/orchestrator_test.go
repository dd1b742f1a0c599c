package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"outreach/internal/domain"
	"outreach/internal/gate"
	"outreach/internal/history"
	"outreach/internal/storage"
	logx "outreach/pkg/logx"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
	// cancel, when set, is called on the first sleep instead of sleeping.
	cancel context.CancelFunc
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	if c.cancel != nil {
		cancel := c.cancel
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		return ctx.Err()
	}
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

type scriptedSender struct {
	mu    sync.Mutex
	calls map[string]int
	// errs returns the error for the n-th call (1-based) to recipient.
	errs func(recipient string, n int) error
}

func (s *scriptedSender) Send(_ context.Context, recipient, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[recipient]++
	if s.errs == nil {
		return nil
	}
	return s.errs(recipient, s.calls[recipient])
}

type zeroRand struct{}

func (zeroRand) Int64N(int64) int64 { return 0 }
func (zeroRand) Float64() float64   { return 1 }

type fixture struct {
	clock   *fakeClock
	sender  *scriptedSender
	gate    *gate.Gate
	history *history.Store
	orch    *Orchestrator
}

func newFixture(t *testing.T, gcfg gate.Config, retries int, sendErrs func(string, int) error) *fixture {
	t.Helper()
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)}
	g, err := gate.New(ctx, nil, gcfg, gate.WithLocation(time.UTC), gate.WithRand(zeroRand{}))
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}
	h, err := history.Open(ctx, storage.NewMemory(), history.Config{}, clock.Now(), logx.Nop())
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	sender := &scriptedSender{errs: sendErrs}
	o := New(sender, g, h, Config{RetryAttempts: retries}, logx.Nop(), WithClock(clock.Now), WithSleep(clock.Sleep))
	return &fixture{clock: clock, sender: sender, gate: g, history: h, orch: o}
}

func tasks(ids ...string) []domain.Task {
	out := make([]domain.Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Task{ID: "t-" + id, Candidate: domain.Candidate{ID: id}, Message: "hello"})
	}
	return out
}

func (f *fixture) entries(t *testing.T) []domain.HistoryEntry {
	t.Helper()
	es, err := f.history.Entries(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	return es
}

func TestRunDeliversAndPaces(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gate.Config{DailyMax: 10, MinWait: 15 * time.Second, MaxWait: 15 * time.Second}, 3, nil)

	sum, rest, err := f.orch.Run(context.Background(), tasks("a", "b", "c"))
	if err != nil || len(rest) != 0 {
		t.Fatalf("Run = %v, rest %d", err, len(rest))
	}
	if sum.Succeeded != 3 || sum.Attempts != 3 || sum.Denials["too_soon"] != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(f.clock.slept) != 2 || f.clock.slept[0] != 15*time.Second {
		t.Fatalf("slept = %v, want two 15s waits", f.clock.slept)
	}
	if got := f.gate.Snapshot().Count; got != 3 {
		t.Fatalf("gate count = %d, want 3", got)
	}
	if es := f.entries(t); len(es) != 3 || es[0].Outcome != domain.OutcomeSuccess {
		t.Fatalf("history = %+v", es)
	}
}

func TestRetryBound(t *testing.T) {
	t.Parallel()
	always := func(string, int) error { return domain.Transient(errors.New("ui glitch")) }
	f := newFixture(t, gate.Config{DailyMax: 10}, 3, always)

	sum, _, err := f.orch.Run(context.Background(), tasks("a"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.sender.calls["a"]; got != 4 {
		t.Fatalf("send calls = %d, want retryAttempts+1 = 4", got)
	}
	if sum.Failed != 1 || sum.Retries != 3 {
		t.Fatalf("summary = %+v", sum)
	}
	es := f.entries(t)
	if len(es) != 1 || es[0].Outcome != domain.OutcomeFailed || es[0].Retries != 3 {
		t.Fatalf("history = %+v", es)
	}
	if got := f.gate.Snapshot().Count; got != 1 {
		t.Fatalf("gate count = %d, want 1", got)
	}
}

func TestUnclassifiedErrorsRetryThenSucceed(t *testing.T) {
	t.Parallel()
	flaky := func(_ string, n int) error {
		if n < 3 {
			return errors.New("connection reset")
		}
		return nil
	}
	f := newFixture(t, gate.Config{DailyMax: 10}, 3, flaky)

	sum, _, err := f.orch.Run(context.Background(), tasks("a"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Succeeded != 1 || f.sender.calls["a"] != 3 {
		t.Fatalf("summary = %+v calls = %d", sum, f.sender.calls["a"])
	}
	if es := f.entries(t); es[0].Retries != 2 {
		t.Fatalf("retries recorded = %d, want 2", es[0].Retries)
	}
}

func TestTerminalAndSkipped(t *testing.T) {
	t.Parallel()
	errs := func(id string, _ int) error {
		switch id {
		case "gone":
			return domain.Terminal(errors.New("account deleted"))
		case "closed":
			return domain.Skipped("messages disabled")
		}
		return nil
	}
	f := newFixture(t, gate.Config{DailyMax: 10}, 3, errs)

	sum, _, err := f.orch.Run(context.Background(), tasks("gone", "closed", "ok"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.sender.calls["gone"] != 1 || f.sender.calls["closed"] != 1 {
		t.Fatalf("terminal or skipped outcome was retried: %v", f.sender.calls)
	}
	if sum.Failed != 1 || sum.Skipped != 1 || sum.Succeeded != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	// skipped does not consume quota
	if got := f.gate.Snapshot().Count; got != 2 {
		t.Fatalf("gate count = %d, want 2", got)
	}
}

func TestQuotaSuspendsAndReturnsRemainder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gate.Config{DailyMax: 2}, 3, nil)

	sum, rest, err := f.orch.Run(context.Background(), tasks("a", "b", "c", "d"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rest) != 2 || rest[0].Candidate.ID != "c" || rest[0].Attempts != 0 {
		t.Fatalf("rest = %+v", rest)
	}
	if sum.StopReason != "quota_exhausted" || sum.Remaining != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if es := f.entries(t); len(es) != 2 {
		t.Fatalf("history entries = %d, want 2 (no writes for suspended tasks)", len(es))
	}
	if f.sender.calls["c"] != 0 {
		t.Fatalf("suspended task was sent")
	}
}

func TestBlockedHourSuspends(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gate.Config{DailyMax: 5, BlockedHours: []int{10}}, 3, nil)

	sum, rest, err := f.orch.Run(context.Background(), tasks("a", "b"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(rest) != 2 || sum.StopReason != "blocked_hour" || sum.Attempts != 0 {
		t.Fatalf("sum = %+v rest = %d", sum, len(rest))
	}
}

func TestBlockedHourDuringRetrySuspends(t *testing.T) {
	t.Parallel()
	firstFails := func(_ string, n int) error {
		if n == 1 {
			return domain.Transient(errors.New("rate limited"))
		}
		return nil
	}
	f := newFixture(t, gate.Config{DailyMax: 5, BlockedHours: []int{11}}, 3, firstFails)
	f.clock.now = time.Date(2025, 6, 2, 10, 59, 59, 0, time.UTC)
	o := New(f.sender, f.gate, f.history, Config{RetryAttempts: 3, RetryBackoff: 2 * time.Second}, logx.Nop(),
		WithClock(f.clock.Now), WithSleep(f.clock.Sleep))

	sum, rest, err := o.Run(context.Background(), tasks("a", "b"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Failed != 0 || sum.StopReason != "blocked_hour" {
		t.Fatalf("summary = %+v, want suspension without failure", sum)
	}
	if len(rest) != 2 || rest[0].Candidate.ID != "a" || rest[0].Attempts != 1 {
		t.Fatalf("rest = %+v, want a (1 attempt) then b", rest)
	}
	if es := f.entries(t); len(es) != 0 {
		t.Fatalf("history = %+v, want no entries for a suspended retry", es)
	}
	if got := f.gate.Snapshot().Count; got != 0 {
		t.Fatalf("gate count = %d, want 0", got)
	}

	f.clock.now = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	sum, rest, err = o.Run(context.Background(), rest[:1])
	if err != nil || len(rest) != 0 {
		t.Fatalf("resumed Run = %v, rest %d", err, len(rest))
	}
	if sum.Succeeded != 1 || f.sender.calls["a"] != 2 {
		t.Fatalf("resumed summary = %+v, send calls = %d", sum, f.sender.calls["a"])
	}
	if es := f.entries(t); len(es) != 1 || es[0].Outcome != domain.OutcomeSuccess || es[0].Retries != 1 {
		t.Fatalf("history = %+v, want one success with 1 retry", es)
	}
}

func TestCancelDuringPacingReturnsUnsent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gate.Config{DailyMax: 10, MinWait: time.Minute, MaxWait: time.Minute}, 3, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.clock.cancel = cancel

	sum, rest, err := f.orch.Run(ctx, tasks("a", "b", "c"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if sum.Succeeded != 1 || len(rest) != 2 || rest[0].Candidate.ID != "b" {
		t.Fatalf("sum = %+v rest = %+v", sum, rest)
	}
	if es := f.entries(t); len(es) != 1 {
		t.Fatalf("history entries = %d, want 1", len(es))
	}
}

type brokenRecorder struct{}

func (brokenRecorder) Record(context.Context, domain.HistoryEntry) error {
	return domain.Persistence("history.record", errors.New("disk full"))
}

func TestPersistenceErrorStopsRunAfterGateUpdate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gate.Config{DailyMax: 10}, 3, nil)
	o := New(f.sender, f.gate, brokenRecorder{}, Config{RetryAttempts: 3}, logx.Nop(), WithClock(f.clock.Now), WithSleep(f.clock.Sleep))

	sum, rest, err := o.Run(context.Background(), tasks("a", "b"))
	if !domain.IsPersistence(err) {
		t.Fatalf("Run error = %v, want PersistenceError", err)
	}
	if len(rest) != 1 || rest[0].Candidate.ID != "b" || sum.StopReason != "persistence" {
		t.Fatalf("sum = %+v rest = %+v", sum, rest)
	}
	if got := f.gate.Snapshot().Count; got != 1 {
		t.Fatalf("gate count = %d, want 1 (memory updated before history write)", got)
	}
}

func TestSendTimeoutIsTransient(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gate.Config{DailyMax: 10}, 1, nil)
	slow := senderFunc(func(ctx context.Context, _, _ string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	o := New(slow, f.gate, f.history, Config{RetryAttempts: 1, SendTimeout: 10 * time.Millisecond}, logx.Nop(), WithClock(f.clock.Now), WithSleep(f.clock.Sleep))

	sum, _, err := o.Run(context.Background(), tasks("a"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Attempts != 2 || sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 2 attempts and 1 failure", sum)
	}
}

type senderFunc func(ctx context.Context, recipient, message string) error

func (f senderFunc) Send(ctx context.Context, recipient, message string) error {
	return f(ctx, recipient, message)
}
