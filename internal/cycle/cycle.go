// Package cycle is the body of the scheduler loop: one discovery, pipeline and
// delivery pass per call, plus the time-triggered maintenance jobs.
//
// A cycle always ends with a summary that is logged, published on the event
// bus and handed to the report publisher, including cycles that sent nothing.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreach/internal/delivery"
	"outreach/internal/discovery"
	"outreach/internal/domain"
	"outreach/internal/eventbus"
	"outreach/internal/metrics"
	"outreach/internal/pipeline"
	"outreach/internal/report"
	"outreach/internal/task/engine"
	"outreach/internal/transport"
	logx "outreach/pkg/logx"
)

// QueueBuilder turns candidates into an eligible queue.
type QueueBuilder interface {
	BuildQueue(ctx context.Context, candidates []domain.Candidate, asOf time.Time) ([]domain.Task, pipeline.Stats, error)
}

// Deliverer drains an eligible queue.
type Deliverer interface {
	Run(ctx context.Context, tasks []domain.Task) (delivery.Summary, []domain.Task, error)
}

type Quota interface {
	Headroom(now time.Time) int
}

// Publisher is the fire-and-forget reporting collaborator.
type Publisher interface {
	Publish(ctx context.Context, m transport.Message)
}

// Config is the hot-reloadable part of a cycle.
type Config struct {
	Criteria discovery.Criteria
	// ExpandSeeds > 0 enables following expansion when discovery returns
	// fewer candidates than today's headroom.
	ExpandSeeds int
	ExpandPages int
	// QuietIdle suppresses publishing summaries of cycles that attempted nothing.
	// They are still logged and put on the bus.
	QuietIdle bool
}

type Deps struct {
	Source    discovery.Source
	Following discovery.FollowingSource // optional
	Pipeline  QueueBuilder
	Delivery  Deliverer
	Quota     Quota
	Publisher Publisher // optional
}

type Option func(*Runner)

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

func WithBus(bus eventbus.Bus) Option {
	return func(r *Runner) {
		if bus != nil {
			r.bus = bus
		}
	}
}

func WithMetrics(m metrics.Sink) Option { return func(r *Runner) { r.metrics = metrics.OrNoop(m) } }

// Runner executes cycles one at a time.
type Runner struct {
	deps Deps
	log  logx.Logger

	bus     eventbus.Bus
	metrics metrics.Sink
	now     func() time.Time

	// run serializes cycles so gate and history writes have a single writer.
	run sync.Mutex

	mu  sync.RWMutex
	cfg Config
}

func NewRunner(deps Deps, cfg Config, log logx.Logger, opts ...Option) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{
		deps:    deps,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "cycle")),
		bus:     eventbus.Nop{},
		metrics: metrics.NoopSink{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetConfig swaps criteria and expansion settings; it applies to the next cycle.
func (r *Runner) SetConfig(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Runner) config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// RunCycle runs one cycle. The summary is valid even when err != nil.
//
// Unavailable collaborators and persistence failures come back wrapped in
// engine.NoRetry: the cycle is skipped and the next cadence tries again.
// Cancellation is returned unwrapped.
func (r *Runner) RunCycle(ctx context.Context) (report.CycleSummary, error) {
	r.run.Lock()
	defer r.run.Unlock()

	start := r.now()
	sum := report.CycleSummary{ID: uuid.NewString(), Started: start}
	log := r.log.With(logx.String("cycle", sum.ID))
	r.bus.Publish(eventbus.Event{Type: eventbus.CycleStarted, Time: start, Data: sum.ID})

	err := r.runCycle(ctx, &sum, log)
	r.finish(ctx, &sum, err, log)
	return sum, err
}

func (r *Runner) runCycle(ctx context.Context, sum *report.CycleSummary, log logx.Logger) error {
	cfg := r.config()
	now := sum.Started

	room := r.deps.Quota.Headroom(now)
	if room <= 0 {
		log.Info("daily quota exhausted; skipping discovery")
		return nil
	}

	candidates, err := r.deps.Source.Discover(ctx, cfg.Criteria)
	if err != nil {
		return r.collaboratorErr(ctx, sum, "discovery", err)
	}
	log.Debug("discovered", logx.Int("candidates", len(candidates)), logx.Int("headroom", room))

	if r.deps.Following != nil && cfg.ExpandSeeds > 0 && len(candidates) > 0 && len(candidates) < room {
		extra := discovery.Expand(ctx, r.deps.Following, candidates, cfg.ExpandSeeds, cfg.ExpandPages, log)
		sum.Expanded = len(extra)
		candidates = append(candidates, extra...)
	}

	tasks, st, err := r.deps.Pipeline.BuildQueue(ctx, candidates, now)
	sum.Pipeline = st
	r.metrics.QueueBuilt(len(tasks))
	if err != nil {
		return r.collaboratorErr(ctx, sum, "pipeline", err)
	}
	if len(tasks) == 0 {
		return nil
	}

	dsum, rest, err := r.deps.Delivery.Run(ctx, tasks)
	sum.Delivery = dsum
	if len(rest) > 0 {
		log.Info("unsent tasks returned to discovery", logx.Int("count", len(rest)), logx.String("reason", dsum.StopReason))
	}
	switch {
	case err == nil:
		return nil
	case domain.IsPersistence(err):
		return engine.NoRetry(fmt.Errorf("cycle: delivery: %w", err))
	default:
		return fmt.Errorf("cycle: delivery: %w", err)
	}
}

func (r *Runner) collaboratorErr(ctx context.Context, sum *report.CycleSummary, stage string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if domain.IsUnavailable(err) {
		sum.Skipped = true
		return engine.NoRetry(fmt.Errorf("cycle: %s: %w", stage, err))
	}
	return fmt.Errorf("cycle: %s: %w", stage, err)
}

func (r *Runner) finish(ctx context.Context, sum *report.CycleSummary, err error, log logx.Logger) {
	end := r.now()
	sum.Duration = end.Sub(sum.Started)
	sum.Headroom = r.deps.Quota.Headroom(end)

	result := "ok"
	evType := eventbus.CycleFinished
	if err != nil {
		sum.Error = err.Error()
		evType = eventbus.CycleFailed
		switch {
		case sum.Skipped:
			result = "skipped"
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			result = "canceled"
		default:
			result = "error"
		}
	}
	r.metrics.CycleCompleted(result, sum.Duration)
	r.bus.Publish(eventbus.Event{Type: evType, Time: end, Data: *sum})

	fields := []logx.Field{
		logx.String("result", result),
		logx.Int("discovered", sum.Pipeline.Discovered),
		logx.Int("queued", sum.Pipeline.Queued),
		logx.Int("sent", sum.Delivery.Succeeded),
		logx.Int("failed", sum.Delivery.Failed),
		logx.Int("skipped", sum.Delivery.Skipped),
		logx.Int("denied", denials(sum.Delivery)),
		logx.Int("headroom", sum.Headroom),
		logx.Duration("took", sum.Duration),
	}
	switch {
	case domain.IsPersistence(err):
		log.Error("cycle aborted: history or gate state not persisted", append(fields, logx.Err(err))...)
	case err != nil && result != "canceled":
		log.Warn("cycle failed", append(fields, logx.Err(err))...)
	default:
		log.Info("cycle summary", fields...)
	}

	if r.deps.Publisher == nil || (sum.Idle() && err == nil && r.config().QuietIdle) {
		return
	}
	r.deps.Publisher.Publish(context.WithoutCancel(ctx), sum.Message())
}

func denials(s delivery.Summary) int {
	n := 0
	for _, c := range s.Denials {
		n += c
	}
	return n
}
