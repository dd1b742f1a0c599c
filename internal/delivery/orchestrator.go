// Package delivery drives one task at a time through the send state machine:
// Pending -> Sending -> {Succeeded, FailedRetryable -> Sending, FailedTerminal}.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"outreach/internal/domain"
	"outreach/internal/eventbus"
	"outreach/internal/gate"
	"outreach/internal/metrics"
	logx "outreach/pkg/logx"
)

// Sender is the delivery channel. A nil error is a success; failures should be
// classified with domain.Transient, domain.Terminal or domain.Skipped.
// Unclassified errors are treated as transient.
type Sender interface {
	Send(ctx context.Context, recipient, message string) error
}

type Gate interface {
	CanSendNow(now time.Time) gate.Verdict
	RecordSend(ctx context.Context, now time.Time) error
}

type Recorder interface {
	Record(ctx context.Context, e domain.HistoryEntry) error
}

type State int

const (
	Pending State = iota
	Sending
	Succeeded
	FailedRetryable
	FailedTerminal
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Sending:
		return "sending"
	case Succeeded:
		return "succeeded"
	case FailedRetryable:
		return "failed_retryable"
	case FailedTerminal:
		return "failed_terminal"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type Config struct {
	// RetryAttempts is the number of resends after the first attempt.
	RetryAttempts int
	SendTimeout   time.Duration
	// RetryBackoff is the base pause before a resend; it doubles per attempt with jitter.
	RetryBackoff time.Duration
}

// Summary accounts one Run. Denials counts gate decisions by name.
type Summary struct {
	Attempts  int            `json:"attempts"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Retries   int            `json:"retries"`
	Denials   map[string]int `json:"denials,omitempty"`
	Remaining int            `json:"remaining"`
	// StopReason is set when the run ended before the queue was drained.
	StopReason string `json:"stop_reason,omitempty"`
}

func (s *Summary) deny(d gate.Decision) {
	if s.Denials == nil {
		s.Denials = map[string]int{}
	}
	s.Denials[d.String()]++
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSleep replaces the pacing wait. It must return ctx.Err() when ctx ends first.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

func WithEvents(bus eventbus.Bus) Option {
	return func(o *Orchestrator) {
		if bus != nil {
			o.bus = bus
		}
	}
}

func WithMetrics(m metrics.Sink) Option {
	return func(o *Orchestrator) { o.metrics = metrics.OrNoop(m) }
}

type Orchestrator struct {
	sender  Sender
	gate    Gate
	history Recorder
	cfg     Config

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	bus     eventbus.Bus
	metrics metrics.Sink
	log     logx.Logger
}

func New(sender Sender, g Gate, history Recorder, cfg Config, log logx.Logger, opts ...Option) *Orchestrator {
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}
	o := &Orchestrator{
		sender:  sender,
		gate:    g,
		history: history,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepCtx,
		bus:     eventbus.Nop{},
		metrics: metrics.NoopSink{},
		log:     log.With(logx.String("comp", "delivery")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// suspended means the gate closed for longer than a pacing wait (blocked hour or quota).
type suspended struct{ verdict gate.Verdict }

func (s suspended) Error() string {
	return fmt.Sprintf("gate %s (reopens in %s)", s.verdict.Decision, s.verdict.Wait.Round(time.Second))
}

// Run delivers tasks in order, one at a time. It returns the unconsumed tail:
// tasks without an outcome because the gate closed or ctx ended. Those tasks
// have no history entries; a task suspended between retries keeps Attempts.
//
// A *domain.PersistenceError aborts the run; the task that hit it is consumed.
func (o *Orchestrator) Run(ctx context.Context, tasks []domain.Task) (Summary, []domain.Task, error) {
	var sum Summary
	for i := range tasks {
		t := tasks[i]
		err := o.deliver(ctx, &t, &sum)
		if err == nil {
			continue
		}

		var susp suspended
		switch {
		case errors.As(err, &susp):
			rest := append([]domain.Task{t}, tasks[i+1:]...)
			sum.Remaining = len(rest)
			sum.StopReason = susp.verdict.Decision.String()
			o.log.Info("cycle suspended by rate gate",
				logx.String("decision", susp.verdict.Decision.String()),
				logx.Duration("reopens_in", susp.verdict.Wait),
				logx.Int("remaining", len(rest)),
			)
			o.bus.Publish(eventbus.Event{Type: eventbus.DeliverySuspended, Data: eventbus.DeliveryData{
				TaskID: t.ID, Recipient: t.Candidate.ID, Attempt: t.Attempts, Decision: susp.verdict.Decision.String(),
			}})
			return sum, rest, nil
		case domain.IsPersistence(err):
			rest := tasks[i+1:]
			sum.Remaining = len(rest)
			sum.StopReason = "persistence"
			o.log.Error("history or gate write failed; stopping cycle", logx.String("recipient", t.Candidate.ID), logx.Err(err))
			return sum, rest, err
		default:
			// only cancellation reaches here, before the task was sent
			rest := append([]domain.Task{t}, tasks[i+1:]...)
			sum.Remaining = len(rest)
			sum.StopReason = "canceled"
			return sum, rest, err
		}
	}
	return sum, nil, nil
}

// deliver runs one task to a terminal state. It returns nil after the outcome
// was recorded, suspended{} when the gate closed, ctx errors on abort before a
// send, or a persistence error.
func (o *Orchestrator) deliver(ctx context.Context, t *domain.Task, sum *Summary) error {
	for {
		if err := o.awaitGate(ctx, t, sum); err != nil {
			var susp suspended
			if t.Attempts > 0 && !errors.As(err, &susp) {
				// canceled mid-retry: earlier sends happened and must be accounted
				return o.finalize(ctx, t, FailedTerminal, fmt.Errorf("retry interrupted: %w", err), sum)
			}
			// a suspended retry goes back to the tail with its attempt count
			return err
		}

		t.Attempts++
		sum.Attempts++
		if t.Attempts > 1 {
			sum.Retries++
		}
		o.log.Debug("sending", logx.String("task", t.ID), logx.String("recipient", t.Candidate.ID), logx.Int("attempt", t.Attempts))

		err := o.send(ctx, t)
		state := classify(err)
		o.metrics.DeliveryAttempt(attemptLabel(state, err))

		if state == FailedRetryable && ctx.Err() != nil {
			// shutting down mid-send; the attempt may have gone out
			state = FailedTerminal
		}
		if state == FailedRetryable && t.Attempts > o.cfg.RetryAttempts {
			o.log.Warn("retry budget exhausted", logx.String("recipient", t.Candidate.ID), logx.Int("attempts", t.Attempts), logx.Err(err))
			state = FailedTerminal
		}

		if state == FailedRetryable {
			o.bus.Publish(eventbus.Event{Type: eventbus.DeliveryRetry, Data: eventbus.DeliveryData{
				TaskID: t.ID, Recipient: t.Candidate.ID, Attempt: t.Attempts, Error: err.Error(),
			}})
			wait := o.backoff(t.Attempts)
			o.log.Info("transient send failure; will retry",
				logx.String("recipient", t.Candidate.ID),
				logx.Int("attempt", t.Attempts),
				logx.Duration("backoff", wait),
				logx.Err(err),
			)
			if wait > 0 {
				if serr := o.sleep(ctx, wait); serr != nil {
					// aborted between attempts: the earlier sends count
					return o.finalize(ctx, t, FailedTerminal, err, sum)
				}
			}
			continue
		}
		return o.finalize(ctx, t, state, err, sum)
	}
}

// awaitGate blocks through TooSoon denials and returns suspended{} for the others.
func (o *Orchestrator) awaitGate(ctx context.Context, t *domain.Task, sum *Summary) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		v := o.gate.CanSendNow(o.now())
		if v.Allowed() {
			return nil
		}
		sum.deny(v.Decision)
		o.metrics.GateDenied(v.Decision.String())
		o.bus.Publish(eventbus.Event{Type: eventbus.DeliveryDenied, Data: eventbus.DeliveryData{
			TaskID: t.ID, Recipient: t.Candidate.ID, Attempt: t.Attempts, Decision: v.Decision.String(),
		}})
		if v.Decision != gate.DenyTooSoon {
			return suspended{v}
		}
		o.log.Debug("pacing", logx.Duration("wait", v.Wait), logx.String("recipient", t.Candidate.ID))
		if err := o.sleep(ctx, v.Wait); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) send(ctx context.Context, t *domain.Task) error {
	sctx := ctx
	if o.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, o.cfg.SendTimeout)
		defer cancel()
	}
	err := o.sender.Send(sctx, t.Candidate.ID, t.Message)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return domain.Transient(fmt.Errorf("send timed out after %s: %w", o.cfg.SendTimeout, err))
	}
	return err
}

func classify(err error) State {
	switch {
	case err == nil:
		return Succeeded
	case domain.IsSkipped(err):
		return Skipped
	case domain.IsTerminal(err):
		return FailedTerminal
	default:
		return FailedRetryable
	}
}

func attemptLabel(s State, err error) string {
	switch s {
	case Succeeded:
		return "ok"
	case Skipped:
		return "skipped"
	case FailedTerminal:
		return "terminal"
	default:
		if errors.Is(err, domain.ErrTransient) {
			return "transient"
		}
		return "unclassified"
	}
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	base := o.cfg.RetryBackoff
	if base <= 0 {
		return 0
	}
	d := base << min(attempt-1, 6)
	return d + time.Duration(rand.Int64N(int64(d)/4+1))
}

// finalize records a terminal outcome: the gate first, then history. Skipped
// tasks do not consume quota. Writes use a context detached from cancellation so
// a shutdown cannot leave a sent message unaccounted.
func (o *Orchestrator) finalize(ctx context.Context, t *domain.Task, state State, cause error, sum *Summary) error {
	wctx := context.WithoutCancel(ctx)
	now := o.now()

	outcome := domain.OutcomeSuccess
	evType := eventbus.DeliverySent
	switch state {
	case FailedTerminal:
		outcome, evType = domain.OutcomeFailed, eventbus.DeliveryFailed
		sum.Failed++
	case Skipped:
		outcome, evType = domain.OutcomeSkipped, eventbus.DeliverySkipped
		sum.Skipped++
	default:
		sum.Succeeded++
	}

	var errs []error
	if state != Skipped {
		if err := o.gate.RecordSend(wctx, now); err != nil {
			errs = append(errs, err)
		}
	}
	entry := domain.HistoryEntry{
		Recipient: t.Candidate.ID,
		At:        now,
		Outcome:   outcome,
		Retries:   max(0, t.Attempts-1),
		URL:       t.Candidate.URL,
		Keyword:   t.Candidate.Keyword,
		Message:   t.Message,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := o.history.Record(wctx, entry); err != nil {
		errs = append(errs, err)
	}

	o.metrics.DeliveryOutcome(string(outcome))
	o.bus.Publish(eventbus.Event{Type: evType, Data: eventbus.DeliveryData{
		TaskID: t.ID, Recipient: t.Candidate.ID, Attempt: t.Attempts, Error: entry.Error,
	}})
	o.log.Info("delivery finished",
		logx.String("recipient", t.Candidate.ID),
		logx.String("outcome", string(outcome)),
		logx.Int("attempts", t.Attempts),
		logx.String("error", entry.Error),
	)

	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if !domain.IsPersistence(err) {
		err = domain.Persistence("delivery.finalize", err)
	}
	return err
}
