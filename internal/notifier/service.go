package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"outreach/internal/eventbus"
	"outreach/internal/metrics"
	rtsup "outreach/internal/runtime/supervisor"
	"outreach/internal/storage"
	"outreach/internal/transport"
	logx "outreach/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyLimit = 300

type job struct {
	m        transport.Message
	dedupKey string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service implements an async notification pipeline:
// queue + worker pool + rate limit + retry + dedup, fanned out to transports.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log        logx.Logger
	transports []transport.Transport
	bus        eventbus.Bus
	store      storage.Store
	metrics    metrics.Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	persistCh chan dedupWrite

	hmu     sync.Mutex
	history []HistoryItem
}

// Option configures a Service.
type Option func(*Service)

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

// WithStore enables cross-restart dedup when Config.PersistDedup is set.
func WithStore(st storage.Store) Option { return func(s *Service) { s.store = st } }

func WithMetrics(m metrics.Sink) Option { return func(s *Service) { s.metrics = m } }

func New(cfg Config, transports []transport.Transport, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		transports: transports,
		log:        log.With(logx.String("comp", "notifier")),
		bus:        eventbus.Nop{},
		dedup:      map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	s.metrics = metrics.OrNoop(s.metrics)
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps limits and transports. Workers keep running; the queue size
// takes effect on the next Start.
func (s *Service) Apply(cfg Config, transports []transport.Transport) {
	s.mu.Lock()
	s.applyLocked(cfg)
	if transports != nil {
		s.transports = transports
	}
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// burst = rate per sec, so short spikes don't block too hard
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 1024)
	}
	// notifier failures never take the app down
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	sup, q, pch, st := s.sup, s.queue, s.persistCh, s.store
	s.mu.Unlock()

	exit := func(c context.Context, what string) error {
		s.mu.Lock()
		stopping := s.stopDone != nil
		s.mu.Unlock()
		if stopping || c.Err() != nil {
			return nil
		}
		return fmt.Errorf("notifier %s exited unexpectedly", what)
	}

	if pch != nil {
		sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			return exit(c, "persist loop")
		})
	}
	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return exit(c, "worker")
		})
	}
}

// Stop stops intake and drains the queue best-effort until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, pch, sup := s.queue, s.persistCh, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// in-flight enqueues finish before the queue closes
		s.sendWG.Wait()
		close(q)
		if pch != nil {
			close(pch)
		}
		if sup != nil {
			_ = sup.Wait(context.Background())
		}

		s.mu.Lock()
		s.queue = nil
		s.persistCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if sup != nil {
			sup.Cancel()
		}
	}
}

// Notify queues m for delivery and returns without waiting for it.
// A duplicate inside the dedup window is accepted and silently dropped.
func (s *Service) Notify(ctx context.Context, m transport.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	cfg := s.cfg
	st := s.store
	pch := s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	now := time.Now()
	key := dedupKey(m)
	ev := NotificationEvent{Title: m.Title, Key: key, At: now}
	if cfg.DedupWindow > 0 {
		persist := cfg.PersistDedup && st != nil
		if !s.dedupAllow(ctx, key, now, cfg.DedupWindow, cfg.DedupMaxEntries, persist, st, pch) {
			s.bus.Publish(eventbus.Event{Type: eventbus.NotifierDeduped, Time: now, Data: ev})
			return nil
		}
	}

	select {
	case q <- job{m: m, dedupKey: key}:
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifierQueued, Time: now, Data: ev})
		return nil
	default:
		ev.Error = ErrQueueFull.Error()
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifierDropped, Time: now, Data: ev})
		s.metrics.NotifierDropped()
		s.log.Warn("notification dropped", logx.String("title", m.Title), logx.Int("queue_cap", cap(q)))
		return ErrQueueFull
	}
}

// Publish is Notify without a result, for fire-and-forget callers.
func (s *Service) Publish(ctx context.Context, m transport.Message) {
	if err := s.Notify(ctx, m); err != nil && !errors.Is(err, ErrDisabled) {
		s.log.Debug("notify skipped", logx.String("title", m.Title), logx.Err(err))
	}
}

// Alert adapts the service to logx.AlertFunc.
func (s *Service) Alert(text string) {
	s.Publish(context.Background(), transport.Message{Title: "Alert", Text: text, Priority: transport.PriorityUrgent})
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.hmu.Unlock()
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.mu.Lock()
			transports := s.transports
			s.mu.Unlock()
			for _, tr := range transports {
				s.sendWithRetry(ctx, tr, j)
			}
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, tr transport.Transport, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := tr.Send(callCtx, j.m)
		cancel()
		if err == nil {
			s.appendHistory(HistoryItem{At: time.Now(), Title: j.m.Title, Transport: tr.Name()})
			s.bus.Publish(eventbus.Event{Type: eventbus.NotifierSent, Data: NotificationEvent{Transport: tr.Name(), Title: j.m.Title, Key: j.dedupKey, At: time.Now()}})
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.String("transport", tr.Name()), logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if errors.Is(err, transport.ErrPermanent) || attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.appendHistory(HistoryItem{At: time.Now(), Title: j.m.Title, Transport: tr.Name(), Error: lastErr.Error()})
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifierFailed, Data: NotificationEvent{Transport: tr.Name(), Title: j.m.Title, Key: j.dedupKey, At: time.Now(), Error: lastErr.Error()}})
	s.log.Warn("notification failed", logx.String("transport", tr.Name()), logx.String("title", j.m.Title), logx.Err(lastErr))
}

func dedupKey(m transport.Message) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d|%s|%s", m.Priority, m.Title, m.Text)
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, now time.Time, window time.Duration, maxEntries int, persist bool, st storage.Store, pch chan dedupWrite) bool {
	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if persist {
		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	// evict earliest expiry until within cap
	for len(s.dedup) > maxEntries {
		var minKey string
		var minT time.Time
		for k, u := range s.dedup {
			if minKey == "" || u.Before(minT) {
				minKey, minT = k, u
			}
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	if persist && pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// retryDelay is the wait before attempt+1: exponential from RetryBase with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
