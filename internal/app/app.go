package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"

	"outreach/internal/config"
	"outreach/internal/cycle"
	"outreach/internal/delivery"
	"outreach/internal/eventbus"
	"outreach/internal/gate"
	"outreach/internal/history"
	"outreach/internal/message"
	"outreach/internal/metrics"
	"outreach/internal/notifier"
	"outreach/internal/pipeline"
	"outreach/internal/report"
	"outreach/internal/runtime/supervisor"
	"outreach/internal/storage"
	"outreach/internal/task/engine"
	"outreach/internal/task/scheduler"
	logx "outreach/pkg/logx"
	"outreach/pkg/systemd"
)

const lockName = "outreach.lock"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	lock *flock.Flock

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	registry *prometheus.Registry
	sink     *metrics.PrometheusSink

	hist   *history.Store
	gate   *gate.Gate
	notif  *notifier.Service
	engine *engine.Service
	sched  *scheduler.Service
	runner *cycle.Runner
	maint  *cycle.Maintenance

	closers     []func() error
	startedOnce bool
}

// New loads the config, takes the instance lock and wires every component.
// Nothing runs until Start or RunOnce.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	a := &App{cfgm: cfgm, logs: logs, log: log.With(logx.String("comp", "app"))}
	if err := a.wire(ctx, cfg, log); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, cfg *config.Config, log logx.Logger) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if err := a.acquireLock(stateDir(sc)); err != nil {
		return err
	}
	a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	a.bus = eventbus.New()
	a.registry = prometheus.NewRegistry()
	a.sink = metrics.NewPrometheusSink(a.registry, log.With(logx.String("comp", "metrics")))

	a.gate, err = gate.New(ctx, a.store, mapGateConfig(cfg),
		gate.WithLocation(loc), gate.WithLogger(log))
	if err != nil {
		return err
	}
	a.hist, err = history.Open(ctx, a.store, mapHistoryConfig(cfg), time.Now(), log)
	if err != nil {
		return err
	}

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}
	transports, err := buildTransports(cfg, log)
	if err != nil {
		return err
	}
	a.notif = notifier.New(ncfg, transports, log,
		notifier.WithBus(a.bus), notifier.WithStore(a.store), notifier.WithMetrics(a.sink))
	a.logs.SetAlertFunc(a.notif.Alert)

	tmpl, err := message.Load(cfg.Delivery.MessageFile, cfg.Delivery.DefaultMessage, log.With(logx.String("comp", "message")))
	if err != nil {
		return err
	}
	bl, closeBL, err := buildBlacklist(cfg, log)
	if err != nil {
		return err
	}
	if closeBL != nil {
		a.closers = append(a.closers, closeBL)
	}
	src, err := buildSources(cfg, log)
	if err != nil {
		return err
	}
	snd, err := buildSender(cfg, log)
	if err != nil {
		return err
	}
	dcfg, err := mapDeliveryConfig(cfg)
	if err != nil {
		return err
	}

	pipe := pipeline.New(a.hist, bl, a.gate, tmpl, log)
	orch := delivery.New(snd, a.gate, a.hist, dcfg, log,
		delivery.WithEvents(a.bus), delivery.WithMetrics(a.sink))

	deps := cycle.Deps{
		Source:    src.discover,
		Following: src.following,
		Pipeline:  pipe,
		Delivery:  orch,
		Quota:     a.gate,
		Publisher: a.notif,
	}
	a.runner = cycle.NewRunner(deps, mapCycleConfig(cfg), log,
		cycle.WithBus(a.bus), cycle.WithMetrics(a.sink))

	mcfg, err := mapMaintenanceConfig(cfg)
	if err != nil {
		return err
	}
	a.maint = cycle.NewMaintenance(a.hist, a.gate, a.notif, mcfg, log)

	ecfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(ecfg, log, a.bus)
	a.sched = scheduler.New(scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}, a.engine, log)
	return nil
}

func (a *App) acquireLock(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %q: %w", dir, err)
	}
	path := filepath.Join(dir, lockName)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return fmt.Errorf("another instance holds %s", path)
	}
	a.lock = lock
	return nil
}

// release undoes a partial wire.
func (a *App) release() {
	for _, c := range a.closers {
		_ = c()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.lock != nil {
		_ = a.lock.Unlock()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// RunOnce runs a single cycle with only the notifier started. Call Stop after.
func (a *App) RunOnce(ctx context.Context) (report.CycleSummary, error) {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	return a.runner.RunCycle(a.sup.Context())
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	cfg := a.cfgm.Get()
	if a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}
	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if err := a.registerSchedules(cfg); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	a.startedOnce = true

	if cfg.Metrics.Enabled {
		var opts []metrics.ServerOption
		if cfg.Metrics.Pprof {
			opts = append(opts, metrics.WithPprof())
		}
		srv := metrics.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, a.registry, a.logs.Logger(), opts...)
		a.sup.Go("metrics.server", srv.Run)
	}

	// task.* events are logged by the engine itself.
	events, unsub := a.bus.Subscribe(128, "cycle", "delivery", "notifier")
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		defer func() {
			if st, ok := a.bus.(eventbus.Stats); ok && st.Dropped() > 0 {
				a.log.Debug("eventbus dropped events", logx.Uint64("dropped", st.Dropped()))
			}
		}()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.reload(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return systemd.Watchdog(c, a.logs.Logger().With(logx.String("comp", "systemd")))
	})
	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		_, _ = systemd.Status("waiting for next cycle")
	}

	a.log.Info("app started",
		logx.String("storage", cfg.Storage.Driver),
		logx.String("channel", cfg.Delivery.Channel),
		logx.Int("headroom", a.gate.Headroom(time.Now())),
	)
	return nil
}

// Reload re-reads the config file now instead of waiting for the watcher.
// The reload goroutine started by Start applies it.
func (a *App) Reload(ctx context.Context) error {
	published, err := a.cfgm.Reload(ctx)
	if err != nil {
		return err
	}
	if !published {
		a.log.Info("config reload requested; file unchanged")
	}
	return nil
}

// restartOnly lists sections whose collaborators are built once in New.
var restartOnly = []string{"storage", "blacklist", "delivery", "metrics"}

func (a *App) reload(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		if slices.Contains(restartOnly, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if oldCfg.Search.Source != newCfg.Search.Source || oldCfg.Search.HTML != newCfg.Search.HTML {
		a.log.Warn("search source changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.gate.Apply(mapGateConfig(newCfg))
	if err := a.hist.SetConfig(c, mapHistoryConfig(newCfg), time.Now()); err != nil {
		a.log.Error("cooldown change not applied", logx.Err(err))
	}
	a.runner.SetConfig(mapCycleConfig(newCfg))
	if mcfg, err := mapMaintenanceConfig(newCfg); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else {
		a.maint.SetConfig(mcfg)
	}

	a.reloadNotifier(c, newCfg)
	a.reloadEngine(c, newCfg)

	// Scheduler is trigger-only; re-register so changed slots and cadence apply.
	prevSched := a.sched.Enabled()
	a.sched.Apply(scheduler.Config{Enabled: newCfg.Scheduler.Enabled, Timezone: newCfg.Scheduler.Timezone})
	if err := a.registerSchedules(newCfg); err != nil {
		a.log.Warn("some triggers were not registered", logx.Err(err))
	}
	switch {
	case prevSched && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevSched && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(c)
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) reloadNotifier(c context.Context, newCfg *config.Config) {
	ncfg, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	transports, err := buildTransports(newCfg, a.logs.Logger())
	if err != nil {
		a.log.Warn("invalid notifier transports; keeping previous", logx.Err(err))
		return
	}
	prev := a.notif.Enabled()
	a.notif.Apply(ncfg, transports)
	switch {
	case prev && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.notif.Stop(stopCtx)
		cancel()
	case !prev && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(c)
	}
}

func (a *App) reloadEngine(c context.Context, newCfg *config.Config) {
	ecfg, err := mapTaskEngineConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		return
	}
	a.engine.Apply(c, ecfg)
}

// validate rejects configs that would fail to map. It runs on every reload
// before the new config is committed.
func validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDeliveryConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMaintenanceConfig(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

// Validate loads the config at path and checks it the way a reload would.
func Validate(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	return cfg, validate(cfg)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.release()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := systemd.Stopping(); err != nil {
		a.log.Debug("systemd notify failed", logx.Err(err))
	}

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// Triggers first so nothing new is queued, then the engine drains the running cycle.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 10*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("closers", 1*time.Second, func(context.Context) error {
		var errs []error
		for _, fn := range a.closers {
			errs = append(errs, fn())
		}
		return errors.Join(errs...)
	})
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	// Finally, wait for supervised goroutines (config watch/reload, metrics server, watchdog).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	if err := a.lock.Unlock(); err != nil {
		a.log.Warn("release instance lock failed", logx.Err(err))
	}
	a.log.Info("stopped")
	return a.logs.Close()
}
