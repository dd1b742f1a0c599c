package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"outreach/internal/blacklist"
	"outreach/internal/config"
	"outreach/internal/gate"
	"outreach/internal/history"
	"outreach/internal/storage"
	logx "outreach/pkg/logx"
)

// Offline opens persisted state for CLI commands without starting services.
type Offline struct {
	Config  *config.Config
	History *history.Store
	Gate    *gate.Gate

	store storage.Store
	lock  *flock.Flock
}

// OpenOffline loads cfgPath and opens history and quota state. When
// exclusive is set it also takes the instance lock, so it fails while the
// daemon runs.
func OpenOffline(ctx context.Context, cfgPath string, exclusive bool) (*Offline, error) {
	cfg, err := Validate(cfgPath)
	if err != nil {
		return nil, err
	}
	// stderr only; stdout carries command output
	log := logx.NewConsole("WARN")

	o := &Offline{Config: cfg}
	if err := o.open(ctx, cfg, log, exclusive); err != nil {
		_ = o.Close()
		return nil, err
	}
	return o, nil
}

func (o *Offline) open(ctx context.Context, cfg *config.Config, log logx.Logger, exclusive bool) error {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return err
	}
	if sc.Driver == "memory" {
		return fmt.Errorf("storage.driver=memory keeps no state to inspect")
	}
	if exclusive {
		a := &App{}
		if err := a.acquireLock(stateDir(sc)); err != nil {
			return err
		}
		o.lock = a.lock
	}
	o.store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	o.Gate, err = gate.New(ctx, o.store, mapGateConfig(cfg), gate.WithLocation(loc), gate.WithLogger(log))
	if err != nil {
		return err
	}
	o.History, err = history.Open(ctx, o.store, mapHistoryConfig(cfg), time.Now(), log)
	return err
}

// Location is the configured report timezone.
func (o *Offline) Location() *time.Location {
	loc, err := o.Config.Location()
	if err != nil {
		return time.Local
	}
	return loc
}

func (o *Offline) Close() error {
	var errs []error
	if o.store != nil {
		errs = append(errs, o.store.Close())
	}
	if o.lock != nil {
		errs = append(errs, o.lock.Unlock())
	}
	return errors.Join(errs...)
}

// AddToBlacklist writes ids to the shared Redis blacklist.
func AddToBlacklist(ctx context.Context, cfgPath string, ids []string) error {
	cfg, err := Validate(cfgPath)
	if err != nil {
		return err
	}
	if !strings.EqualFold(cfg.Blacklist.Source, "redis") {
		return fmt.Errorf("blacklist.source is %q; only redis can be edited", cfg.Blacklist.Source)
	}
	timeout, err := config.ParseDurationOrDefault("blacklist.timeout", cfg.Blacklist.Timeout, 15*time.Second)
	if err != nil {
		return err
	}
	r := blacklist.NewRedis(blacklist.RedisConfig{
		Addr:     cfg.Blacklist.Redis.Addr,
		Password: cfg.Blacklist.Redis.Password,
		DB:       cfg.Blacklist.Redis.DB,
		Key:      cfg.Blacklist.Redis.Key,
		Timeout:  timeout,
	})
	defer r.Close()
	return r.Add(ctx, ids...)
}
