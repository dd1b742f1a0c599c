package config

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "outreach/pkg/logx"
)

const (
	reloadDebounce    = 250 * time.Millisecond
	watchBackoffBase  = 250 * time.Millisecond
	watchBackoffMax   = 5 * time.Second
	relevantConfigOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod
)

// Watch reloads the config whenever its file changes until ctx ends.
//
// The parent directory is watched so editors that replace the file are
// seen. A broken watcher is recreated with jittered exponential backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	log := m.log.With(logx.String("dir", dir), logx.String("file", file))

	trigger, stop := m.debouncer(ctx)
	defer stop()

	backoff := watchBackoffBase
	for {
		healthy, err := m.watchOnce(ctx, dir, file, trigger, log)
		if ctx.Err() != nil {
			return nil
		}
		if healthy {
			backoff = watchBackoffBase
		}
		wait := backoff + rand.N(backoff/2+1)
		backoff = min(backoff*2, watchBackoffMax)
		log.Warn("config watcher stopped; restarting", logx.Err(err), logx.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watchOnce runs one fsnotify watcher until it breaks. healthy reports
// whether the watcher was established before it broke.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, file string, trigger func(), log logx.Logger) (healthy bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return false, err
	}
	log.Debug("config watcher started")

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op&relevantConfigOps != 0 {
				trigger()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return true, nil
			}
			if werr == nil {
				continue
			}
			msg := strings.ToLower(werr.Error())
			switch {
			case strings.Contains(msg, "overflow"):
				// events may be lost; reload once and keep watching
				log.Warn("config watch overflow; forcing reload", logx.Err(werr))
				trigger()
			case strings.Contains(msg, "closed"):
				return true, werr
			default:
				log.Warn("config watch error", logx.Err(werr))
			}
		}
	}
}

// debouncer coalesces bursts of file events into one Reload after
// reloadDebounce of quiet.
func (m *ConfigManager) debouncer(ctx context.Context) (trigger func(), stop func()) {
	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if ctx.Err() != nil {
			return
		}
		published, err := m.Reload(ctx)
		if err != nil {
			m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
			return
		}
		if published {
			m.log.Debug("config reload applied", logx.String("path", m.path))
		}
	}
	trigger = func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		m.log.Debug("config change detected; scheduling reload", logx.String("path", m.path))
		timer = time.AfterFunc(reloadDebounce, reload)
	}
	stop = func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}
	return trigger, stop
}
