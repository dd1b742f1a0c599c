package cycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"outreach/internal/domain"
	"outreach/internal/history"
	"outreach/internal/report"
	"outreach/internal/transport"
	logx "outreach/pkg/logx"
)

// History is what maintenance needs from the history store.
type History interface {
	Entries(ctx context.Context, from, to time.Time) ([]domain.HistoryEntry, error)
	PurgeExpired(ctx context.Context, asOf time.Time) (int, error)
	Stats() history.Stats
}

type MaintenanceConfig struct {
	LogDir    string
	LogMaxAge time.Duration
	// Location is where report days and months begin.
	Location *time.Location
}

// Maintenance runs the time-triggered jobs. Each method fits a scheduler job.
type Maintenance struct {
	history History
	quota   Quota
	publish Publisher
	log     logx.Logger
	now     func() time.Time

	mu  sync.RWMutex
	cfg MaintenanceConfig
}

func NewMaintenance(h History, quota Quota, publish Publisher, cfg MaintenanceConfig, log logx.Logger) *Maintenance {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Maintenance{
		history: h,
		quota:   quota,
		publish: publish,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "maintenance")),
		now:     time.Now,
	}
}

func (m *Maintenance) SetConfig(cfg MaintenanceConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

func (m *Maintenance) config() MaintenanceConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Maintenance) local(t time.Time) time.Time {
	if loc := m.config().Location; loc != nil {
		return t.In(loc)
	}
	return t
}

func (m *Maintenance) send(ctx context.Context, msg transport.Message) {
	if m.publish == nil {
		m.log.Info("report", logx.String("text", msg.Body()))
		return
	}
	m.publish.Publish(ctx, msg)
}

// DailyReport publishes today's counts.
func (m *Maintenance) DailyReport(ctx context.Context) error {
	now := m.local(m.now())
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	entries, err := m.history.Entries(ctx, from, time.Time{})
	if err != nil {
		return fmt.Errorf("daily report: %w", err)
	}
	d := report.BuildDaily(entries, now)
	m.send(ctx, d.Message())
	m.log.Info("daily report built", logx.Int("sent", d.Succeeded), logx.Int("failed", d.Failed), logx.Int("skipped", d.Skipped))
	return nil
}

// MonthlyReport publishes the previous calendar month. The scheduler decides the day.
func (m *Maintenance) MonthlyReport(ctx context.Context) error {
	now := m.local(m.now())
	month := report.PreviousMonth(now)
	entries, err := m.history.Entries(ctx, month, month.AddDate(0, 1, 0))
	if err != nil {
		return fmt.Errorf("monthly report: %w", err)
	}
	r := report.BuildMonthly(entries, month)
	m.send(ctx, r.Message())
	m.log.Info("monthly report built", logx.String("month", month.Format("2006-01")), logx.Int("sent", r.Succeeded), logx.Int("active_days", r.ActiveDays))
	return nil
}

// Purge drops history entries that can no longer affect cooldown answers.
func (m *Maintenance) Purge(ctx context.Context) error {
	if _, err := m.history.PurgeExpired(ctx, m.now()); err != nil {
		return err
	}
	return nil
}

// HealthCheck alerts when nothing was recorded for a day although the gate
// still had room, and logs an error for cooldown violations in the log.
func (m *Maintenance) HealthCheck(ctx context.Context) error {
	now := m.now()
	st := m.history.Stats()
	entries, err := m.history.Entries(ctx, now.Add(-st.Cooldown), time.Time{})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	h := report.CheckHealth(entries, now, st.Cooldown)
	if h.LastActivity.IsZero() || st.LastActivity.After(h.LastActivity) {
		h.LastActivity = st.LastActivity
		h.Active = !h.LastActivity.IsZero() && now.Sub(h.LastActivity) < report.ActivityWindow
	}

	if h.DuplicateCount > 0 {
		m.log.Error("cooldown violated in history", logx.Int("duplicates", h.DuplicateCount), logx.String("first", h.Duplicates[0].Recipient))
	}
	if !h.Active && m.quota != nil && m.quota.Headroom(now) > 0 {
		m.log.Warn("no recent activity", logx.String("last", report.LastSeen(h.LastActivity)))
		m.send(ctx, h.Stale())
		return nil
	}
	m.log.Info("health ok", logx.Int("recipients", h.UniqueRecipients), logx.Bool("active", h.Active))
	return nil
}

// CleanupLogs removes *.log and *.csv files in LogDir older than LogMaxAge.
// Subdirectories are not visited.
func (m *Maintenance) CleanupLogs(ctx context.Context) (int, error) {
	cfg := m.config()
	if cfg.LogDir == "" || cfg.LogMaxAge <= 0 {
		return 0, nil
	}
	ents, err := os.ReadDir(cfg.LogDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("log cleanup: %w", err)
	}

	cutoff := m.now().Add(-cfg.LogMaxAge)
	removed := 0
	for _, de := range ents {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if de.IsDir() || !cleanable(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		p := filepath.Join(cfg.LogDir, de.Name())
		if err := os.Remove(p); err != nil {
			m.log.Warn("log cleanup: remove failed", logx.String("path", p), logx.Err(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		m.log.Info("old logs removed", logx.Int("count", removed), logx.String("dir", cfg.LogDir))
	}
	return removed, nil
}

func cleanable(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".log" || ext == ".csv"
}
