package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"outreach/internal/config"
	"outreach/internal/task/scheduler"
	logx "outreach/pkg/logx"
)

// Trigger name prefixes. Reload removes and re-registers each group.
const (
	prefixCycle       = "cycle."
	prefixReport      = "report."
	prefixMaintenance = "maintenance."

	jobTimeout = 10 * time.Minute
)

// registerSchedules (re)installs every trigger for cfg. Previously registered
// triggers of the same groups are removed first so renamed slots do not linger.
func (a *App) registerSchedules(cfg *config.Config) error {
	for _, p := range []string{prefixCycle, prefixReport, prefixMaintenance} {
		a.sched.RemovePrefix(p)
	}

	var errs []error
	add := func(_ string, err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var cycleJob scheduler.Job = a.runCycleJob
	sc := cfg.Scheduler
	if strings.TrimSpace(sc.Cron) != "" {
		add(a.sched.AddCron(prefixCycle+"main", sc.Cron, 0, cycleJob))
	} else {
		add(a.sched.AddSchedule(prefixCycle+"main", sc.Every, 0, cycleJob))
	}
	for i, slot := range sc.Slots {
		_, err := a.sched.AddSlot(prefixCycle+"slot."+strconv.Itoa(i), slot, 0, cycleJob)
		if err != nil {
			errs = append(errs, fmt.Errorf("scheduler.slots[%d]: %w", i, err))
		}
	}
	if sc.RunOnStart && !a.startedOnce {
		delay, err := config.ParseDurationOrDefault("scheduler.startup_delay", sc.StartupDelay, 5*time.Second)
		if err != nil {
			errs = append(errs, err)
		} else {
			add(a.sched.AddOnce(prefixCycle+"startup", time.Now().Add(delay), 0, cycleJob))
		}
	}

	if cfg.Reports.Enabled {
		add(a.sched.AddDaily(prefixReport+"daily", cfg.Reports.DailyAt, jobTimeout, a.maint.DailyReport))
		add(a.sched.AddMonthly(prefixReport+"monthly", cfg.Reports.MonthlyDay, cfg.Reports.MonthlyAt, jobTimeout, a.maint.MonthlyReport))
	}

	m := cfg.Maintenance
	add(a.sched.AddDaily(prefixMaintenance+"purge", m.PurgeAt, jobTimeout, a.maint.Purge))
	add(a.sched.AddDaily(prefixMaintenance+"health", m.HealthAt, jobTimeout, a.maint.HealthCheck))
	if strings.TrimSpace(m.LogDir) != "" {
		add(a.sched.AddSlot(prefixMaintenance+"logs", m.LogCleanup, jobTimeout, func(ctx context.Context) error {
			_, err := a.maint.CleanupLogs(ctx)
			return err
		}))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if a.log.Enabled(logx.LevelDebug) {
		snap := a.sched.Snapshot()
		for _, s := range snap.Schedules {
			a.log.Debug("trigger registered", logx.String("name", s.Name), logx.String("spec", s.Spec), logx.Time("next", s.Next))
		}
	}
	return nil
}

// runCycleJob adapts RunCycle to a scheduler job.
func (a *App) runCycleJob(ctx context.Context) error {
	_, err := a.runner.RunCycle(ctx)
	return err
}
