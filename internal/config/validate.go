package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks a defaulted config. All problems are reported at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	s := c.Sending
	if s.MaxMessagesPerDay < 0 {
		add("sending.max_messages_per_day must be >= 0")
	}
	for _, h := range s.BlockedHours {
		if h < 0 || h > 23 {
			add("sending.blocked_hours: hour %d out of range 0..23", h)
		}
	}
	if s.MinWaitSeconds < 0 || s.MaxWaitSeconds < s.MinWaitSeconds {
		add("sending: need 0 <= min_wait_seconds <= max_wait_seconds (got %d, %d)", s.MinWaitSeconds, s.MaxWaitSeconds)
	}
	if s.CooldownDays < 0 {
		add("sending.cooldown_days must be >= 0")
	}
	if s.RetryAttempts != nil && *s.RetryAttempts < 0 {
		add("sending.retry_attempts must be >= 0")
	}
	if s.FatigueFactor < 0 {
		add("sending.fatigue_factor must be >= 0")
	}
	if s.BreakChance < 0 || s.BreakChance > 1 {
		add("sending.break_chance must be within [0, 1]")
	}
	if s.BreakMaxSeconds < s.BreakMinSeconds {
		add("sending: break_max_seconds < break_min_seconds")
	}

	switch strings.ToLower(c.Search.Source) {
	case "file":
		if strings.TrimSpace(c.Search.File) == "" {
			add("search.file is required for source=file")
		}
	case "html":
		if strings.TrimSpace(c.Search.HTML.SearchURL) == "" {
			add("search.html.search_url is required for source=html")
		}
	default:
		add("search.source: unknown value %q", c.Search.Source)
	}
	if c.Search.MaxUsersPerKeyword < 0 {
		add("search.max_users_per_keyword must be >= 0")
	}

	switch strings.ToLower(c.Blacklist.Source) {
	case "none":
	case "file":
		if strings.TrimSpace(c.Blacklist.Path) == "" {
			add("blacklist.path is required for source=file")
		}
	case "url":
		if strings.TrimSpace(c.Blacklist.URL) == "" {
			add("blacklist.url is required for source=url")
		}
	case "redis":
		if strings.TrimSpace(c.Blacklist.Redis.Addr) == "" {
			add("blacklist.redis.addr is required for source=redis")
		}
	default:
		add("blacklist.source: unknown value %q", c.Blacklist.Source)
	}

	switch strings.ToLower(c.Delivery.Channel) {
	case "dryrun":
	case "webhook":
		if strings.TrimSpace(c.Delivery.Webhook.URL) == "" {
			add("delivery.webhook.url is required for channel=webhook")
		}
	case "telegram":
		if strings.TrimSpace(c.Delivery.Telegram.Token) == "" {
			add("delivery.telegram.token is required for channel=telegram")
		}
	default:
		add("delivery.channel: unknown value %q", c.Delivery.Channel)
	}

	durations := map[string]string{
		"storage.busy_timeout":    c.Storage.BusyTimeout,
		"sending.retry_backoff":   s.RetryBackoff,
		"search.timeout":          c.Search.Timeout,
		"blacklist.cache_ttl":     c.Blacklist.CacheTTL,
		"blacklist.timeout":       c.Blacklist.Timeout,
		"delivery.timeout":        c.Delivery.Timeout,
		"scheduler.every":         c.Scheduler.Every,
		"scheduler.startup_delay": c.Scheduler.StartupDelay,
	}
	if te := c.TaskEngine; te != nil {
		durations["task_engine.default_timeout"] = te.DefaultTimeout
	}
	if n := c.Notifier; n != nil {
		durations["notifier.retry_base"] = n.RetryBase
		durations["notifier.retry_max_delay"] = n.RetryMaxDelay
		durations["notifier.dedup_window"] = n.DedupWindow
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	clocks := map[string]string{
		"reports.daily_at":      c.Reports.DailyAt,
		"reports.monthly_at":    c.Reports.MonthlyAt,
		"maintenance.purge_at":  c.Maintenance.PurgeAt,
		"maintenance.health_at": c.Maintenance.HealthAt,
	}
	for path, raw := range clocks {
		if _, _, err := ParseClock(raw); err != nil {
			add("%s: %v", path, err)
		}
	}
	if d := c.Reports.MonthlyDay; d < 1 || d > 28 {
		add("reports.monthly_day must be within 1..28")
	}

	return errors.Join(errs...)
}

// Location resolves scheduler.timezone. Empty means the process local zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// Retries returns the retry budget with the default applied.
func (s SendingConfig) Retries() int {
	if s.RetryAttempts == nil {
		return DefaultRetryAttempts
	}
	return *s.RetryAttempts
}
