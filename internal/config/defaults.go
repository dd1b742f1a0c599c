package config

import "strings"

const (
	DefaultDailyMax      = 50
	DefaultMinWait       = 15
	DefaultMaxWait       = 45
	DefaultCooldownDays  = 90
	DefaultRetryAttempts = 3
)

// ApplyDefaults fills omitted fields. It never overrides explicit values.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "file"
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "./data/outreach"
	}

	s := &c.Sending
	if s.MaxMessagesPerDay == 0 {
		s.MaxMessagesPerDay = DefaultDailyMax
	}
	if s.MinWaitSeconds == 0 && s.MaxWaitSeconds == 0 {
		s.MinWaitSeconds, s.MaxWaitSeconds = DefaultMinWait, DefaultMaxWait
	}
	if s.CooldownDays == 0 {
		s.CooldownDays = DefaultCooldownDays
	}
	if s.PurgeMarginDays == 0 {
		s.PurgeMarginDays = 7
	}
	if s.RetryAttempts == nil {
		n := DefaultRetryAttempts
		s.RetryAttempts = &n
	}
	if s.FatigueAfter > 0 && s.FatigueFactor == 0 {
		s.FatigueFactor = 1.5
	}
	if s.BreakChance > 0 && s.BreakMinSeconds == 0 && s.BreakMaxSeconds == 0 {
		s.BreakMinSeconds, s.BreakMaxSeconds = 60, 180
	}

	if strings.TrimSpace(c.Search.Source) == "" {
		c.Search.Source = "file"
	}
	if c.Search.MaxUsersPerKeyword == 0 {
		c.Search.MaxUsersPerKeyword = 20
	}
	if c.Search.MaxPages == 0 {
		c.Search.MaxPages = 3
	}
	if c.Search.Expand.MaxSeeds == 0 {
		c.Search.Expand.MaxSeeds = 10
	}
	if c.Search.Expand.MaxPages == 0 {
		c.Search.Expand.MaxPages = 1
	}

	if strings.TrimSpace(c.Blacklist.Source) == "" {
		c.Blacklist.Source = "none"
	}
	if strings.TrimSpace(c.Blacklist.Redis.Key) == "" {
		c.Blacklist.Redis.Key = "outreach:blacklist"
	}

	if strings.TrimSpace(c.Delivery.Channel) == "" {
		c.Delivery.Channel = "dryrun"
	}
	if strings.TrimSpace(c.Delivery.DefaultMessage) == "" {
		c.Delivery.DefaultMessage = "Hi {{.Handle}}, I came across your profile and wanted to say hello."
	}

	if strings.TrimSpace(c.Scheduler.Every) == "" && strings.TrimSpace(c.Scheduler.Cron) == "" {
		c.Scheduler.Every = "30m"
	}

	if strings.TrimSpace(c.Reports.DailyAt) == "" {
		c.Reports.DailyAt = "23:30"
	}
	if c.Reports.MonthlyDay == 0 {
		c.Reports.MonthlyDay = 1
	}
	if strings.TrimSpace(c.Reports.MonthlyAt) == "" {
		c.Reports.MonthlyAt = "09:00"
	}

	m := &c.Maintenance
	if strings.TrimSpace(m.PurgeAt) == "" {
		m.PurgeAt = "03:00"
	}
	if strings.TrimSpace(m.HealthAt) == "" {
		m.HealthAt = "02:00"
	}
	if m.LogMaxAgeDays == 0 {
		m.LogMaxAgeDays = 30
	}
	if strings.TrimSpace(m.LogCleanup) == "" {
		m.LogCleanup = "sun 04:00"
	}

	if c.Metrics.Enabled {
		if strings.TrimSpace(c.Metrics.Addr) == "" {
			c.Metrics.Addr = "127.0.0.1:9108"
		}
		if strings.TrimSpace(c.Metrics.Path) == "" {
			c.Metrics.Path = "/metrics"
		}
	}
}
