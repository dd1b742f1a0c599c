package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Sending holds the rate-gate limits and retry budget.
	Sending   SendingConfig   `json:"sending"`
	Search    SearchConfig    `json:"search"`
	Blacklist BlacklistConfig `json:"blacklist"`
	Delivery  DeliveryConfig  `json:"delivery"`

	// Scheduler controls cycle triggers (cadence, cron, weekday slots).
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Reports     ReportsConfig     `json:"reports"`
	Maintenance MaintenanceConfig `json:"maintenance"`

	// TaskEngine controls execution of scheduled jobs.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Notifier   *NotifierConfig   `json:"notifier,omitempty"`
	Metrics    MetricsConfig     `json:"metrics"`
}

type LoggingConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlert forwards log lines at or above MinLevel to the notifier.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/outreach" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SendingConfig mirrors the "sending" block of the legacy config file.
//
// RetryAttempts is a pointer so an explicit 0 (no retries) differs from "omitted" (3).
type SendingConfig struct {
	MaxMessagesPerDay int   `json:"max_messages_per_day"`
	BlockedHours      []int `json:"blocked_hours"`
	MinWaitSeconds    int   `json:"min_wait_seconds"`
	MaxWaitSeconds    int   `json:"max_wait_seconds"`
	CooldownDays      int   `json:"cooldown_days"`
	PurgeMarginDays   int   `json:"purge_margin_days,omitempty"`

	RetryAttempts *int   `json:"retry_attempts,omitempty"`
	RetryBackoff  string `json:"retry_backoff,omitempty"`

	// Fatigue pacing is off unless fatigue_after > 0 or break_chance > 0.
	FatigueAfter    int     `json:"fatigue_after,omitempty"`
	FatigueFactor   float64 `json:"fatigue_factor,omitempty"`
	BreakChance     float64 `json:"break_chance,omitempty"`
	BreakMinSeconds int     `json:"break_min_seconds,omitempty"`
	BreakMaxSeconds int     `json:"break_max_seconds,omitempty"`
}

type SearchConfig struct {
	// Source is "file" or "html".
	Source             string   `json:"source"`
	Keywords           []string `json:"keywords"`
	MaxUsersPerKeyword int      `json:"max_users_per_keyword"`
	MaxPages           int      `json:"max_pages,omitempty"`
	Timeout            string   `json:"timeout,omitempty"`

	File   string           `json:"file,omitempty"`
	HTML   HTMLSearchConfig `json:"html"`
	Expand ExpandConfig     `json:"expand"`
}

// HTMLSearchConfig describes a results page scraped with CSS selectors.
//
// URL templates use {keyword}, {handle} and {page} placeholders.
type HTMLSearchConfig struct {
	SearchURL    string `json:"search_url,omitempty"`
	FollowingURL string `json:"following_url,omitempty"`
	LinkSelector string `json:"link_selector,omitempty"`
	NextSelector string `json:"next_selector,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
}

type ExpandConfig struct {
	Enabled  bool `json:"enabled"`
	MaxSeeds int  `json:"max_seeds,omitempty"`
	MaxPages int  `json:"max_pages,omitempty"`
}

type BlacklistConfig struct {
	// Source is "none", "file", "url" (CSV export) or "redis".
	Source   string `json:"source"`
	Path     string `json:"path,omitempty"`
	URL      string `json:"url,omitempty"`
	Column   int    `json:"column,omitempty"`
	CacheTTL string `json:"cache_ttl,omitempty"`
	Timeout  string `json:"timeout,omitempty"`

	Redis RedisConfig `json:"redis"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

type DeliveryConfig struct {
	// Channel is "dryrun", "webhook" or "telegram".
	Channel        string `json:"channel"`
	Timeout        string `json:"timeout,omitempty"`
	MessageFile    string `json:"message_file,omitempty"`
	DefaultMessage string `json:"default_message,omitempty"`

	Webhook  WebhookConfig        `json:"webhook"`
	Telegram TelegramSenderConfig `json:"telegram"`
}

type WebhookConfig struct {
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type TelegramSenderConfig struct {
	Token  string `json:"token,omitempty"`
	APIURL string `json:"api_url,omitempty"` // Bot API endpoint override
}

// SchedulerConfig controls cycle triggers.
//
// Every is the base cadence ("30m"). Cron, when set, replaces it.
// Slots adds weekly triggers such as "mon 10:30".
type SchedulerConfig struct {
	Enabled      bool     `json:"enabled"`
	Timezone     string   `json:"timezone,omitempty"`
	Every        string   `json:"every,omitempty"`
	Cron         string   `json:"cron,omitempty"`
	Slots        []string `json:"slots,omitempty"`
	RunOnStart   bool     `json:"run_on_start,omitempty"`
	StartupDelay string   `json:"startup_delay,omitempty"`
}

// ReportsConfig controls published reports. CycleSummaries also publishes
// summaries of cycles that attempted nothing; they are always logged.
type ReportsConfig struct {
	Enabled        bool   `json:"enabled"`
	DailyAt        string `json:"daily_at,omitempty"`
	MonthlyDay     int    `json:"monthly_day,omitempty"`
	MonthlyAt      string `json:"monthly_at,omitempty"`
	CycleSummaries bool   `json:"cycle_summaries,omitempty"`
}

type MaintenanceConfig struct {
	PurgeAt       string `json:"purge_at,omitempty"`
	HealthAt      string `json:"health_at,omitempty"`
	LogDir        string `json:"log_dir,omitempty"`
	LogMaxAgeDays int    `json:"log_max_age_days,omitempty"`
	LogCleanup    string `json:"log_cleanup,omitempty"` // weekly slot, e.g. "sun 04:00"
}

// TaskEngineConfig controls the job executor.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 2
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// NotifierConfig controls the async report pipeline.
//
// If the whole section is omitted, reports go to the log transport only.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`

	Slack    SlackConfig            `json:"slack"`
	Telegram TelegramNotifierConfig `json:"telegram"`
}

type SlackConfig struct {
	WebhookURL string `json:"webhook_url,omitempty"`
}

type TelegramNotifierConfig struct {
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:9108"
	Path    string `json:"path,omitempty"` // default: "/metrics"
	Pprof   bool   `json:"pprof,omitempty"`
}
