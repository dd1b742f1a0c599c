package config

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	logx "outreach/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens or passwords).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alert_enabled", newCfg.Logging.Alert.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.restart_required", true),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sending, newCfg.Sending) {
		changed = append(changed, "sending")
		attrs = append(attrs,
			logx.Int("sending.max_per_day", newCfg.Sending.MaxMessagesPerDay),
			logx.Any("sending.blocked_hours", newCfg.Sending.BlockedHours),
			logx.Int("sending.min_wait_s", newCfg.Sending.MinWaitSeconds),
			logx.Int("sending.max_wait_s", newCfg.Sending.MaxWaitSeconds),
			logx.Int("sending.cooldown_days", newCfg.Sending.CooldownDays),
		)
	}
	if !reflect.DeepEqual(oldCfg.Search, newCfg.Search) {
		changed = append(changed, "search")
		attrs = append(attrs,
			logx.String("search.source", newCfg.Search.Source),
			logx.Int("search.keywords", len(newCfg.Search.Keywords)),
			logx.Int("search.max_per_keyword", newCfg.Search.MaxUsersPerKeyword),
		)
	}
	if !reflect.DeepEqual(oldCfg.Blacklist, newCfg.Blacklist) {
		changed = append(changed, "blacklist")
		attrs = append(attrs, logx.String("blacklist.source", newCfg.Blacklist.Source))
	}
	if !reflect.DeepEqual(oldCfg.Delivery, newCfg.Delivery) {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.channel", newCfg.Delivery.Channel),
			logx.Bool("delivery.message_file_set", strings.TrimSpace(newCfg.Delivery.MessageFile) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.every", newCfg.Scheduler.Every),
			logx.String("scheduler.cron", newCfg.Scheduler.Cron),
			logx.Int("scheduler.slots", len(newCfg.Scheduler.Slots)),
		)
	}
	if oldCfg.Reports != newCfg.Reports || oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "reports")
	}
	if !sameJSON(oldCfg.TaskEngine, newCfg.TaskEngine) {
		changed = append(changed, "task_engine")
	}
	if !sameJSON(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		if n := newCfg.Notifier; n != nil {
			attrs = append(attrs,
				logx.Bool("notifier.enabled", n.Enabled),
				logx.Bool("notifier.slack_set", strings.TrimSpace(n.Slack.WebhookURL) != ""),
				logx.Bool("notifier.telegram_set", strings.TrimSpace(n.Telegram.Token) != ""),
			)
		}
	}
	if oldCfg.Metrics != newCfg.Metrics {
		changed = append(changed, "metrics")
		attrs = append(attrs, logx.Bool("metrics.enabled", newCfg.Metrics.Enabled), logx.Bool("metrics.restart_required", true))
	}
	return changed, attrs
}

func sameJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
