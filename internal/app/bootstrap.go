package app

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"outreach/internal/blacklist"
	"outreach/internal/config"
	"outreach/internal/cycle"
	"outreach/internal/delivery"
	"outreach/internal/discovery"
	"outreach/internal/gate"
	"outreach/internal/history"
	"outreach/internal/notifier"
	"outreach/internal/sender"
	"outreach/internal/task/engine"
	"outreach/internal/transport"
	"outreach/internal/transport/slack"
	"outreach/internal/transport/telegram"
	logx "outreach/pkg/logx"
)

const day = 24 * time.Hour

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Logging.Alert.Enabled,
			MinLevel:   cfg.Logging.Alert.MinLevel,
			RatePerSec: cfg.Logging.Alert.RatePerSec,
		},
	}
}

func mapGateConfig(cfg *config.Config) gate.Config {
	s := cfg.Sending
	return gate.Config{
		DailyMax:      s.MaxMessagesPerDay,
		BlockedHours:  append([]int(nil), s.BlockedHours...),
		MinWait:       time.Duration(s.MinWaitSeconds) * time.Second,
		MaxWait:       time.Duration(s.MaxWaitSeconds) * time.Second,
		FatigueAfter:  s.FatigueAfter,
		FatigueFactor: s.FatigueFactor,
		BreakChance:   s.BreakChance,
		BreakMin:      time.Duration(s.BreakMinSeconds) * time.Second,
		BreakMax:      time.Duration(s.BreakMaxSeconds) * time.Second,
	}
}

func mapHistoryConfig(cfg *config.Config) history.Config {
	return history.Config{
		Cooldown: time.Duration(cfg.Sending.CooldownDays) * day,
		Margin:   time.Duration(cfg.Sending.PurgeMarginDays) * day,
	}
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	timeout, err := config.ParseDurationOrDefault("delivery.timeout", cfg.Delivery.Timeout, 60*time.Second)
	if err != nil {
		return delivery.Config{}, err
	}
	backoff, err := config.ParseDurationOrDefault("sending.retry_backoff", cfg.Sending.RetryBackoff, 5*time.Second)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		RetryAttempts: cfg.Sending.Retries(),
		SendTimeout:   timeout,
		RetryBackoff:  backoff,
	}, nil
}

func mapCycleConfig(cfg *config.Config) cycle.Config {
	out := cycle.Config{
		Criteria: discovery.Criteria{
			Keywords:           append([]string(nil), cfg.Search.Keywords...),
			MaxUsersPerKeyword: cfg.Search.MaxUsersPerKeyword,
			MaxPages:           cfg.Search.MaxPages,
		},
		QuietIdle: !cfg.Reports.CycleSummaries,
	}
	if cfg.Search.Expand.Enabled {
		out.ExpandSeeds = cfg.Search.Expand.MaxSeeds
		out.ExpandPages = cfg.Search.Expand.MaxPages
	}
	return out
}

func mapMaintenanceConfig(cfg *config.Config) (cycle.MaintenanceConfig, error) {
	loc, err := cfg.Location()
	if err != nil {
		return cycle.MaintenanceConfig{}, err
	}
	return cycle.MaintenanceConfig{
		LogDir:    cfg.Maintenance.LogDir,
		LogMaxAge: time.Duration(cfg.Maintenance.LogMaxAgeDays) * day,
		Location:  loc,
	}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	out := engine.Config{
		Enabled:     true,
		Workers:     2,
		QueueSize:   64,
		HistorySize: 200,
		RetryMax:    2,
	}
	te := cfg.TaskEngine
	if te == nil {
		return out, nil
	}
	if te.Workers > 0 {
		out.Workers = te.Workers
	}
	if te.QueueSize > 0 {
		out.QueueSize = te.QueueSize
	}
	if te.HistorySize > 0 {
		out.HistorySize = te.HistorySize
	}
	if te.RetryMax != 0 {
		out.RetryMax = te.RetryMax
	}
	d, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	out.DefaultTimeout = d
	return out, nil
}

// mapNotifierConfig returns the notifier settings. A missing section enables
// the notifier with defaults so reports still reach the log transport.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{Enabled: true, Workers: 1, QueueSize: 64, RatePerSec: 1, RetryMax: 2}, nil
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", n.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax, err := config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	if n.Workers < 0 || n.QueueSize < 0 || n.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: workers, queue_size and retry_max must be >= 0")
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMax,
		DedupWindow:     window,
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}, nil
}

// buildTransports returns the report destinations. The log transport is used
// when nothing else is configured.
func buildTransports(cfg *config.Config, log logx.Logger) ([]transport.Transport, error) {
	var out []transport.Transport
	if n := cfg.Notifier; n != nil {
		if url := strings.TrimSpace(n.Slack.WebhookURL); url != "" {
			tr, err := slack.New(url, 10*time.Second)
			if err != nil {
				return nil, err
			}
			out = append(out, tr)
		}
		if tg := n.Telegram; strings.TrimSpace(tg.Token) != "" {
			tr, err := telegram.New(telegram.Config{Token: tg.Token, ChatID: tg.ChatID, ThreadID: tg.ThreadID}, log)
			if err != nil {
				return nil, err
			}
			out = append(out, tr)
		}
	}
	if len(out) == 0 {
		out = append(out, transport.NewLog(log))
	}
	return out, nil
}

// sources holds discovery collaborators; following is nil for the file source.
type sources struct {
	discover  discovery.Source
	following discovery.FollowingSource
}

func buildSources(cfg *config.Config, log logx.Logger) (sources, error) {
	switch strings.ToLower(cfg.Search.Source) {
	case "file":
		return sources{discover: discovery.NewFileSource(cfg.Search.File)}, nil
	case "html":
		timeout, err := config.ParseDurationOrDefault("search.timeout", cfg.Search.Timeout, 20*time.Second)
		if err != nil {
			return sources{}, err
		}
		h := cfg.Search.HTML
		src, err := discovery.NewHTMLSource(discovery.HTMLConfig{
			SearchURL:    h.SearchURL,
			FollowingURL: h.FollowingURL,
			LinkSelector: h.LinkSelector,
			NextSelector: h.NextSelector,
			UserAgent:    h.UserAgent,
			RatePerSec:   h.RatePerSec,
			Timeout:      timeout,
		}, nil, log)
		if err != nil {
			return sources{}, err
		}
		out := sources{discover: src}
		if strings.TrimSpace(h.FollowingURL) != "" {
			out.following = src
		}
		return out, nil
	default:
		return sources{}, fmt.Errorf("unknown search.source: %s", cfg.Search.Source)
	}
}

// buildBlacklist returns the checker and, for redis, a closer.
func buildBlacklist(cfg *config.Config, log logx.Logger) (blacklist.Checker, func() error, error) {
	b := cfg.Blacklist
	timeout, err := config.ParseDurationOrDefault("blacklist.timeout", b.Timeout, 15*time.Second)
	if err != nil {
		return nil, nil, err
	}
	ttl, err := config.ParseDurationOrDefault("blacklist.cache_ttl", b.CacheTTL, 10*time.Minute)
	if err != nil {
		return nil, nil, err
	}

	switch strings.ToLower(b.Source) {
	case "none":
		return blacklist.None{}, nil, nil
	case "file":
		return blacklist.NewCached(blacklist.FileLoader{Path: b.Path, Column: b.Column}, ttl, log), nil, nil
	case "url":
		loader := blacklist.URLLoader{URL: b.URL, Column: b.Column, Client: &http.Client{Timeout: timeout}}
		return blacklist.NewCached(loader, ttl, log), nil, nil
	case "redis":
		r := blacklist.NewRedis(blacklist.RedisConfig{
			Addr:     b.Redis.Addr,
			Password: b.Redis.Password,
			DB:       b.Redis.DB,
			Key:      b.Redis.Key,
			Timeout:  timeout,
		})
		return r, r.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown blacklist.source: %s", b.Source)
	}
}

func buildSender(cfg *config.Config, log logx.Logger) (sender.Sender, error) {
	d := cfg.Delivery
	timeout, err := config.ParseDurationOrDefault("delivery.timeout", d.Timeout, 60*time.Second)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(d.Channel) {
	case "dryrun":
		return sender.NewDryRun(log), nil
	case "webhook":
		return sender.NewWebhook(d.Webhook.URL, d.Webhook.Headers, timeout)
	case "telegram":
		return sender.NewTelegram(d.Telegram.Token, d.Telegram.APIURL, timeout)
	default:
		return nil, fmt.Errorf("unknown delivery.channel: %s", d.Channel)
	}
}
