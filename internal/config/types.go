// Package config loads, validates, and hot-reloads the application
// configuration. Files may be YAML or JSON; both are decoded strictly
// (unknown keys are rejected) over a defaults-populated struct, so unset
// keys fall back to defaults and nested sections merge key-wise.
package config

import "encoding/json"

type Config struct {
	Channel       ChannelConfig       `json:"channel"`
	Thresholds    ThresholdsConfig    `json:"thresholds"`
	Cooldowns     CooldownsConfig     `json:"cooldowns"`
	Notifications NotificationsConfig `json:"notifications"`
	Engine        EngineConfig        `json:"engine"`
	Notifier      NotifierConfig      `json:"notifier"`
	Sinks         SinksConfig         `json:"sinks"`
	Storage       StorageConfig       `json:"storage"`
	Prompts       PromptsConfig       `json:"prompts"`
	Digest        DigestConfig        `json:"digest"`
	Metrics       MetricsConfig       `json:"metrics"`
	Logging       LoggingConfig       `json:"logging"`
}

type ChannelConfig struct {
	// Owner is the broadcast channel owner's identity; their messages are
	// not tracked as audience activity.
	Owner string `json:"owner"`
}

// ThresholdsConfig holds the rule thresholds. Time values are minutes, as
// operators think of them.
type ThresholdsConfig struct {
	ChatQuietMinutes     int   `json:"chat_quiet_minutes"`
	RegularViewerStreams int   `json:"regular_viewer_streams"`
	RegularAwayDays      int   `json:"regular_away_days"`
	LoyaltyMilestones    []int `json:"loyalty_milestones"`
}

// CooldownsConfig holds notification suppression windows, in minutes.
type CooldownsConfig struct {
	ChatQuietCooldown     int `json:"chat_quiet_cooldown"`
	ViewerWelcomeCooldown int `json:"viewer_welcome_cooldown"`
}

// NotificationsConfig gates each pass-through notification category.
type NotificationsConfig struct {
	Raids             bool `json:"raids"`
	Subscriptions     bool `json:"subscriptions"`
	LoyaltyMilestones bool `json:"loyalty_milestones"`
	WatchStreaks      bool `json:"watch_streaks"`
}

type EngineConfig struct {
	// CheckInterval is the quiet-check tick, a Go duration string
	// (e.g. "30s", "1m").
	CheckInterval string `json:"check_interval"`
}

// NotifierConfig controls the notification pipeline.
type NotifierConfig struct {
	QueueSize  int `json:"queue_size"`
	RatePerSec int `json:"rate_per_sec"`
	// DedupWindow is a Go duration string; "0s" disables tag dedup.
	DedupWindow string `json:"dedup_window"`
}

type SinksConfig struct {
	Console  ConsoleSinkConfig  `json:"console"`
	Telegram TelegramSinkConfig `json:"telegram"`
}

type ConsoleSinkConfig struct {
	Enabled bool `json:"enabled"`
}

// TelegramSinkConfig pushes notifications to the operator's phone. The
// token normally arrives via HEARTBEAT_TELEGRAM_TOKEN rather than the file.
type TelegramSinkConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	ChatID  int64  `json:"chat_id,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type PromptsConfig struct {
	File string `json:"file,omitempty"`
}

type DigestConfig struct {
	Enabled    bool   `json:"enabled"`
	Schedule   string `json:"schedule"` // cron expression
	MinStreams int    `json:"min_streams"`
	TopN       int    `json:"top_n"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9190"
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// clone deep-copies via JSON; Config is small and fully serializable.
func (c *Config) clone() *Config {
	b, err := json.Marshal(c)
	if err != nil {
		cp := *c
		return &cp
	}
	var out Config
	if err := json.Unmarshal(b, &out); err != nil {
		cp := *c
		return &cp
	}
	return &out
}
