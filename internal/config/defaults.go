package config

import "sort"

// Default returns the full configuration a bare `heartbeat` run uses.
// Load decodes user files over this, which is what gives unset keys their
// documented fallbacks.
func Default() *Config {
	return &Config{
		Thresholds: ThresholdsConfig{
			ChatQuietMinutes:     5,
			RegularViewerStreams: 3,
			RegularAwayDays:      2,
			LoyaltyMilestones:    []int{5, 10, 25, 50, 100},
		},
		Cooldowns: CooldownsConfig{
			ChatQuietCooldown:     10,
			ViewerWelcomeCooldown: 0,
		},
		Notifications: NotificationsConfig{
			Raids:             true,
			Subscriptions:     true,
			LoyaltyMilestones: true,
			WatchStreaks:      true,
		},
		Engine: EngineConfig{
			CheckInterval: "30s",
		},
		Notifier: NotifierConfig{
			QueueSize:   128,
			RatePerSec:  3,
			DedupWindow: "0s",
		},
		Sinks: SinksConfig{
			Console: ConsoleSinkConfig{Enabled: true},
		},
		Storage: StorageConfig{
			Path:        "./heartbeat.db",
			BusyTimeout: "5s",
		},
		Digest: DigestConfig{
			Enabled:    false,
			Schedule:   "0 12 * * *",
			MinStreams: 3,
			TopN:       5,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9190",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Normalize repairs configuration defects permissively instead of failing
// startup: negative values fall back to defaults, milestone lists are
// sorted and deduplicated.
func (c *Config) Normalize() {
	def := Default()
	if c.Thresholds.ChatQuietMinutes <= 0 {
		c.Thresholds.ChatQuietMinutes = def.Thresholds.ChatQuietMinutes
	}
	if c.Thresholds.RegularViewerStreams <= 0 {
		c.Thresholds.RegularViewerStreams = def.Thresholds.RegularViewerStreams
	}
	if c.Thresholds.RegularAwayDays < 0 {
		c.Thresholds.RegularAwayDays = def.Thresholds.RegularAwayDays
	}
	if c.Cooldowns.ChatQuietCooldown < 0 {
		c.Cooldowns.ChatQuietCooldown = def.Cooldowns.ChatQuietCooldown
	}
	if c.Cooldowns.ViewerWelcomeCooldown < 0 {
		c.Cooldowns.ViewerWelcomeCooldown = 0
	}

	ms := c.Thresholds.LoyaltyMilestones
	seen := make(map[int]bool, len(ms))
	out := ms[:0]
	for _, m := range ms {
		if m > 0 && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Ints(out)
	c.Thresholds.LoyaltyMilestones = out
}
