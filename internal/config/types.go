package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "30m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Sources   SourcesConfig   `json:"sources"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Dedup     DedupConfig     `json:"dedup"`
	Lock      LockConfig      `json:"lock,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// ChannelID is the broadcast channel registered as a destination at startup.
	ChannelID int64 `json:"channel_id,omitempty"`
	// ChannelUsername ("@name") is used for the join button and the membership gate.
	ChannelUsername string `json:"channel_username,omitempty"`
	// RequireMembership gates /latest and /search behind channel membership.
	RequireMembership bool   `json:"require_membership,omitempty"`
	GroupLog          string `json:"group_log,omitempty"`
	PollTimeout       string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the posting store backend.
//
//	"storage": { "driver": "sqlite", "path": "./data/jobbot.db" }
//	"storage": { "driver": "postgres", "dsn": "postgres://..." }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SourceEntry is one named upstream URL.
type SourceEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type SourcesConfig struct {
	// RSS feeds are polled in list order on every pass.
	RSS []SourceEntry `json:"rss"`
	// HTML pages are scraped only when the RSS yield is below FallbackThreshold.
	HTML []SourceEntry `json:"html,omitempty"`

	PerSourceLimit    int    `json:"per_source_limit,omitempty"`
	FallbackThreshold int    `json:"fallback_threshold,omitempty"`
	Delay             string `json:"delay,omitempty"`
	Timeout           string `json:"timeout,omitempty"`
	UserAgent         string `json:"user_agent,omitempty"`

	// Selectors and Keywords override the HTML fallback heuristics.
	Selectors []string `json:"selectors,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
}

type BroadcastConfig struct {
	Enabled bool `json:"enabled"`
	// Interval accepts a cron expression, a Go duration or HH:MM.
	Interval     string `json:"interval"`
	InitialDelay string `json:"initial_delay,omitempty"`
	BatchSize    int    `json:"batch_size,omitempty"`
	SendDelay    string `json:"send_delay,omitempty"`
	SendTimeout  string `json:"send_timeout,omitempty"`
	CycleTimeout string `json:"cycle_timeout,omitempty"`
	// DeactivateAfter consecutive failed deliveries deactivate a destination.
	// Negative disables deactivation.
	DeactivateAfter int    `json:"deactivate_after,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

type DedupConfig struct {
	// Fingerprint is "title_org" (default) or "title_org_date".
	Fingerprint string `json:"fingerprint,omitempty"`
}

// LockConfig enables a cross-process cycle lock. Empty RedisURL disables it.
type LockConfig struct {
	RedisURL string `json:"redis_url,omitempty"`
	Key      string `json:"key,omitempty"`
	TTL      string `json:"ttl,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}
