package config

import (
	"os"
	"strings"
)

// Environment overrides, applied after decoding so secrets can stay out of files.
const (
	EnvTelegramToken = "JOBBOT_TELEGRAM_TOKEN"
	EnvStorageDSN    = "JOBBOT_STORAGE_DSN"
	EnvRedisURL      = "JOBBOT_REDIS_URL"
)

// DefaultRSS is the feed list used when sources.rss is omitted.
var DefaultRSS = []SourceEntry{
	{Name: "employment_news", URL: "https://employmentnews.gov.in/rss-feed"},
	{Name: "ssc", URL: "https://ssc.nic.in/rss-feed"},
	{Name: "upsc", URL: "https://upsc.gov.in/rss-feed"},
	{Name: "tnpsc", URL: "https://tnpsc.gov.in/rss-feed"},
	{Name: "uppsc", URL: "https://uppsc.up.nic.in/rss"},
}

// DefaultHTML is the fallback page list used when sources.html is omitted.
var DefaultHTML = []SourceEntry{
	{Name: "ssc_site", URL: "https://ssc.nic.in/"},
	{Name: "upsc_site", URL: "https://upsc.gov.in/recruitment/recruitment-advertisement"},
}

// ApplyDefaults fills omitted fields in place.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "INFO"
	}
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Driver == "sqlite" && strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = "./data/jobbot.db"
	}

	s := &cfg.Sources
	if len(s.RSS) == 0 {
		s.RSS = append([]SourceEntry(nil), DefaultRSS...)
	}
	if len(s.HTML) == 0 {
		s.HTML = append([]SourceEntry(nil), DefaultHTML...)
	}
	if s.PerSourceLimit == 0 {
		s.PerSourceLimit = 5
	}
	if s.FallbackThreshold == 0 {
		s.FallbackThreshold = 5
	}
	if s.Delay == "" {
		s.Delay = "1s"
	}
	if s.Timeout == "" {
		s.Timeout = "30s"
	}

	b := &cfg.Broadcast
	if b.Interval == "" {
		b.Interval = "30m"
	}
	if b.InitialDelay == "" {
		b.InitialDelay = "10s"
	}
	if b.BatchSize == 0 {
		b.BatchSize = 3
	}
	if b.SendDelay == "" {
		b.SendDelay = "2s"
	}
	if b.SendTimeout == "" {
		b.SendTimeout = "15s"
	}
	if b.CycleTimeout == "" {
		b.CycleTimeout = "10m"
	}
	if b.DeactivateAfter == 0 {
		b.DeactivateAfter = 5
	}

	if cfg.Lock.Key == "" {
		cfg.Lock.Key = "jobbot:cycle"
	}
	if cfg.Lock.TTL == "" {
		cfg.Lock.TTL = "15m"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = "127.0.0.1:9464"
	}
}

// ApplyEnv overrides secrets from the environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvStorageDSN)); v != "" {
		cfg.Storage.DSN = v
	}
	if v := strings.TrimSpace(getenv(EnvRedisURL)); v != "" {
		cfg.Lock.RedisURL = v
	}
}
