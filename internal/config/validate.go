package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validate checks a defaulted config. All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token: required (or set %s)", EnvTelegramToken))
	}
	_, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	add(err)

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path: required for sqlite"))
		}
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			add(fmt.Errorf("storage.dsn: required for postgres (or set %s)", EnvStorageDSN))
		}
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q (want sqlite or postgres)", cfg.Storage.Driver))
	}
	_, err = ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	add(err)

	add(validateEntries("sources.rss", cfg.Sources.RSS))
	add(validateEntries("sources.html", cfg.Sources.HTML))
	if cfg.Sources.PerSourceLimit < 1 || cfg.Sources.PerSourceLimit > 50 {
		add(fmt.Errorf("sources.per_source_limit: must be within 1..50, got %d", cfg.Sources.PerSourceLimit))
	}
	if cfg.Sources.FallbackThreshold < 0 {
		add(errors.New("sources.fallback_threshold: must be >= 0"))
	}
	if d, err := ParseDurationField("sources.delay", cfg.Sources.Delay); err != nil {
		add(err)
	} else if d > 10*time.Second {
		add(fmt.Errorf("sources.delay: must be <= 10s, got %s", d))
	}
	_, err = ParseDurationField("sources.timeout", cfg.Sources.Timeout)
	add(err)

	b := cfg.Broadcast
	if strings.TrimSpace(b.Interval) == "" {
		add(errors.New("broadcast.interval: required"))
	}
	if b.BatchSize < 1 {
		add(fmt.Errorf("broadcast.batch_size: must be >= 1, got %d", b.BatchSize))
	}
	for path, raw := range map[string]string{
		"broadcast.initial_delay": b.InitialDelay,
		"broadcast.send_delay":    b.SendDelay,
		"broadcast.send_timeout":  b.SendTimeout,
		"broadcast.cycle_timeout": b.CycleTimeout,
		"lock.ttl":                cfg.Lock.TTL,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	if tz := strings.TrimSpace(b.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("broadcast.timezone: %w", err))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Dedup.Fingerprint)) {
	case "", "title_org", "title_org_date":
	default:
		add(fmt.Errorf("dedup.fingerprint: unknown policy %q", cfg.Dedup.Fingerprint))
	}

	return errors.Join(errs...)
}

func validateEntries(path string, entries []SourceEntry) error {
	seen := make(map[string]struct{}, len(entries))
	var errs []error
	for i, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s[%d].name: required", path, i))
		} else if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s[%d].name: duplicate %q", path, i, name))
		}
		seen[name] = struct{}{}

		u, err := url.Parse(strings.TrimSpace(e.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s[%d].url: invalid http(s) url %q", path, i, e.URL))
		}
	}
	return errors.Join(errs...)
}
