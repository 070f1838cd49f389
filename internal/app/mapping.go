package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"jobbot/internal/aggregator"
	"jobbot/internal/bot"
	"jobbot/internal/broadcast"
	"jobbot/internal/config"
	"jobbot/internal/dispatch"
	"jobbot/internal/lock"
	"jobbot/internal/posting"
	"jobbot/internal/source"
	"jobbot/internal/storage"
	logx "jobbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget parses telegram.group_log; 0 clears the target.
func logTarget(cfg *config.Config) int64 {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		DSN:         strings.TrimSpace(cfg.Storage.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapAggregatorConfig(cfg *config.Config, log logx.Logger) (aggregator.Config, error) {
	s := cfg.Sources
	timeout, err := config.ParseDurationOrDefault("sources.timeout", s.Timeout, source.DefaultTimeout)
	if err != nil {
		return aggregator.Config{}, err
	}
	delay, err := config.ParseDurationOrDefault("sources.delay", s.Delay, time.Second)
	if err != nil {
		return aggregator.Config{}, err
	}
	policy, err := posting.ParseFingerprintPolicy(cfg.Dedup.Fingerprint)
	if err != nil {
		return aggregator.Config{}, err
	}
	opt := source.Options{
		Limit:     s.PerSourceLimit,
		Timeout:   timeout,
		UserAgent: s.UserAgent,
		Log:       log,
	}
	out := aggregator.Config{
		FallbackThreshold: s.FallbackThreshold,
		Delay:             delay,
		Policy:            policy,
	}
	for _, e := range s.RSS {
		out.RSS = append(out.RSS, source.NewRSS(e.Name, e.URL, opt))
	}
	for _, e := range s.HTML {
		out.HTML = append(out.HTML, source.NewHTML(e.Name, e.URL, s.Selectors, s.Keywords, opt))
	}
	return out, nil
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	b := cfg.Broadcast
	delay, err := config.ParseDurationOrDefault("broadcast.send_delay", b.SendDelay, 2*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("broadcast.send_timeout", b.SendTimeout, 15*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{SendDelay: delay, SendTimeout: timeout, DeactivateAfter: b.DeactivateAfter}, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	b := cfg.Broadcast
	initial, err := config.ParseDurationOrDefault("broadcast.initial_delay", b.InitialDelay, 10*time.Second)
	if err != nil {
		return broadcast.Config{}, err
	}
	cycle, err := config.ParseDurationOrDefault("broadcast.cycle_timeout", b.CycleTimeout, 10*time.Minute)
	if err != nil {
		return broadcast.Config{}, err
	}
	if b.Enabled {
		if _, err := broadcast.ParseSchedule(b.Interval); err != nil {
			return broadcast.Config{}, fmt.Errorf("broadcast.interval: %w", err)
		}
	}
	return broadcast.Config{
		Enabled:      b.Enabled,
		Interval:     b.Interval,
		InitialDelay: initial,
		BatchSize:    b.BatchSize,
		CycleTimeout: cycle,
		Timezone:     b.Timezone,
	}, nil
}

func mapBotConfig(cfg *config.Config, cycleTimeout time.Duration) bot.Config {
	return bot.Config{
		Owners:            cfg.Telegram.OwnerUserIDs,
		ChannelID:         cfg.Telegram.ChannelID,
		ChannelUsername:   cfg.Telegram.ChannelUsername,
		RequireMembership: cfg.Telegram.RequireMembership,
		FetchTimeout:      cycleTimeout + time.Minute,
	}
}

// openLocker returns the redis lock when lock.redis_url is set.
func openLocker(ctx context.Context, cfg *config.Config, log logx.Logger) (lock.Locker, error) {
	url := strings.TrimSpace(cfg.Lock.RedisURL)
	if url == "" {
		return lock.Local{}, nil
	}
	ttl, err := config.ParseDurationOrDefault("lock.ttl", cfg.Lock.TTL, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return lock.NewRedis(ctx, url, cfg.Lock.Key, ttl, log)
}

// validateReload rejects configs the live components cannot apply.
func validateReload(_ context.Context, cfg *config.Config) error {
	if _, err := mapAggregatorConfig(cfg, logx.Nop()); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	_, err := mapBroadcastConfig(cfg)
	return err
}
