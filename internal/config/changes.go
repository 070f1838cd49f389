package config

import (
	"reflect"
	"strings"
)

// ChangedSections lists the top-level sections that differ between two configs.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var out []string
	check := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			out = append(out, name)
		}
	}
	check("telegram", oldCfg.Telegram, newCfg.Telegram)
	check("logging", oldCfg.Logging, newCfg.Logging)
	check("storage", oldCfg.Storage, newCfg.Storage)
	check("sources", oldCfg.Sources, newCfg.Sources)
	check("broadcast", oldCfg.Broadcast, newCfg.Broadcast)
	check("dedup", oldCfg.Dedup, newCfg.Dedup)
	check("lock", oldCfg.Lock, newCfg.Lock)
	check("metrics", oldCfg.Metrics, newCfg.Metrics)
	return out
}

// RestartRequired reports changes that only take effect after a restart.
// Token and storage are bound once at startup.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) {
		out = append(out, "telegram.token")
	}
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) {
		out = append(out, "telegram.poll_timeout")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Lock, newCfg.Lock) {
		out = append(out, "lock")
	}
	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		out = append(out, "metrics")
	}
	if oldCfg.Dedup.Fingerprint != newCfg.Dedup.Fingerprint {
		out = append(out, "dedup.fingerprint")
	}
	return out
}
