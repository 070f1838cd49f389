package broadcast

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind tells a cron expression from a fixed interval.
type ScheduleKind int

const (
	ScheduleCron ScheduleKind = iota
	ScheduleInterval
)

// Schedule is a parsed broadcast.interval value.
//
// Accepted forms:
//   - cron: "0 */3 * * *", "@hourly", "@every 30m" (or with a "cron:" prefix)
//   - Go duration: "30m", "3h"
//   - HH:MM interval: "03:00" is every three hours
type Schedule struct {
	Kind  ScheduleKind
	Cron  string
	Every time.Duration
	Form  string // "cron" | "duration" | "hhmm"
}

func (s Schedule) String() string {
	if s.Kind == ScheduleCron {
		return s.Cron
	}
	return "every " + s.Every.String()
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule classifies raw and validates it. Cron expressions are
// checked with the same parser the scheduler uses.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		return cronSchedule(rest)
	}
	if rest, ok := cutPrefixFold(s, "every:"); ok {
		return intervalSchedule(rest)
	}
	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return cronSchedule(s)
	}
	sch, err := intervalSchedule(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q (use cron like '0 */3 * * *', HH:MM like '03:00', or duration like '30m')", raw)
	}
	return sch, nil
}

func cronSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Schedule{}, fmt.Errorf("cron expression required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Schedule{Kind: ScheduleCron, Cron: expr, Form: "cron"}, nil
}

func intervalSchedule(v string) (Schedule, error) {
	v = strings.TrimSpace(v)
	form := "duration"
	d, err := parseHHMM(v)
	if err == nil {
		form = "hhmm"
	} else if d, err = time.ParseDuration(v); err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q", v)
	}
	if d < time.Second {
		return Schedule{}, fmt.Errorf("interval must be at least 1s, got %s", d)
	}
	return Schedule{Kind: ScheduleInterval, Every: d, Form: form}, nil
}

func parseHHMM(v string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(v, ":")
	if !ok || len(mm) != 2 || len(hh) == 0 || len(hh) > 3 {
		return 0, fmt.Errorf("not HH:MM")
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 {
		return 0, fmt.Errorf("bad hours in %q", v)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minutes in %q", v)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

// cronSpec builds the robfig schedule for sch.
func cronSpec(sch Schedule) (cron.Schedule, error) {
	if sch.Kind == ScheduleInterval {
		return cron.Every(sch.Every), nil
	}
	return cronParser.Parse(sch.Cron)
}

// firstRunSchedule fires once at first, then follows base.
type firstRunSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *firstRunSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}
