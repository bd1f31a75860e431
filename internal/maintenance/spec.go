package maintenance

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Spec is a parsed job schedule: either a cron expression or a fixed
// interval.
type Spec struct {
	Cron  string
	Every time.Duration
}

func (s Spec) String() string {
	if s.Every > 0 {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// parser accepts 5-field and 6-field (with seconds) specs plus descriptors.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec accepts:
//   - cron: "*/5 * * * *", "30 3 * * *", "@daily", "@every 6h"
//   - interval duration: "6h", "90m"
//   - interval HH:MM: "06:00" (six hours)
func ParseSpec(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		if rest, ok := strings.CutPrefix(s, "@every "); ok {
			d, err := time.ParseDuration(strings.TrimSpace(rest))
			if err != nil || d <= 0 {
				return Spec{}, fmt.Errorf("invalid interval in %q", raw)
			}
			return Spec{Every: d}, nil
		}
		if _, err := parser.Parse(s); err != nil {
			return Spec{}, fmt.Errorf("invalid cron %q: %w", raw, err)
		}
		return Spec{Cron: s}, nil
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Spec{}, fmt.Errorf("invalid minutes in %q", raw)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Spec{}, fmt.Errorf("interval must be > 0")
		}
		return Spec{Every: d}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '30 3 * * *', HH:MM like '06:00', or duration like '6h')", raw)
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("interval must be > 0")
	}
	return Spec{Every: d}, nil
}

// schedule builds the cron schedule. Intervals get a random first-run
// offset so several processes started together do not compact in lockstep.
func (s Spec) schedule(now time.Time, jitter func(max time.Duration) time.Duration) (cron.Schedule, error) {
	if s.Every > 0 {
		spread := s.Every
		if spread > maxStartupSpread {
			spread = maxStartupSpread
		}
		var off time.Duration
		if jitter != nil && spread > 0 {
			off = jitter(spread)
		}
		return &spreadSchedule{base: cron.Every(s.Every), first: now.Add(s.Every + off)}, nil
	}
	return parser.Parse(s.Cron)
}

const maxStartupSpread = 30 * time.Second

// spreadSchedule overrides the first activation of an interval schedule.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}
