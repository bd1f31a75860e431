package scheduler

import (
	"time"

	"livewatch/internal/smartcheck"
	"livewatch/internal/stream"
)

// DefaultGraceDelay delays the first check of unscheduled accounts.
const DefaultGraceDelay = 3 * time.Second

// Settings is read once per scheduling decision.
type Settings struct {
	Policy     smartcheck.Config
	GraceDelay time.Duration
}

// ConfigSource supplies the current settings; implementations must be safe
// for concurrent use.
type ConfigSource interface {
	Settings() Settings
}

// StaticConfig is a fixed ConfigSource.
type StaticConfig Settings

func (c StaticConfig) Settings() Settings { return Settings(c) }

// Decision is the outcome of one planning pass.
type Decision struct {
	// Due holds the accounts to check now, in store order.
	Due []stream.Account
	// NextWake is the earliest future check time. Only meaningful when Due
	// is empty.
	NextWake time.Time
	Enabled  int
	Parked   int
}

// Parked reports whether an account is live with no next check while online
// checks are disabled.
func Parked(a stream.Account, policy smartcheck.Config) bool {
	return policy.DisableOnlineChecks && a.NextCheckAt == nil && a.LastStatus == stream.StatusLive
}

// Plan partitions enabled accounts into due and not-due.
//
// pending maps unscheduled account ids to the time they were first seen
// unscheduled. Plan records new entries and drops ids that are no longer
// pending, so the grace delay is counted once per account. When nothing is
// scheduled at all the wake falls back to now + offline interval.
func Plan(now time.Time, accounts []stream.Account, s Settings, pending map[string]time.Time) Decision {
	var d Decision
	seen := make(map[string]bool, len(pending))

	wake := func(t time.Time) {
		if d.NextWake.IsZero() || t.Before(d.NextWake) {
			d.NextWake = t
		}
	}

	for _, a := range accounts {
		if !a.Enabled {
			continue
		}
		d.Enabled++

		if a.NextCheckAt != nil {
			if !a.NextCheckAt.After(now) {
				d.Due = append(d.Due, a)
			} else {
				wake(*a.NextCheckAt)
			}
			continue
		}
		if Parked(a, s.Policy) {
			d.Parked++
			continue
		}

		seen[a.ID] = true
		first, ok := pending[a.ID]
		if !ok {
			first = now
			pending[a.ID] = now
		}
		at := first.Add(s.GraceDelay)
		if !at.After(now) {
			d.Due = append(d.Due, a)
		} else {
			wake(at)
		}
	}

	for id := range pending {
		if !seen[id] {
			delete(pending, id)
		}
	}

	if len(d.Due) == 0 && d.NextWake.IsZero() {
		d.NextWake = now.Add(s.Policy.OfflineInterval())
	}
	return d
}
