// Package smartcheck computes per-account re-check times: a fast interval
// while live, exponential backoff while offline, capped and jittered.
//
// Everything here is pure; callers pass config, time and randomness in.
package smartcheck

import (
	"errors"
	"fmt"
	"math"
	"time"

	"livewatch/internal/stream"
)

const (
	// MinJitteredInterval is the floor applied after jitter.
	MinJitteredInterval = time.Second
	// MaxIntervalMin bounds every configured interval (7 days).
	MaxIntervalMin = 7 * 24 * 60
)

// Config holds the user-editable smart-checking tunables. Intervals are in
// minutes to match how users edit them.
type Config struct {
	OnlineIntervalMin  float64
	OfflineIntervalMin float64
	BackoffMultiplier  float64
	BackoffMaxMin      float64
	JitterPercent      float64

	// DisableOnlineChecks stops scheduling an account while it is live.
	DisableOnlineChecks bool

	// Lifecycle switches; applied by the app layer, not by the policy.
	ResetStatusOnStartup bool
	ResetStatusOnClose   bool
}

func Default() Config {
	return Config{
		OnlineIntervalMin:  1,
		OfflineIntervalMin: 3,
		BackoffMultiplier:  1.8,
		BackoffMaxMin:      45,
		JitterPercent:      20,
	}
}

func (c Config) Validate() error {
	var errs []error
	if !(c.OnlineIntervalMin > 0) {
		errs = append(errs, fmt.Errorf("online_interval_min must be > 0"))
	}
	if !(c.OfflineIntervalMin > 0) {
		errs = append(errs, fmt.Errorf("offline_interval_min must be > 0"))
	}
	if c.BackoffMultiplier < 1 || math.IsNaN(c.BackoffMultiplier) {
		errs = append(errs, fmt.Errorf("backoff_multiplier must be >= 1.0"))
	}
	if c.BackoffMaxMin < c.OfflineIntervalMin {
		errs = append(errs, fmt.Errorf("backoff_max_min must be >= offline_interval_min"))
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"online_interval_min", c.OnlineIntervalMin},
		{"offline_interval_min", c.OfflineIntervalMin},
		{"backoff_max_min", c.BackoffMaxMin},
	} {
		if f.v > MaxIntervalMin {
			errs = append(errs, fmt.Errorf("%s must be <= %d (7 days)", f.name, MaxIntervalMin))
		}
	}
	if c.JitterPercent < 0 || c.JitterPercent > 100 {
		errs = append(errs, fmt.Errorf("jitter_percent must be within 0..100"))
	}
	return errors.Join(errs...)
}

func (c Config) OnlineInterval() time.Duration  { return minutes(c.OnlineIntervalMin) }
func (c Config) OfflineInterval() time.Duration { return minutes(c.OfflineIntervalMin) }
func (c Config) BackoffMax() time.Duration      { return minutes(c.BackoffMaxMin) }

// minutes saturates instead of overflowing; NaN maps to zero.
func minutes(m float64) time.Duration {
	return saturate(m * float64(time.Minute))
}

func saturate(ns float64) time.Duration {
	switch {
	case math.IsNaN(ns):
		return 0
	case ns >= math.MaxInt64:
		return time.Duration(math.MaxInt64)
	case ns <= math.MinInt64:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ns)
}

// Rand is the randomness source used for jitter (*rand.Rand satisfies it).
type Rand interface {
	Float64() float64
}

// NextInterval returns the pre-jitter interval for an account's next check.
//
// Live: the online interval, or ok=false when online checks are disabled.
// Offline: offline * multiplier^max(0, n-1), capped at the backoff max, where
// n is the consecutive offline count including the current observation.
func NextInterval(isLive bool, consecutiveOfflineChecks int, cfg Config) (time.Duration, bool) {
	if isLive {
		if cfg.DisableOnlineChecks {
			return 0, false
		}
		return cfg.OnlineInterval(), true
	}
	exp := consecutiveOfflineChecks - 1
	if exp < 0 {
		exp = 0
	}
	mult := cfg.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	ms := cfg.OfflineIntervalMin * math.Pow(mult, float64(exp))
	if maxMin := cfg.BackoffMaxMin; maxMin > 0 && ms > maxMin {
		ms = maxMin
	}
	return minutes(ms), true
}

// ApplyJitter scales d by a uniform factor in [1-p, 1+p] (p = percent/100)
// and floors the result at one second.
func ApplyJitter(d time.Duration, percent float64, rng Rand) time.Duration {
	p := percent / 100
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	factor := 1.0
	if p > 0 && rng != nil {
		factor = 1 - p + rng.Float64()*2*p
	}
	out := saturate(float64(d) * factor)
	if out < MinJitteredInterval {
		out = MinJitteredInterval
	}
	return out
}

func NextCheckAt(now time.Time, jittered time.Duration) time.Time {
	return now.Add(jittered)
}

// ComputeSchedule derives an account's new schedule from one observation.
// The offline counter is updated first (reset on live, +1 on offline) and
// the interval is computed from the updated value.
func ComputeSchedule(account stream.Account, outcome stream.Outcome, cfg Config, now time.Time, rng Rand) stream.Schedule {
	count := 0
	if !outcome.IsLive {
		count = account.ConsecutiveOfflineChecks + 1
	}
	base, ok := NextInterval(outcome.IsLive, count, cfg)
	if !ok {
		return stream.Schedule{ConsecutiveOfflineChecks: count}
	}
	jittered := ApplyJitter(base, cfg.JitterPercent, rng)
	next := NextCheckAt(now, jittered)
	return stream.Schedule{
		NextCheckAt:              &next,
		Interval:                 jittered,
		ConsecutiveOfflineChecks: count,
	}
}
