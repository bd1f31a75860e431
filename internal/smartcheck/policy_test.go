package smartcheck

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"livewatch/internal/stream"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func TestNextIntervalBackoffSequence(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.BackoffMultiplier = 1.8
	cfg.OfflineIntervalMin = 3
	cfg.BackoffMaxMin = 45

	want := []float64{3, 5.4, 9.72, 17.496, 31.4928, 45, 45, 45}
	for i, w := range want {
		got, ok := NextInterval(false, i+1, cfg)
		if !ok {
			t.Fatalf("offline interval must always exist")
		}
		gotMin := got.Minutes()
		if math.Abs(gotMin-w) > 1e-6 {
			t.Fatalf("observation %d: interval = %.6f min, want %.6f", i+1, gotMin, w)
		}
	}
}

func TestNextIntervalZeroCountUsesBase(t *testing.T) {
	t.Parallel()
	got, _ := NextInterval(false, 0, Default())
	if got != 3*time.Minute {
		t.Fatalf("interval = %v, want 3m", got)
	}
}

func TestNextIntervalMultiplierOneIsFixed(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.BackoffMultiplier = 1.0
	for n := 1; n < 20; n++ {
		got, _ := NextInterval(false, n, cfg)
		if got != 3*time.Minute {
			t.Fatalf("n=%d: interval = %v, want fixed 3m", n, got)
		}
	}
}

func TestNextIntervalLive(t *testing.T) {
	t.Parallel()
	cfg := Default()
	got, ok := NextInterval(true, 0, cfg)
	if !ok || got != time.Minute {
		t.Fatalf("live interval = %v ok=%v, want 1m", got, ok)
	}

	cfg.DisableOnlineChecks = true
	if _, ok := NextInterval(true, 0, cfg); ok {
		t.Fatal("live with online checks disabled must yield no interval")
	}
}

func TestApplyJitterZeroIsIdentity(t *testing.T) {
	t.Parallel()
	for _, d := range []time.Duration{1500 * time.Millisecond, time.Minute, 45 * time.Minute} {
		if got := ApplyJitter(d, 0, fixedRand(0.99)); got != d {
			t.Fatalf("ApplyJitter(%v, 0) = %v", d, got)
		}
	}
}

func TestApplyJitterBounds(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(42))
	base := 600000 * time.Millisecond
	for i := 0; i < 1000; i++ {
		got := ApplyJitter(base, 20, rng)
		if got < 480000*time.Millisecond || got > 720000*time.Millisecond {
			t.Fatalf("jittered = %v outside [480s, 720s]", got)
		}
	}
	if got := ApplyJitter(base, 20, fixedRand(0)); got != 480*time.Second {
		t.Fatalf("low edge = %v", got)
	}
}

func TestApplyJitterFloor(t *testing.T) {
	t.Parallel()
	if got := ApplyJitter(200*time.Millisecond, 50, fixedRand(0)); got != time.Second {
		t.Fatalf("floor = %v, want 1s", got)
	}
}

func TestComputeScheduleCounter(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.JitterPercent = 0
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	a := stream.Account{ID: "a", LastStatus: stream.StatusOffline, ConsecutiveOfflineChecks: 3}

	off := ComputeSchedule(a, stream.Outcome{IsLive: false}, cfg, now, nil)
	if off.ConsecutiveOfflineChecks != 4 {
		t.Fatalf("offline count = %d, want 4", off.ConsecutiveOfflineChecks)
	}
	wantOff, _ := NextInterval(false, 4, cfg)
	if off.NextCheckAt == nil || !off.NextCheckAt.Equal(now.Add(wantOff)) {
		t.Fatalf("next = %v, want %v", off.NextCheckAt, now.Add(wantOff))
	}

	on := ComputeSchedule(a, stream.Outcome{IsLive: true}, cfg, now, nil)
	if on.ConsecutiveOfflineChecks != 0 {
		t.Fatalf("live must reset counter, got %d", on.ConsecutiveOfflineChecks)
	}
	if on.NextCheckAt == nil || !on.NextCheckAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("live next = %v", on.NextCheckAt)
	}

	// backoff restarts from base after any live observation.
	a.ConsecutiveOfflineChecks = on.ConsecutiveOfflineChecks
	again := ComputeSchedule(a, stream.Outcome{IsLive: false}, cfg, now, nil)
	if again.Interval != 3*time.Minute {
		t.Fatalf("first offline after live = %v, want base 3m", again.Interval)
	}
}

func TestComputeScheduleDisableOnline(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.DisableOnlineChecks = true
	s := ComputeSchedule(stream.Account{}, stream.Outcome{IsLive: true}, cfg, time.Now(), nil)
	if s.NextCheckAt != nil {
		t.Fatalf("expected no next check, got %v", s.NextCheckAt)
	}
}

func TestComputeScheduleDeterministicWithSeed(t *testing.T) {
	t.Parallel()
	cfg := Default()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	a := stream.Account{ID: "x", ConsecutiveOfflineChecks: 2}
	o := stream.Outcome{IsLive: false}

	s1 := ComputeSchedule(a, o, cfg, now, rand.New(rand.NewSource(7)))
	s2 := ComputeSchedule(a, o, cfg, now, rand.New(rand.NewSource(7)))
	if !s1.NextCheckAt.Equal(*s2.NextCheckAt) {
		t.Fatalf("same seed produced %v and %v", s1.NextCheckAt, s2.NextCheckAt)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := Default()
	bad.BackoffMultiplier = 0.5
	bad.JitterPercent = 150
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestConfigValidateRejectsHugeIntervals(t *testing.T) {
	t.Parallel()
	cases := map[string]func(*Config){
		"online":  func(c *Config) { c.OnlineIntervalMin = 1e12 },
		"offline": func(c *Config) { c.OfflineIntervalMin = MaxIntervalMin + 1; c.BackoffMaxMin = MaxIntervalMin + 1 },
		"backoff": func(c *Config) { c.BackoffMaxMin = 1e12 },
		"inf":     func(c *Config) { c.BackoffMaxMin = math.Inf(1) },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	edge := Default()
	edge.OnlineIntervalMin = MaxIntervalMin
	edge.BackoffMaxMin = MaxIntervalMin
	if err := edge.Validate(); err != nil {
		t.Fatalf("7 day intervals must be valid: %v", err)
	}
}

func TestIntervalsSaturateInsteadOfWrapping(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.OnlineIntervalMin = 1e12
	cfg.BackoffMaxMin = 1e12
	cfg.BackoffMultiplier = 10

	live, _ := NextInterval(true, 0, cfg)
	if live <= 0 {
		t.Fatalf("live interval wrapped to %v", live)
	}
	for n := 1; n < 40; n++ {
		got, _ := NextInterval(false, n, cfg)
		if got < 3*time.Minute {
			t.Fatalf("n=%d: interval = %v, want >= 3m", n, got)
		}
	}
	if got := ApplyJitter(time.Duration(math.MaxInt64), 20, fixedRand(1)); got <= MinJitteredInterval {
		t.Fatalf("jittered max interval = %v, want saturated", got)
	}
	if got := minutes(math.NaN()); got != 0 {
		t.Fatalf("minutes(NaN) = %v, want 0", got)
	}
}
