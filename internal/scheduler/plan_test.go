package scheduler

import (
	"testing"
	"time"

	"livewatch/internal/smartcheck"
	"livewatch/internal/stream"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func scheduled(id string, at time.Time) stream.Account {
	return stream.Account{ID: id, Enabled: true, LastStatus: stream.StatusOffline, NextCheckAt: &at}
}

func settings() Settings {
	return Settings{Policy: smartcheck.Default(), GraceDelay: 3 * time.Second}
}

func ids(accounts []stream.Account) []string {
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.ID)
	}
	return out
}

func TestPlanArmsForEarliest(t *testing.T) {
	t.Parallel()

	accounts := []stream.Account{
		scheduled("a", t0.Add(time.Minute)),
		scheduled("b", t0.Add(5*time.Minute)),
		scheduled("c", t0.Add(2*time.Minute)),
	}
	pending := map[string]time.Time{}

	d := Plan(t0, accounts, settings(), pending)
	if len(d.Due) != 0 {
		t.Fatalf("due = %v, want none", ids(d.Due))
	}
	if !d.NextWake.Equal(t0.Add(time.Minute)) {
		t.Fatalf("next wake = %v, want T+1m", d.NextWake)
	}

	d = Plan(t0.Add(time.Minute), accounts, settings(), pending)
	if got := ids(d.Due); len(got) != 1 || got[0] != "a" {
		t.Fatalf("due at T+1m = %v, want [a]", got)
	}
}

func TestPlanGraceDelayForUnscheduled(t *testing.T) {
	t.Parallel()

	fresh := stream.Account{ID: "new", Enabled: true, LastStatus: stream.StatusOffline}
	accounts := []stream.Account{scheduled("old", t0.Add(time.Hour)), fresh}
	pending := map[string]time.Time{}

	d := Plan(t0, accounts, settings(), pending)
	if len(d.Due) != 0 {
		t.Fatalf("fresh account due before grace: %v", ids(d.Due))
	}
	if !d.NextWake.Equal(t0.Add(3 * time.Second)) {
		t.Fatalf("next wake = %v, want T+3s", d.NextWake)
	}

	// A later pass must not restart the grace window.
	d = Plan(t0.Add(2*time.Second), accounts, settings(), pending)
	if !d.NextWake.Equal(t0.Add(3 * time.Second)) {
		t.Fatalf("grace restarted: next wake = %v", d.NextWake)
	}

	d = Plan(t0.Add(3*time.Second), accounts, settings(), pending)
	if got := ids(d.Due); len(got) != 1 || got[0] != "new" {
		t.Fatalf("due after grace = %v, want [new]", got)
	}
}

func TestPlanSkipsDisabled(t *testing.T) {
	t.Parallel()

	off := scheduled("off", t0.Add(-time.Minute))
	off.Enabled = false
	d := Plan(t0, []stream.Account{off}, settings(), map[string]time.Time{})
	if len(d.Due) != 0 || d.Enabled != 0 {
		t.Fatalf("disabled account planned: %+v", d)
	}
	if !d.NextWake.Equal(t0.Add(3 * time.Minute)) {
		t.Fatalf("fallback wake = %v, want now + offline interval", d.NextWake)
	}
}

func TestPlanParkedLiveAccounts(t *testing.T) {
	t.Parallel()

	parked := stream.Account{ID: "live", Enabled: true, LastStatus: stream.StatusLive}
	s := settings()
	s.Policy.DisableOnlineChecks = true
	pending := map[string]time.Time{}

	d := Plan(t0, []stream.Account{parked}, s, pending)
	if len(d.Due) != 0 || d.Parked != 1 {
		t.Fatalf("parked account planned: %+v", d)
	}
	d = Plan(t0.Add(time.Hour), []stream.Account{parked}, s, pending)
	if len(d.Due) != 0 {
		t.Fatal("parked account became due while online checks are disabled")
	}

	// Re-enabling online checks reschedules parked accounts after the grace delay.
	s.Policy.DisableOnlineChecks = false
	now := t0.Add(2 * time.Hour)
	d = Plan(now, []stream.Account{parked}, s, pending)
	if len(d.Due) != 0 || !d.NextWake.Equal(now.Add(3*time.Second)) {
		t.Fatalf("after flip: %+v", d)
	}
	d = Plan(now.Add(3*time.Second), []stream.Account{parked}, s, pending)
	if len(d.Due) != 1 {
		t.Fatalf("parked account not due after flip: %+v", d)
	}
}

func TestPlanOverdueIsDue(t *testing.T) {
	t.Parallel()

	d := Plan(t0, []stream.Account{scheduled("late", t0.Add(-time.Hour)), scheduled("now", t0)}, settings(), map[string]time.Time{})
	if len(d.Due) != 2 {
		t.Fatalf("due = %v, want both", ids(d.Due))
	}
}

func TestPlanPrunesPending(t *testing.T) {
	t.Parallel()

	pending := map[string]time.Time{"gone": t0.Add(-time.Minute)}
	Plan(t0, []stream.Account{scheduled("a", t0.Add(time.Minute))}, settings(), pending)
	if len(pending) != 0 {
		t.Fatalf("pending = %v, want empty", pending)
	}
}
