package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"livewatch/internal/stream"
	"livewatch/pkg/logx"
)

func openDrivers(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	open := func(driver, name string) func() Store {
		return func() Store {
			s, err := Open(Config{Driver: driver, Path: filepath.Join(dir, name)}, logx.Nop())
			if err != nil {
				t.Fatalf("Open(%s): %v", driver, err)
			}
			return s
		}
	}
	return map[string]func() Store{
		"memory": open("memory", ""),
		"file":   open("file", "state.json"),
		"sqlite": open("sqlite", "state.db"),
	}
}

// base is millisecond-aligned so every driver round-trips it exactly.
var base = time.UnixMilli(1_760_000_000_000)

func newAccount(t *testing.T, p stream.Platform, user string) stream.Account {
	t.Helper()
	a, err := stream.NewAccount(p, user, "", base)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	return a
}

func TestAccountLifecycle(t *testing.T) {
	for name, open := range openDrivers(t) {
		name, open := name, open
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()
			defer s.Close()

			a := newAccount(t, stream.PlatformTwitch, "alpha")
			b := newAccount(t, stream.PlatformKick, "beta")
			for _, acc := range []stream.Account{a, b} {
				if err := s.CreateAccount(ctx, acc); err != nil {
					t.Fatalf("CreateAccount: %v", err)
				}
			}
			dup := newAccount(t, stream.PlatformTwitch, "ALPHA")
			if err := s.CreateAccount(ctx, dup); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("duplicate create err = %v", err)
			}

			list, err := s.ListAccounts(ctx)
			if err != nil {
				t.Fatalf("ListAccounts: %v", err)
			}
			if len(list) != 2 || list[0].ID != a.ID || list[1].ID != b.ID {
				t.Fatalf("list = %+v", list)
			}

			next := base.Add(3 * time.Minute)
			o := stream.Outcome{Account: a, IsLive: true, Title: "on air"}
			sched := stream.Schedule{NextCheckAt: &next, Interval: 3 * time.Minute}
			got, err := s.UpdateAccount(ctx, a.ID, stream.ObservationPatch(o, base, sched))
			if err != nil {
				t.Fatalf("UpdateAccount: %v", err)
			}
			if got.LastStatus != stream.StatusLive || got.LastTitle != "on air" || got.NextCheckAt == nil || !got.NextCheckAt.Equal(next) {
				t.Fatalf("updated = %+v", got)
			}

			reread, err := s.GetAccount(ctx, a.ID)
			if err != nil {
				t.Fatalf("GetAccount: %v", err)
			}
			if reread.CurrentInterval != 3*time.Minute || reread.LastCheckedAt == nil || !reread.LastCheckedAt.Equal(base) {
				t.Fatalf("reread = %+v", reread)
			}

			reset, err := s.UpdateAccount(ctx, a.ID, stream.ResetPatch())
			if err != nil {
				t.Fatalf("reset: %v", err)
			}
			if reset.NextCheckAt != nil || reset.LastStatus != stream.StatusUnknown {
				t.Fatalf("reset = %+v", reset)
			}

			if err := s.RemoveAccount(ctx, b.ID); err != nil {
				t.Fatalf("RemoveAccount: %v", err)
			}
			if _, err := s.GetAccount(ctx, b.ID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("get removed err = %v", err)
			}
			if _, err := s.UpdateAccount(ctx, b.ID, stream.ResetPatch()); !errors.Is(err, ErrNotFound) {
				t.Fatalf("update removed err = %v", err)
			}
		})
	}
}

func TestEventsAndDedup(t *testing.T) {
	for name, open := range openDrivers(t) {
		name, open := name, open
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open()
			defer s.Close()

			a := newAccount(t, stream.PlatformYouTube, "UCxxxxxxxxxxxxxxxxxxxxxx")
			for i := 0; i < 3; i++ {
				e := EventFromAccount(a, "stream", base.Add(time.Duration(i)*time.Hour))
				if err := s.AppendEvent(ctx, e); err != nil {
					t.Fatalf("AppendEvent: %v", err)
				}
			}
			recent, err := s.RecentEvents(ctx, 2)
			if err != nil {
				t.Fatalf("RecentEvents: %v", err)
			}
			if len(recent) != 2 || !recent[0].At.Equal(base.Add(2*time.Hour)) {
				t.Fatalf("recent = %+v", recent)
			}

			n, err := s.PruneEvents(ctx, base.Add(90*time.Minute))
			if err != nil || n != 2 {
				t.Fatalf("PruneEvents = %d, %v", n, err)
			}
			all, _ := s.RecentEvents(ctx, 0)
			if len(all) != 1 {
				t.Fatalf("after prune = %+v", all)
			}

			until := time.Now().Add(time.Hour).Truncate(time.Millisecond)
			if err := s.PutDedup(ctx, "k", until); err != nil {
				t.Fatalf("PutDedup: %v", err)
			}
			got, ok, err := s.GetDedup(ctx, "k")
			if err != nil || !ok || !got.Equal(until) {
				t.Fatalf("GetDedup = %v %v %v", got, ok, err)
			}
			if err := s.Compact(ctx); err != nil {
				t.Fatalf("Compact: %v", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	open := func() Store {
		s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return s
	}

	s := open()
	a := newAccount(t, stream.PlatformKick, "gamma")
	if err := s.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	disabled := false
	if _, err := s.UpdateAccount(ctx, a.ID, stream.Patch{Enabled: &disabled}); err != nil {
		t.Fatalf("UpdateAccount: %v", err)
	}
	if err := s.AppendEvent(ctx, EventFromAccount(a, "t", base)); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	// Journal only: no compaction before the simulated crash.
	fs := s.(*fileStore)
	fs.mu.Lock()
	_ = fs.journal.Close()
	_ = fs.events.Close()
	fs.journal, fs.events = nil, nil
	fs.mu.Unlock()

	s = open()
	defer s.Close()
	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount after reopen: %v", err)
	}
	if got.Enabled {
		t.Fatal("journaled patch was lost")
	}
	events, _ := s.RecentEvents(ctx, 10)
	if len(events) != 1 || events[0].AccountID != a.ID {
		t.Fatalf("events after reopen = %+v", events)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileStoreSingleOwner(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	cfg := Config{Driver: "file", Path: path}

	owner, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := Open(cfg, logx.Nop()); !errors.Is(err, ErrLocked) {
		_ = owner.Close()
		t.Fatalf("second Open err = %v, want ErrLocked", err)
	}

	a := newAccount(t, stream.PlatformTwitch, "bob")
	if err := owner.CreateAccount(ctx, a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := owner.Compact(ctx); err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if err := owner.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	next, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open after Close: %v", err)
	}
	defer next.Close()
	if _, err := next.GetAccount(ctx, a.ID); err != nil {
		t.Fatalf("account lost across owners: %v", err)
	}
}
