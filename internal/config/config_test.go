package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestDecodeYAMLAndJSON(t *testing.T) {
	t.Parallel()

	yml := []byte(`
logging:
  level: debug
checking:
  enabled: false
  online_interval_min: 2
  jitter_percent: 0
platforms:
  twitch:
    mode: api
    client_id: abc
storage:
  driver: sqlite
  path: ./x.db
`)
	cfg, err := Decode("config.yaml", yml)
	if err != nil {
		t.Fatalf("decode yaml: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level=%q", cfg.Logging.Level)
	}
	if cfg.CheckingEnabled() {
		t.Fatalf("checking should be disabled")
	}
	if cfg.Checking.JitterPercent == nil || *cfg.Checking.JitterPercent != 0 {
		t.Fatalf("explicit zero jitter lost: %v", cfg.Checking.JitterPercent)
	}
	if cfg.Platforms["twitch"].ClientID != "abc" {
		t.Fatalf("platforms not decoded: %+v", cfg.Platforms)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage not decoded: %+v", cfg.Storage)
	}

	js := []byte(`{"checking":{"offline_interval_min":5}}`)
	cfg, err = Decode("config", js)
	if err != nil {
		t.Fatalf("decode sniffed json: %v", err)
	}
	if cfg.Checking.OfflineIntervalMin != 5 || !cfg.CheckingEnabled() {
		t.Fatalf("unexpected checking: %+v", cfg.Checking)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		file string
		data string
		want string
	}{
		{"unknown field", "c.json", `{"bogus":1}`, "unknown field"},
		{"unknown nested yaml", "c.yaml", "checking:\n  nope: 1\n", "unknown field"},
		{"trailing data", "c.json", `{} {}`, "trailing data"},
		{"bad yaml", "c.yml", "checking: [", "yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.file, []byte(tc.data))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("empty.yaml", nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cfg.CheckingEnabled() || cfg.Notifier != nil || cfg.Storage != nil {
		t.Fatalf("empty config should keep defaults: %+v", cfg)
	}
}

func TestMinutesOrDefault(t *testing.T) {
	t.Parallel()
	if v, err := MinutesOrDefault("x", 0, 3); err != nil || v != 3 {
		t.Fatalf("zero: v=%v err=%v", v, err)
	}
	if v, err := MinutesOrDefault("x", 1.5, 3); err != nil || v != 1.5 {
		t.Fatalf("set: v=%v err=%v", v, err)
	}
	if _, err := MinutesOrDefault("x", -1, 3); err == nil {
		t.Fatalf("negative accepted")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("empty: d=%v err=%v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", " 250ms ", time.Second); err != nil || d != 250*time.Millisecond {
		t.Fatalf("set: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatalf("negative accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	old := &Config{Platforms: map[string]PlatformConfig{"twitch": {ClientSecret: "a"}}}
	next := &Config{
		Checking:  CheckingConfig{OnlineIntervalMin: 2},
		Platforms: map[string]PlatformConfig{"twitch": {ClientSecret: "b"}, "kick": {}},
		Notifier:  &NotifierConfig{Enabled: true},
	}
	sections, _ := SummarizeConfigChange(old, next)
	want := []string{"checking", "notifier", "platforms"}
	if !slices.Equal(sections, want) {
		t.Fatalf("sections=%v want %v", sections, want)
	}

	sections, _ = SummarizeConfigChange(next, next)
	if len(sections) != 0 {
		t.Fatalf("identical configs reported %v", sections)
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "checking:\n  online_interval_min: 1\n")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(2)
	defer m.Unsubscribe(sub)

	if ok, err := m.Reload(context.Background()); err != nil || ok {
		t.Fatalf("unchanged reload: ok=%v err=%v", ok, err)
	}

	writeFile(t, path, "checking:\n  online_interval_min: 2\n")
	if ok, err := m.Reload(context.Background()); err != nil || !ok {
		t.Fatalf("changed reload: ok=%v err=%v", ok, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Checking.OnlineIntervalMin != 2 {
			t.Fatalf("published %+v", cfg.Checking)
		}
	default:
		t.Fatalf("nothing published")
	}
	if m.Get().Checking.OnlineIntervalMin != 2 {
		t.Fatalf("not committed")
	}
}

func TestReloadValidatorRejects(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"checking":{"parallelism":1}}`)

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	reject := errors.New("nope")
	m.SetValidator(func(context.Context, *Config) error { return reject })

	writeFile(t, path, `{"checking":{"parallelism":9}}`)
	_, err := m.Reload(context.Background())
	if !errors.Is(err, reject) {
		t.Fatalf("err=%v", err)
	}
	if m.Get().Checking.Parallelism != 1 {
		t.Fatalf("rejected config committed")
	}
}

func TestWatchPicksUpEdits(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "logging:\n  level: info\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and sees it.
		writeFile(t, path, "logging:\n  level: debug\n")
		select {
		case cfg := <-sub:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("level=%q", cfg.Logging.Level)
			}
			return
		case <-deadline:
			t.Fatalf("no reload observed")
		case <-tick.C:
		}
	}
}
