package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriterFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "checker"))

	log.Debug("hidden")
	log.Warn("check failed", String("platform", "kick"), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines=%d: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("json: %v", err)
	}
	if m["comp"] != "checker" || m["platform"] != "kick" || m["message"] != "check failed" {
		t.Fatalf("entry=%v", m)
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logx_test.go:") {
		t.Fatalf("caller=%v", m["caller"])
	}
}

func TestZeroAndNop(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() || Nop().IsZero() {
		t.Fatalf("IsZero mismatch")
	}
	zero.Error("must not panic")
	if zero.With(String("a", "b")).IsZero() {
		t.Fatalf("logger with fields reported zero")
	}
}

func TestServiceApplySwapsFileAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	comp := log.With(String("comp", "app"))
	comp.Debug("first")

	svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: path}})
	comp.Info("filtered")
	comp.Error("second")
	if got := svc.Config().Level; got != "error" {
		t.Fatalf("config level=%q", got)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "first") || !strings.Contains(out, "second") || strings.Contains(out, "filtered") {
		t.Fatalf("log file:\n%s", out)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]Level{"DEBUG": LevelDebug, " warning ": LevelWarn, "trace": LevelTrace, "bogus": LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in, LevelInfo); got != want {
			t.Fatalf("%q: got %v want %v", in, got, want)
		}
	}
}
