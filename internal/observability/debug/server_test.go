package debug

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "livewatch/pkg/logx"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled defaults", cfg: Config{}},
		{name: "loopback", cfg: Config{Enabled: true, Addr: "127.0.0.1:0"}},
		{name: "public without token", cfg: Config{Enabled: true, Addr: "0.0.0.0:6060"}, wantErr: true},
		{name: "public with token", cfg: Config{Enabled: true, Addr: "0.0.0.0:6060", Token: "s3cret"}},
		{name: "public insecure", cfg: Config{Enabled: true, Addr: ":6060", AllowInsecure: true}},
		{name: "bad addr", cfg: Config{Enabled: true, Addr: "localhost"}, wantErr: true},
		{name: "negative rate", cfg: Config{BlockProfileRate: -1}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
			if err == nil && (cfg.Addr == "" || cfg.Prefix != DefaultPrefix) {
				t.Fatalf("defaults not applied: %+v", cfg)
			}
		})
	}
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "livewatch_any_live 1\n")
	})
	status := func(ctx context.Context) any {
		return map[string]any{"any_live": true, "accounts": 2}
	}
	s := New(Config{}, metrics, status, logx.Nop())
	srv := httptest.NewServer(s.Handler(Config{Token: "tok"}))
	defer srv.Close()

	get := func(path string, auth bool) (*http.Response, string) {
		t.Helper()
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		if auth {
			req.Header.Set("Authorization", "Bearer tok")
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp, string(b)
	}

	if resp, _ := get("/status", false); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /status = %d", resp.StatusCode)
	}
	resp, body := get("/status", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/status = %d", resp.StatusCode)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil || doc["any_live"] != true {
		t.Fatalf("/status body = %q (%v)", body, err)
	}
	if _, body := get("/metrics", true); !strings.Contains(body, "livewatch_any_live") {
		t.Fatalf("/metrics body = %q", body)
	}
	if resp, _ := get("/healthz?token=tok", false); resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz with query token = %d", resp.StatusCode)
	}
	if resp, body := get("/debug/pprof/", true); resp.StatusCode != http.StatusOK || !strings.Contains(body, "goroutine") {
		t.Fatalf("pprof index = %d", resp.StatusCode)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, nil, nil, logx.Nop())
	s.Start(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Stop(ctx)
	if s.Supervisor() != nil {
		t.Fatal("supervisor still set after Stop")
	}
}

func TestHandlerCustomPrefix(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, nil, logx.Nop())
	srv := httptest.NewServer(s.Handler(Config{Prefix: "internal/prof"}))
	defer srv.Close()

	client := srv.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := client.Get(srv.URL + "/internal/prof")
	if err != nil {
		t.Fatalf("GET base: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusPermanentRedirect || resp.Header.Get("Location") != "/internal/prof/" {
		t.Fatalf("base = %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, err = client.Get(srv.URL + "/internal/prof/goroutine?debug=1")
	if err != nil {
		t.Fatalf("GET goroutine: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "goroutine") {
		t.Fatalf("goroutine profile = %d", resp.StatusCode)
	}

	if resp, err = client.Get(srv.URL + "/status"); err != nil {
		t.Fatalf("GET status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("open /status = %d", resp.StatusCode)
	}
}

func TestNeedsRestart(t *testing.T) {
	t.Parallel()
	base := Config{Enabled: true, Addr: "127.0.0.1:0", Prefix: "/debug/pprof/"}
	rates := base
	rates.BlockProfileRate = 5
	if needsRestart(base, rates) {
		t.Fatal("profile rate change should not restart the listener")
	}
	slashes := base
	slashes.Prefix = "debug/pprof"
	if needsRestart(base, slashes) {
		t.Fatal("equivalent prefixes should not restart the listener")
	}
	tok := base
	tok.Token = "x"
	if !needsRestart(base, tok) {
		t.Fatal("token change must restart the listener")
	}
}
