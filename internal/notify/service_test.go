package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"livewatch/internal/storage"
	"livewatch/internal/stream"
	"livewatch/pkg/logx"
)

type fakeSender struct {
	mu       sync.Mutex
	failures int
	sent     []Notification
	calls    int
	done     chan struct{}
}

func newFakeSender(failures int) *fakeSender {
	return &fakeSender{failures: failures, done: make(chan struct{}, 16)}
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) Send(ctx context.Context, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("temporary")
	}
	f.sent = append(f.sent, n)
	f.done <- struct{}{}
	return nil
}

func (f *fakeSender) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.done:
	case <-time.After(3 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func testConfig() Config {
	return Config{
		Enabled:     true,
		Workers:     1,
		RatePerSec:  100,
		RetryMax:    3,
		RetryBase:   time.Millisecond,
		DedupWindow: time.Minute,
	}
}

var testAccount = stream.Account{ID: "acc-1", Platform: stream.PlatformTwitch, Username: "streamer", DisplayName: "Streamer"}

func TestServiceDeliversWithRetry(t *testing.T) {
	t.Parallel()

	snd := newFakeSender(2)
	s := New(testConfig(), []Sender{snd}, logx.Nop(), nil, nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.ShowLive(context.Background(), testAccount, "hello")
	snd.wait(t)

	if snd.calls != 3 {
		t.Fatalf("calls = %d, want 3", snd.calls)
	}
	if got := snd.sent[0]; got.Title != "hello" || got.URL != "https://www.twitch.tv/streamer" {
		t.Fatalf("sent = %+v", got)
	}
	if h := s.History(); len(h) != 1 || h[0].Sender != "fake" {
		t.Fatalf("history = %+v", h)
	}
}

func TestServiceDedupWindow(t *testing.T) {
	t.Parallel()

	snd := newFakeSender(0)
	s := New(testConfig(), []Sender{snd}, logx.Nop(), nil, nil, nil)
	s.Start(context.Background())

	n := NewNotification(testAccount, "one", time.Now())
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := s.Notify(context.Background(), n); err != nil {
		t.Fatalf("deduped Notify: %v", err)
	}
	snd.wait(t)
	s.Stop(context.Background())

	if len(snd.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(snd.sent))
	}
}

func TestServicePersistedDedupSurvivesRestart(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	ctx := context.Background()
	key := NewNotification(testAccount, "", time.Now()).Key()
	if err := store.PutDedup(ctx, key, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("PutDedup: %v", err)
	}

	cfg := testConfig()
	cfg.PersistDedup = true
	snd := newFakeSender(0)
	s := New(cfg, []Sender{snd}, logx.Nop(), nil, store, nil)
	s.Start(ctx)
	if err := s.Notify(ctx, NewNotification(testAccount, "again", time.Now())); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	s.Stop(ctx)
	if len(snd.sent) != 0 {
		t.Fatalf("persisted dedup ignored: %+v", snd.sent)
	}
}

func TestServiceDisabled(t *testing.T) {
	t.Parallel()

	s := New(Config{Enabled: false}, nil, logx.Nop(), nil, nil, nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), Notification{AccountID: "x"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestServiceStoppedRejects(t *testing.T) {
	t.Parallel()

	s := New(testConfig(), nil, logx.Nop(), nil, nil, nil)
	if err := s.Notify(context.Background(), Notification{AccountID: "x"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestWebhookSender(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := &WebhookSender{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}, Client: srv.Client()}
	n := NewNotification(testAccount, "title", time.Now())
	if err := s.Send(context.Background(), n); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["event"] != "live" || got["account_id"] != "acc-1" || got["title"] != "title" {
		t.Fatalf("payload = %v", got)
	}

	bad := &WebhookSender{URL: srv.URL, Client: srv.Client()}
	if err := bad.Send(context.Background(), n); err == nil {
		t.Fatal("expected error for non-2xx")
	}
}

func TestTelegramSender(t *testing.T) {
	t.Parallel()

	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bot123:abc/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var params map[string]any
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &params)
		text, _ = params["text"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":1,"chat":{"id":42,"type":"private"}}}`))
	}))
	defer srv.Close()

	s, err := NewTelegramSender(TelegramConfig{Token: "123:abc", ChatID: 42, APIURL: srv.URL})
	if err != nil {
		t.Fatalf("NewTelegramSender: %v", err)
	}
	if err := s.Send(context.Background(), NewNotification(testAccount, "a <b> c", time.Now())); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(text, "a &lt;b&gt; c") {
		t.Fatalf("title not escaped: %q", text)
	}
}

func TestNewTelegramSenderValidates(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegramSender(TelegramConfig{ChatID: 1}); err == nil {
		t.Fatal("expected error without token")
	}
	if _, err := NewTelegramSender(TelegramConfig{Token: "x"}); err == nil {
		t.Fatal("expected error without chat id")
	}
}

func TestDedupCachePrunesExpiredThenOldest(t *testing.T) {
	t.Parallel()
	c := newDedupCache()
	now := time.Now()
	c.remember("gone", now.Add(-time.Second), now.Add(-2*time.Second), 0)
	c.remember("a", now.Add(time.Minute), now, 2)
	c.remember("b", now.Add(3*time.Minute), now, 2)
	c.remember("c", now.Add(2*time.Minute), now, 2)

	if n := c.len(); n != 2 {
		t.Fatalf("len = %d, want 2", n)
	}
	if c.suppressed("a", now) || c.suppressed("gone", now) {
		t.Fatalf("expired or evicted key still suppressed")
	}
	if !c.suppressed("b", now) || !c.suppressed("c", now) {
		t.Fatalf("newest keys dropped")
	}
}

func TestRetryDelayBounds(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 40; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > cfg.RetryMaxDelay {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
	if d := retryDelay(cfg, 1); d < 70*time.Millisecond || d > 130*time.Millisecond {
		t.Fatalf("first delay %v, want base +-30%%", d)
	}
}
