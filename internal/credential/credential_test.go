package credential

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"livewatch/internal/stream"
	logx "livewatch/pkg/logx"
)

func TestAccessTokenNotConfigured(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil, logx.Nop())
	_, err := m.AccessToken(context.Background(), stream.PlatformTwitch)
	if got := stream.KindOf(err); got != stream.KindCredentialsNotConfigured {
		t.Fatalf("kind = %q, want credentials_not_configured", got)
	}
	if m.IsAuthenticated(context.Background(), stream.PlatformTwitch) {
		t.Fatal("unconfigured platform reported authenticated")
	}
}

func TestAccessTokenAPIKeyAndPasted(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager(map[stream.Platform]PlatformConfig{
		stream.PlatformYouTube: {APIKey: "key-1"},
		stream.PlatformKick:    {AccessToken: "tok", AccessTokenExpiry: now.Add(time.Hour)},
		"expired":              {AccessToken: "old", AccessTokenExpiry: now.Add(-time.Minute)},
	}, nil, logx.Nop())
	m.now = func() time.Time { return now }

	tok, err := m.AccessToken(context.Background(), stream.PlatformYouTube)
	if err != nil || tok.Kind != KindAPIKey || tok.Value != "key-1" {
		t.Fatalf("api key token = %+v err=%v", tok, err)
	}
	tok, err = m.AccessToken(context.Background(), stream.PlatformKick)
	if err != nil || tok.Kind != KindBearer || tok.Value != "tok" {
		t.Fatalf("pasted token = %+v err=%v", tok, err)
	}
	_, err = m.AccessToken(context.Background(), "expired")
	if got := stream.KindOf(err); got != stream.KindTokenExpiredRefreshFailed {
		t.Fatalf("kind = %q, want token_expired_refresh_failed", got)
	}
}

func TestClientCredentialsFlow(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		// expires_in=1 forces a refresh on every call (expiry delta is 60s).
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"bearer","expires_in":1}`, n)
	}))
	defer srv.Close()

	m := NewManager(map[stream.Platform]PlatformConfig{
		stream.PlatformTwitch: {ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL},
	}, srv.Client(), logx.Nop())

	tok, err := m.AccessToken(context.Background(), stream.PlatformTwitch)
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if tok.Value != "tok-1" || tok.ClientID != "id" {
		t.Fatalf("token = %+v", tok)
	}

	fail.Store(true)
	_, err = m.AccessToken(context.Background(), stream.PlatformTwitch)
	if got := stream.KindOf(err); got != stream.KindTokenExpiredRefreshFailed {
		t.Fatalf("kind = %q, want token_expired_refresh_failed (err=%v)", got, err)
	}
}

func TestClientCredentialsFirstFailureIsAuthRequired(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewManager(map[stream.Platform]PlatformConfig{
		stream.PlatformKick: {ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL},
	}, srv.Client(), logx.Nop())
	_, err := m.AccessToken(context.Background(), stream.PlatformKick)
	if got := stream.KindOf(err); got != stream.KindAuthenticationRequired {
		t.Fatalf("kind = %q, want authentication_required", got)
	}
}
