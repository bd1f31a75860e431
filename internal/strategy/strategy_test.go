package strategy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"livewatch/internal/credential"
	"livewatch/internal/stream"
)

type stubProvider struct {
	tok         credential.Token
	err         error
	invalidated atomic.Int32
}

func (p *stubProvider) IsAuthenticated(ctx context.Context, platform stream.Platform) bool {
	return p.err == nil
}

func (p *stubProvider) AccessToken(ctx context.Context, platform stream.Platform) (credential.Token, error) {
	return p.tok, p.err
}

func (p *stubProvider) Invalidate(platform stream.Platform) { p.invalidated.Add(1) }

func newTwitch(srv *httptest.Server, prov credential.Provider) *APIStrategy {
	return &APIStrategy{
		Platform:    stream.PlatformTwitch,
		Endpoint:    twitchEndpoint,
		BaseURL:     srv.URL,
		Credentials: prov,
		Client:      srv.Client(),
	}
}

func TestTwitchAPILive(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/streams" || r.URL.Query().Get("user_login") != "somebody" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if r.Header.Get("Authorization") != "Bearer tok" || r.Header.Get("Client-Id") != "cid" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		_, _ = w.Write([]byte(`{"data":[{"type":"live","title":"speedrun"}]}`))
	}))
	defer srv.Close()

	s := newTwitch(srv, &stubProvider{tok: credential.Token{Kind: credential.KindBearer, Value: "tok", ClientID: "cid"}})
	res, err := s.Check(context.Background(), "SomeBody")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.IsLive || res.Title != "speedrun" {
		t.Fatalf("result = %+v", res)
	}
}

func TestTwitchAPIOffline(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	res, err := newTwitch(srv, &stubProvider{tok: credential.Token{Kind: credential.KindBearer, Value: "tok"}}).Check(context.Background(), "x")
	if err != nil || res.IsLive {
		t.Fatalf("result = %+v err=%v", res, err)
	}
}

func TestAPIUnauthorizedInvalidatesToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	prov := &stubProvider{tok: credential.Token{Kind: credential.KindBearer, Value: "tok"}}
	_, err := newTwitch(srv, prov).Check(context.Background(), "x")
	if got := stream.KindOf(err); got != stream.KindAuthenticationRequired {
		t.Fatalf("kind = %q", got)
	}
	if prov.invalidated.Load() != 1 {
		t.Fatal("expected token invalidation")
	}
}

func TestAPIMissingCredentialSkipsRequest(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits.Add(1) }))
	defer srv.Close()

	prov := &stubProvider{err: stream.Wrap(stream.KindAuthenticationRequired, stream.PlatformTwitch, stream.ErrAuthenticationRequired)}
	_, err := newTwitch(srv, prov).Check(context.Background(), "x")
	if got := stream.KindOf(err); got != stream.KindAuthenticationRequired {
		t.Fatalf("kind = %q", got)
	}
	if hits.Load() != 0 {
		t.Fatal("no request expected without a credential")
	}
}

func TestAPIServerErrorIsNetworkKind(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTwitch(srv, &stubProvider{}).Check(context.Background(), "x")
	if got := stream.KindOf(err); got != stream.KindNetworkOrNavigation {
		t.Fatalf("kind = %q", got)
	}
}

func TestKickAndYouTubeParsers(t *testing.T) {
	t.Parallel()
	res, err := kickEndpoint.Parse([]byte(`{"data":[{"slug":"k","stream_title":"chill","stream":{"is_live":true}}]}`), "k")
	if err != nil || !res.IsLive || res.Title != "chill" {
		t.Fatalf("kick live = %+v err=%v", res, err)
	}
	res, err = kickEndpoint.Parse([]byte(`{"data":[{"slug":"k","stream":{"is_live":false}}]}`), "k")
	if err != nil || res.IsLive {
		t.Fatalf("kick offline = %+v err=%v", res, err)
	}
	if _, err := kickEndpoint.Parse([]byte(`{"data":[]}`), "k"); err == nil {
		t.Fatal("expected not found error")
	}

	res, err = youtubeEndpoint.Parse([]byte(`{"items":[{"snippet":{"title":"launch"}}]}`), "UC1")
	if err != nil || !res.IsLive || res.Title != "launch" {
		t.Fatalf("youtube live = %+v err=%v", res, err)
	}
	res, err = youtubeEndpoint.Parse([]byte(`{"items":[]}`), "UC1")
	if err != nil || res.IsLive {
		t.Fatalf("youtube offline = %+v err=%v", res, err)
	}
}

const livePage = `<!doctype html><html><head>
<meta property="og:title" content="Channel - Twitch">
<script type="application/ld+json">[{"@context":"http://schema.org","@graph":[{"@type":"VideoObject","name":"Late night coding","publication":{"@type":"BroadcastEvent","isLiveBroadcast":true,"startDate":"2026-01-01T00:00:00Z"}}]}]</script>
</head><body></body></html>`

const endedPage = `<html><head><meta property="og:title" content="Old stream">
<script type="application/ld+json">{"@type":"VideoObject","name":"Old","publication":{"isLiveBroadcast":true,"endDate":"2026-01-01T02:00:00Z"}}</script>
</head></html>`

const microdataPage = `<html><body><div itemscope itemtype="http://schema.org/VideoObject">
<meta itemprop="name" content="Live Q&amp;A">
<span itemprop="publication" itemscope itemtype="http://schema.org/BroadcastEvent">
<meta itemprop="isLiveBroadcast" content="True"><meta itemprop="startDate" content="2026-01-01T00:00:00Z">
</span></div></body></html>`

func TestParsePage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		page  string
		live  bool
		title string
	}{
		{name: "ld+json graph", page: livePage, live: true, title: "Late night coding"},
		{name: "ended broadcast", page: endedPage, live: false},
		{name: "microdata", page: microdataPage, live: true, title: "Live Q&A"},
		{name: "plain", page: `<html><head><title>x</title></head></html>`, live: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := ParsePage(strings.NewReader(tt.page))
			if err != nil {
				t.Fatalf("ParsePage: %v", err)
			}
			if res.IsLive != tt.live || res.Title != tt.title {
				t.Fatalf("result = %+v, want live=%v title=%q", res, tt.live, tt.title)
			}
		})
	}
}

func TestScrapeDisabledIsCapabilityUnavailable(t *testing.T) {
	t.Parallel()
	s := &ScrapeStrategy{Platform: stream.PlatformKick, PageURL: PageURLs[stream.PlatformKick]}
	_, err := s.Check(context.Background(), "x")
	if got := stream.KindOf(err); got != stream.KindCapabilityUnavailable {
		t.Fatalf("kind = %q", got)
	}
}

func TestScrapeResetsSessionOnFailure(t *testing.T) {
	t.Parallel()
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(livePage))
	}))
	defer srv.Close()

	s := &ScrapeStrategy{
		Platform: stream.PlatformTwitch,
		PageURL:  templateURL(srv.URL + "/%s"),
		Config:   ScrapeConfig{Enabled: true},
	}
	res, err := s.Check(context.Background(), "chan")
	if err != nil || !res.IsLive {
		t.Fatalf("first check = %+v err=%v", res, err)
	}
	if !s.HasSession() {
		t.Fatal("session should be kept after success")
	}

	fail.Store(true)
	_, err = s.Check(context.Background(), "chan")
	if got := stream.KindOf(err); got != stream.KindNetworkOrNavigation {
		t.Fatalf("kind = %q", got)
	}
	if s.HasSession() {
		t.Fatal("session should be dropped after a navigation failure")
	}
}

func TestBuildRegistersBothModes(t *testing.T) {
	t.Parallel()
	reg := Build(Options{Platforms: map[stream.Platform]PlatformOptions{
		"trovo": {PageURL: "https://trovo.live/s/%s"},
	}})
	for _, p := range stream.BuiltinPlatforms() {
		if _, ok := reg.Lookup(p, stream.ModeAPI); !ok {
			t.Fatalf("missing api strategy for %s", p)
		}
		if _, ok := reg.Lookup(p, stream.ModeScrape); !ok {
			t.Fatalf("missing scrape strategy for %s", p)
		}
	}
	if _, ok := reg.Lookup("trovo", stream.ModeScrape); !ok {
		t.Fatal("custom platform scrape strategy not registered")
	}
	if _, ok := reg.Lookup("trovo", stream.ModeAPI); ok {
		t.Fatal("custom platform has no api endpoint")
	}
}
