// Package credential manages per-platform API credentials: OAuth2 client
// credentials with transparent refresh, pasted access tokens, or plain API
// keys.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"livewatch/internal/stream"
	logx "livewatch/pkg/logx"
)

// Provider is the capability consumed by API strategies.
type Provider interface {
	IsAuthenticated(ctx context.Context, platform stream.Platform) bool
	// AccessToken returns a valid bearer token (or API key), refreshing it
	// when it is about to expire.
	AccessToken(ctx context.Context, platform stream.Platform) (Token, error)
	// Invalidate drops a cached token after the API rejected it.
	Invalidate(platform stream.Platform)
}

// TokenKind tells the API strategy how to present the credential.
type TokenKind string

const (
	KindBearer TokenKind = "bearer"
	KindAPIKey TokenKind = "api_key"
)

type Token struct {
	Kind     TokenKind
	Value    string
	ClientID string
	Expiry   time.Time
}

// PlatformConfig configures credentials for one platform.
//
// Exactly one source is used, in order: ClientID+ClientSecret (OAuth2 client
// credentials grant against TokenURL), AccessToken (pasted, not refreshable),
// APIKey.
type PlatformConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	AccessToken       string
	AccessTokenExpiry time.Time

	APIKey string
}

func (c PlatformConfig) configured() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != "" ||
		strings.TrimSpace(c.AccessToken) != "" ||
		strings.TrimSpace(c.APIKey) != ""
}

// DefaultTokenURLs are used when a platform config omits TokenURL.
var DefaultTokenURLs = map[stream.Platform]string{
	stream.PlatformTwitch: "https://id.twitch.tv/oauth2/token",
	stream.PlatformKick:   "https://id.kick.com/oauth/token",
}

// expiryDelta refreshes tokens slightly before they expire.
const expiryDelta = 60 * time.Second

type entry struct {
	cfg PlatformConfig
	src oauth2.TokenSource

	hadToken bool
	last     *oauth2.Token
}

// Manager implements Provider over a static set of platform configs.
// It is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	log     logx.Logger
	client  *http.Client
	entries map[stream.Platform]*entry
	now     func() time.Time
}

func NewManager(cfgs map[stream.Platform]PlatformConfig, client *http.Client, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	m := &Manager{log: log, client: client, entries: map[stream.Platform]*entry{}, now: time.Now}
	m.Apply(cfgs)
	return m
}

// Apply replaces the platform configs. Cached tokens survive only for
// platforms whose config did not change.
func (m *Manager) Apply(cfgs map[stream.Platform]PlatformConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make(map[stream.Platform]*entry, len(cfgs))
	for p, c := range cfgs {
		if old, ok := m.entries[p]; ok && sameConfig(old.cfg, c) {
			next[p] = old
			continue
		}
		next[p] = &entry{cfg: c}
	}
	m.entries = next
}

func sameConfig(a, b PlatformConfig) bool {
	return a.ClientID == b.ClientID && a.ClientSecret == b.ClientSecret && a.TokenURL == b.TokenURL &&
		strings.Join(a.Scopes, " ") == strings.Join(b.Scopes, " ") &&
		a.AccessToken == b.AccessToken && a.AccessTokenExpiry.Equal(b.AccessTokenExpiry) && a.APIKey == b.APIKey
}

func (m *Manager) IsAuthenticated(ctx context.Context, platform stream.Platform) bool {
	_, err := m.AccessToken(ctx, platform)
	return err == nil
}

func (m *Manager) Invalidate(platform stream.Platform) {
	m.mu.Lock()
	if e := m.entries[platform]; e != nil {
		e.src = nil
		e.last = nil
	}
	m.mu.Unlock()
}

func (m *Manager) AccessToken(ctx context.Context, platform stream.Platform) (Token, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.mu.Lock()
	e := m.entries[platform]
	if e == nil || !e.cfg.configured() {
		m.mu.Unlock()
		return Token{}, stream.Wrap(stream.KindCredentialsNotConfigured, platform, stream.ErrCredentialsNotConfigured)
	}
	cfg := e.cfg
	m.mu.Unlock()

	switch {
	case strings.TrimSpace(cfg.ClientID) != "" && strings.TrimSpace(cfg.ClientSecret) != "":
		return m.oauthToken(ctx, platform, e)
	case strings.TrimSpace(cfg.AccessToken) != "":
		if !cfg.AccessTokenExpiry.IsZero() && !m.now().Before(cfg.AccessTokenExpiry.Add(-expiryDelta)) {
			return Token{}, stream.Wrap(stream.KindTokenExpiredRefreshFailed, platform,
				fmt.Errorf("%w: pasted token expired at %s", stream.ErrTokenExpiredRefreshFailed, cfg.AccessTokenExpiry.Format(time.RFC3339)))
		}
		return Token{Kind: KindBearer, Value: cfg.AccessToken, ClientID: cfg.ClientID, Expiry: cfg.AccessTokenExpiry}, nil
	default:
		return Token{Kind: KindAPIKey, Value: cfg.APIKey}, nil
	}
}

func (m *Manager) oauthToken(ctx context.Context, platform stream.Platform, e *entry) (Token, error) {
	m.mu.Lock()
	if e.src == nil {
		tokenURL := strings.TrimSpace(e.cfg.TokenURL)
		if tokenURL == "" {
			tokenURL = DefaultTokenURLs[platform]
		}
		if tokenURL == "" {
			m.mu.Unlock()
			return Token{}, stream.Errorf(stream.KindCredentialsNotConfigured, platform, "token_url is required")
		}
		cc := clientcredentials.Config{
			ClientID:     e.cfg.ClientID,
			ClientSecret: e.cfg.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       e.cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		// The source is built on a detached context so it outlives this call.
		base := context.WithValue(context.Background(), oauth2.HTTPClient, m.client)
		e.src = oauth2.ReuseTokenSourceWithExpiry(e.last, cc.TokenSource(base), expiryDelta)
	}
	src := e.src
	hadToken := e.hadToken
	clientID := e.cfg.ClientID
	m.mu.Unlock()

	tok, err := tokenWithContext(ctx, src)
	if err != nil {
		if hadToken {
			m.log.Warn("token refresh failed", logx.String("platform", string(platform)), logx.Err(err))
			return Token{}, stream.Wrap(stream.KindTokenExpiredRefreshFailed, platform,
				fmt.Errorf("%w: %v", stream.ErrTokenExpiredRefreshFailed, err))
		}
		return Token{}, stream.Wrap(stream.KindAuthenticationRequired, platform,
			fmt.Errorf("%w: %v", stream.ErrAuthenticationRequired, err))
	}

	m.mu.Lock()
	refreshed := e.last == nil || e.last.AccessToken != tok.AccessToken
	e.hadToken = true
	e.last = tok
	m.mu.Unlock()
	if refreshed {
		m.log.Debug("access token acquired", logx.String("platform", string(platform)), logx.Time("expiry", tok.Expiry))
	}

	return Token{Kind: KindBearer, Value: tok.AccessToken, ClientID: clientID, Expiry: tok.Expiry}, nil
}

// tokenWithContext bounds a token fetch by ctx. oauth2.TokenSource has no
// context parameter, so the fetch keeps running in the background if ctx
// ends first; its result is still cached by the reuse source.
func tokenWithContext(ctx context.Context, src oauth2.TokenSource) (*oauth2.Token, error) {
	type res struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan res, 1)
	go func() {
		tok, err := src.Token()
		ch <- res{tok, err}
	}()
	select {
	case r := <-ch:
		if r.err == nil && (r.tok == nil || r.tok.AccessToken == "") {
			return nil, errors.New("empty access token")
		}
		return r.tok, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
