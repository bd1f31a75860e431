package strategy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"livewatch/internal/credential"
	"livewatch/internal/stream"
)

const maxBodyBytes = 2 << 20

// Endpoint describes one platform's live-status API.
type Endpoint struct {
	DefaultBaseURL string
	// Request builds the request URL and headers for a username.
	Request func(base *url.URL, username string, tok credential.Token) (*url.URL, http.Header)
	// Parse extracts the live state from a 200 response body.
	Parse func(body []byte, username string) (stream.CheckResult, error)
}

// APIStrategy calls a platform API with a credential from the provider.
type APIStrategy struct {
	Platform    stream.Platform
	Endpoint    Endpoint
	BaseURL     string
	Credentials credential.Provider
	Limiter     *rate.Limiter
	Timeout     time.Duration

	// Client, when set, is used instead of an owned session (tests).
	Client *http.Client

	mu      sync.Mutex
	session *http.Client
}

func (s *APIStrategy) Check(ctx context.Context, username string) (stream.CheckResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.Credentials == nil {
		return stream.CheckResult{}, stream.Wrap(stream.KindCredentialsNotConfigured, s.Platform, stream.ErrCredentialsNotConfigured)
	}
	tok, err := s.Credentials.AccessToken(ctx, s.Platform)
	if err != nil {
		return stream.CheckResult{}, err
	}

	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return stream.CheckResult{}, stream.Wrap(stream.KindNetworkOrNavigation, s.Platform, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	base, err := url.Parse(s.baseURL())
	if err != nil {
		return stream.CheckResult{}, stream.Errorf(stream.KindUnknown, s.Platform, "invalid api base url: %v", err)
	}
	u, hdr := s.Endpoint.Request(base, username, tok)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return stream.CheckResult{}, stream.Wrap(stream.KindUnknown, s.Platform, err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		s.Reset()
		return stream.CheckResult{}, stream.Wrap(stream.KindNetworkOrNavigation, s.Platform, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		s.Reset()
		return stream.CheckResult{}, stream.Wrap(stream.KindNetworkOrNavigation, s.Platform, fmt.Errorf("read body: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		res, err := s.Endpoint.Parse(body, username)
		if err != nil {
			return stream.CheckResult{}, stream.Wrap(stream.KindUnknown, s.Platform, err)
		}
		return res, nil
	case resp.StatusCode == http.StatusUnauthorized:
		// The token was revoked or expired early; fetch a fresh one next time.
		s.Credentials.Invalidate(s.Platform)
		return stream.CheckResult{}, stream.Wrap(stream.KindAuthenticationRequired, s.Platform,
			fmt.Errorf("%w: api returned 401", stream.ErrAuthenticationRequired))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		s.Reset()
		return stream.CheckResult{}, stream.Errorf(stream.KindNetworkOrNavigation, s.Platform,
			"api returned %d: %s", resp.StatusCode, snippet(body))
	default:
		return stream.CheckResult{}, stream.Errorf(stream.KindUnknown, s.Platform,
			"api returned %d: %s", resp.StatusCode, snippet(body))
	}
}

// Reset drops the HTTP session so the next check starts with fresh connections.
func (s *APIStrategy) Reset() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()
	if sess != nil {
		sess.CloseIdleConnections()
	}
	if s.Client != nil {
		s.Client.CloseIdleConnections()
	}
}

func (s *APIStrategy) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		timeout := s.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		s.session = &http.Client{Timeout: timeout, Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return s.session
}

func (s *APIStrategy) baseURL() string {
	if b := strings.TrimSpace(s.BaseURL); b != "" {
		return b
	}
	return s.Endpoint.DefaultBaseURL
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
