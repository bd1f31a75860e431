package strategy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"livewatch/internal/stream"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// ScrapeConfig configures the page-fetching capability shared by all scrape
// strategies.
type ScrapeConfig struct {
	// Enabled is false when no scraping engine is provisioned; checks then
	// fail with CapabilityUnavailable.
	Enabled   bool
	UserAgent string
	Timeout   time.Duration
}

// PageURLs builds the channel page URL per built-in platform.
var PageURLs = map[stream.Platform]func(username string) string{
	stream.PlatformTwitch: func(u string) string {
		return "https://www.twitch.tv/" + url.PathEscape(strings.ToLower(u))
	},
	stream.PlatformKick: func(u string) string {
		return "https://kick.com/" + url.PathEscape(strings.ToLower(u))
	},
	stream.PlatformYouTube: func(u string) string {
		if strings.HasPrefix(u, "UC") && len(u) == 24 {
			return "https://www.youtube.com/channel/" + url.PathEscape(u) + "/live"
		}
		return "https://www.youtube.com/@" + url.PathEscape(strings.TrimPrefix(u, "@")) + "/live"
	},
}

// ScrapeStrategy fetches a channel page and reads its live markers.
//
// The session (HTTP client + cookie jar) is created on first use and dropped
// after any failure, so a bad consent/redirect state never leaks into the
// next cycle. It is not safe for concurrent use; callers serialize per
// platform.
type ScrapeStrategy struct {
	Platform stream.Platform
	PageURL  func(username string) string
	Config   ScrapeConfig

	// Transport, when set, backs every session (tests).
	Transport http.RoundTripper

	mu      sync.Mutex
	session *http.Client
}

func (s *ScrapeStrategy) Check(ctx context.Context, username string) (stream.CheckResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.Config.Enabled {
		return stream.CheckResult{}, stream.Wrap(stream.KindCapabilityUnavailable, s.Platform,
			fmt.Errorf("%w: scraper is disabled", stream.ErrCapabilityUnavailable))
	}
	if s.PageURL == nil {
		return stream.CheckResult{}, stream.Wrap(stream.KindCapabilityUnavailable, s.Platform,
			fmt.Errorf("%w: no page url for platform", stream.ErrCapabilityUnavailable))
	}

	sess, err := s.acquire()
	if err != nil {
		return stream.CheckResult{}, stream.Wrap(stream.KindCapabilityUnavailable, s.Platform, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.PageURL(username), http.NoBody)
	if err != nil {
		return stream.CheckResult{}, stream.Wrap(stream.KindUnknown, s.Platform, err)
	}
	ua := strings.TrimSpace(s.Config.UserAgent)
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")

	resp, err := sess.Do(req)
	if err != nil {
		s.Reset()
		return stream.CheckResult{}, stream.Wrap(stream.KindNetworkOrNavigation, s.Platform, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return stream.CheckResult{}, stream.Errorf(stream.KindUnknown, s.Platform, "channel page for %q not found", username)
	}
	if resp.StatusCode != http.StatusOK {
		s.Reset()
		return stream.CheckResult{}, stream.Errorf(stream.KindNetworkOrNavigation, s.Platform, "navigation returned %d", resp.StatusCode)
	}

	res, err := ParsePage(io.LimitReader(resp.Body, 8*maxBodyBytes))
	if err != nil {
		s.Reset()
		return stream.CheckResult{}, stream.Wrap(stream.KindNetworkOrNavigation, s.Platform, err)
	}
	return res, nil
}

func (s *ScrapeStrategy) Reset() {
	s.mu.Lock()
	sess := s.session
	s.session = nil
	s.mu.Unlock()
	if sess != nil {
		sess.CloseIdleConnections()
	}
}

// HasSession reports whether a session is currently held.
func (s *ScrapeStrategy) HasSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

func (s *ScrapeStrategy) acquire() (*http.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		return s.session, nil
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	timeout := s.Config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	tr := s.Transport
	if tr == nil {
		tr = http.DefaultTransport.(*http.Transport).Clone()
	}
	s.session = &http.Client{Jar: jar, Timeout: timeout, Transport: tr}
	return s.session, nil
}
