package strategy

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"livewatch/internal/credential"
	"livewatch/internal/stream"
)

// PlatformOptions configures the strategies of one platform.
type PlatformOptions struct {
	APIBaseURL string
	// RatePerSec bounds API calls; <= 0 defaults to 2/s.
	RatePerSec float64
	Burst      int
	// PageURL overrides the channel page URL template ("%s" = username).
	PageURL string
}

type Options struct {
	Credentials credential.Provider
	Scrape      ScrapeConfig
	APITimeout  time.Duration
	Platforms   map[stream.Platform]PlatformOptions

	// HTTPClient / Transport are test hooks.
	HTTPClient *http.Client
	Transport  http.RoundTripper
}

// Build registers API and scrape strategies for every built-in platform plus
// any extra platform that declares a page URL template.
func Build(opts Options) *Registry {
	reg := NewRegistry()
	for _, p := range stream.BuiltinPlatforms() {
		po := opts.Platforms[p]
		if ep, ok := Endpoints[p]; ok {
			reg.Register(p, stream.ModeAPI, newAPI(p, ep, po, opts))
		}
		reg.Register(p, stream.ModeScrape, newScrape(p, PageURLs[p], po, opts))
	}
	for p, po := range opts.Platforms {
		if _, builtin := PageURLs[p]; builtin || po.PageURL == "" {
			continue
		}
		reg.Register(p, stream.ModeScrape, newScrape(p, nil, po, opts))
	}
	return reg
}

func newAPI(p stream.Platform, ep Endpoint, po PlatformOptions, opts Options) *APIStrategy {
	rps := po.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	burst := po.Burst
	if burst <= 0 {
		burst = 1
	}
	return &APIStrategy{
		Platform:    p,
		Endpoint:    ep,
		BaseURL:     po.APIBaseURL,
		Credentials: opts.Credentials,
		Limiter:     rate.NewLimiter(rate.Limit(rps), burst),
		Timeout:     opts.APITimeout,
		Client:      opts.HTTPClient,
	}
}

func newScrape(p stream.Platform, page func(string) string, po PlatformOptions, opts Options) *ScrapeStrategy {
	if po.PageURL != "" {
		page = templateURL(po.PageURL)
	}
	return &ScrapeStrategy{
		Platform:  p,
		PageURL:   page,
		Config:    opts.Scrape,
		Transport: opts.Transport,
	}
}

// templateURL turns "https://host/%s/live" into a page URL builder.
func templateURL(tmpl string) func(string) string {
	return func(username string) string {
		u := url.PathEscape(strings.TrimSpace(username))
		if strings.Contains(tmpl, "%s") {
			return strings.ReplaceAll(tmpl, "%s", u)
		}
		return strings.TrimRight(tmpl, "/") + "/" + u
	}
}
