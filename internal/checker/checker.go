// Package checker dispatches status checks for a batch of accounts.
//
// Check is total: every account yields exactly one outcome, in input order.
// Failures are contained per account and degrade it to offline for the cycle.
package checker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"livewatch/internal/metrics"
	"livewatch/internal/strategy"
	"livewatch/internal/stream"
	"livewatch/pkg/logx"
)

const (
	defaultTimeout     = 45 * time.Second
	defaultParallelism = 4
)

// Settings are the hot-reloadable knobs.
type Settings struct {
	// Modes selects the strategy per platform. Platforms without an entry use
	// the API strategy when one is registered and scrape otherwise.
	Modes map[stream.Platform]stream.Mode
	// Timeout bounds a single check.
	Timeout time.Duration
	// Parallelism bounds how many platforms are checked at once.
	Parallelism int
}

type Checker struct {
	log     logx.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	registry *strategy.Registry
	settings Settings
}

func New(reg *strategy.Registry, s Settings, log logx.Logger, m *metrics.Metrics) *Checker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Checker{
		log:      log.With(logx.String("comp", "checker")),
		metrics:  m,
		registry: reg,
		settings: normalize(s),
	}
}

func normalize(s Settings) Settings {
	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	if s.Parallelism <= 0 {
		s.Parallelism = defaultParallelism
	}
	modes := make(map[stream.Platform]stream.Mode, len(s.Modes))
	for p, m := range s.Modes {
		modes[p] = m
	}
	s.Modes = modes
	return s
}

// SetRegistry swaps the strategy set. The old registry's sessions are reset.
func (c *Checker) SetRegistry(reg *strategy.Registry) {
	c.mu.Lock()
	old := c.registry
	c.registry = reg
	c.mu.Unlock()
	if old != nil && old != reg {
		old.ResetAll()
	}
}

func (c *Checker) Configure(s Settings) {
	c.mu.Lock()
	c.settings = normalize(s)
	c.mu.Unlock()
}

// Mode reports the strategy mode the checker would use for platform.
func (c *Checker) Mode(platform stream.Platform) stream.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modeLocked(platform)
}

func (c *Checker) modeLocked(platform stream.Platform) stream.Mode {
	if m, ok := c.settings.Modes[platform]; ok && m != "" {
		return m
	}
	if c.registry != nil {
		if _, ok := c.registry.Lookup(platform, stream.ModeAPI); ok {
			return stream.ModeAPI
		}
	}
	return stream.ModeScrape
}

type batch struct {
	platform stream.Platform
	mode     stream.Mode
	strat    strategy.Strategy
	found    bool
	idx      []int
}

// Check runs one status check per account and never fails as a whole.
//
// Accounts of the same platform are checked one after another so a platform's
// strategy session and rate limit are never used concurrently; different
// platforms run in parallel up to Settings.Parallelism.
func (c *Checker) Check(ctx context.Context, accounts []stream.Account) []stream.Outcome {
	out := make([]stream.Outcome, len(accounts))
	if len(accounts) == 0 {
		return out
	}

	c.mu.RLock()
	settings := c.settings
	byPlatform := make(map[stream.Platform]*batch)
	var order []*batch
	for i, a := range accounts {
		b, ok := byPlatform[a.Platform]
		if !ok {
			b = &batch{platform: a.Platform, mode: c.modeLocked(a.Platform)}
			if c.registry != nil {
				b.strat, b.found = c.registry.Lookup(a.Platform, b.mode)
			}
			byPlatform[a.Platform] = b
			order = append(order, b)
		}
		b.idx = append(b.idx, i)
	}
	c.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(settings.Parallelism)
	for _, b := range order {
		b := b
		g.Go(func() error {
			for _, i := range b.idx {
				out[i] = c.checkOne(ctx, accounts[i], b, settings.Timeout)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (c *Checker) checkOne(ctx context.Context, a stream.Account, b *batch, timeout time.Duration) (o stream.Outcome) {
	start := time.Now()
	log := c.log.With(
		logx.String("account", a.ID),
		logx.String("platform", string(a.Platform)),
		logx.String("mode", string(b.mode)),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("check panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			o = stream.FailedOutcome(a, stream.Errorf(stream.KindUnknown, a.Platform, "panic: %v", r))
		}
		c.metrics.ObserveCheck(a.Platform, b.mode, o.Kind, time.Since(start))
	}()

	if !b.found {
		err := stream.Wrap(stream.KindUnknown, a.Platform,
			fmt.Errorf("%w: no %s strategy", stream.ErrUnsupportedPlatform, b.mode))
		log.Error("no strategy for account", logx.Err(err))
		return stream.FailedOutcome(a, err)
	}
	if err := ctx.Err(); err != nil {
		return stream.FailedOutcome(a, err)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := b.strat.Check(cctx, a.Username)
	if err != nil {
		o = stream.FailedOutcome(a, err)
		log.Log(levelFor(o.Kind), "status check failed",
			logx.String("kind", string(o.Kind)),
			logx.String("username", a.Username),
			logx.Err(err),
		)
		return o
	}

	o = stream.NewOutcome(a, res)
	log.Debug("status checked",
		logx.String("username", a.Username),
		logx.Bool("live", o.IsLive),
		logx.Bool("just_went_live", o.JustWentLive),
		logx.Duration("took", time.Since(start)),
	)
	return o
}

// levelFor maps failure kinds to log levels: expected states stay quiet,
// transient failures warn, anything unclassified is an error.
func levelFor(kind stream.ErrKind) logx.Level {
	switch {
	case kind.Expected():
		return logx.LevelDebug
	case kind == stream.KindNetworkOrNavigation, kind == stream.KindTokenExpiredRefreshFailed:
		return logx.LevelWarn
	default:
		return logx.LevelError
	}
}
