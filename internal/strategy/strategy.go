// Package strategy implements the interchangeable "is this account live"
// checks: an authenticated, rate-limited API call or a scrape of the
// platform's channel page. Strategies are looked up in a Registry keyed by
// (platform, mode).
package strategy

import (
	"context"
	"sort"
	"sync"

	"livewatch/internal/stream"
)

// Strategy checks one username. Implementations own a lazily created session
// which they drop after a transport failure; Reset drops it explicitly.
//
// A strategy is not required to be safe for concurrent Check calls.
type Strategy interface {
	Check(ctx context.Context, username string) (stream.CheckResult, error)
	Reset()
}

type Key struct {
	Platform stream.Platform
	Mode     stream.Mode
}

func (k Key) String() string { return string(k.Platform) + "/" + string(k.Mode) }

// Registry is the dispatch table. It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex
	m  map[Key]Strategy
}

func NewRegistry() *Registry {
	return &Registry{m: map[Key]Strategy{}}
}

func (r *Registry) Register(platform stream.Platform, mode stream.Mode, s Strategy) {
	if s == nil {
		return
	}
	r.mu.Lock()
	r.m[Key{Platform: platform, Mode: mode}] = s
	r.mu.Unlock()
}

func (r *Registry) Lookup(platform stream.Platform, mode stream.Mode) (Strategy, bool) {
	r.mu.RLock()
	s, ok := r.m[Key{Platform: platform, Mode: mode}]
	r.mu.RUnlock()
	return s, ok
}

// Platforms lists platforms with at least one registered strategy.
func (r *Registry) Platforms() []stream.Platform {
	r.mu.RLock()
	seen := map[stream.Platform]bool{}
	for k := range r.m {
		seen[k.Platform] = true
	}
	r.mu.RUnlock()
	out := make([]stream.Platform, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResetAll drops every strategy session.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.m {
		s.Reset()
	}
}
