package notify

import (
	"context"
	"slices"
	"sync"
	"time"
)

const dedupStoreTimeout = 250 * time.Millisecond

type dedupWrite struct {
	key   string
	until time.Time
}

// dedupCache holds suppression deadlines per notification key.
type dedupCache struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedupCache() *dedupCache {
	return &dedupCache{until: make(map[string]time.Time)}
}

func (c *dedupCache) suppressed(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Before(c.until[key])
}

// remember records key and prunes: expired keys go first, then the keys
// closest to expiry until at most max remain.
func (c *dedupCache) remember(key string, until, now time.Time, max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[key] = until
	for k, u := range c.until {
		if !now.Before(u) {
			delete(c.until, k)
		}
	}
	if max <= 0 || len(c.until) <= max {
		return
	}
	keys := make([]string, 0, len(c.until))
	for k := range c.until {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int { return c.until[a].Compare(c.until[b]) })
	for _, k := range keys[:len(keys)-max] {
		delete(c.until, k)
	}
}

func (c *dedupCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.until)
}

// admit decides whether a notification with key may be queued now. An
// admitted key is suppressed for window and, when persistence is on, handed
// to the persist loop so a restart keeps honoring it.
func (s *Service) admit(ctx context.Context, key string, t tuning) bool {
	now := time.Now()
	if s.seen.suppressed(key, now) {
		return false
	}
	if t.persist && s.store != nil {
		if until, ok := s.persistedUntil(ctx, key); ok && now.Before(until) {
			s.seen.remember(key, until, now, t.cfg.DedupMaxEntries)
			return false
		}
	}

	until := now.Add(t.cfg.DedupWindow)
	s.seen.remember(key, until, now, t.cfg.DedupMaxEntries)
	if t.persistCh != nil {
		select {
		case t.persistCh <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// persistedUntil is best effort; store errors read as "not suppressed".
func (s *Service) persistedUntil(ctx context.Context, key string) (time.Time, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx, cancel := context.WithTimeout(ctx, dedupStoreTimeout)
	defer cancel()
	until, ok, err := s.store.GetDedup(cctx, key)
	if err != nil {
		return time.Time{}, false
	}
	return until, ok
}
