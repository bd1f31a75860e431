package notify

import (
	"context"
	"math/rand"
	"slices"
	"sync"
	"time"

	"livewatch/internal/eventbus"
	"livewatch/pkg/logx"
)

// persistLoop reports whether it exited because ch was closed.
func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case w, ok := <-ch:
			if !ok {
				return true
			}
			cctx, cancel := context.WithTimeout(ctx, dedupStoreTimeout)
			err := s.store.PutDedup(cctx, w.key, w.until)
			cancel()
			if err != nil {
				s.log.Debug("dedup persist failed", logx.String("key", w.key), logx.Err(err))
			}
		}
	}
}

// workerLoop reports whether it exited because q was closed.
func (s *Service) workerLoop(ctx context.Context, q <-chan Notification) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-q:
			if !ok {
				return true
			}
			t := s.snapshot()
			for _, snd := range t.senders {
				if ctx.Err() != nil {
					return false
				}
				s.deliverTo(ctx, t, snd, n)
			}
		}
	}
}

// deliverTo sends n through snd, retrying up to RetryMax times. Cancellation
// ends the attempt silently; exhausting retries is reported.
func (s *Service) deliverTo(ctx context.Context, t tuning, snd Sender, n Notification) {
	name := snd.Name()
	var err error
	for attempt := 1; ; attempt++ {
		if t.limiter != nil {
			if werr := t.limiter.Wait(ctx); werr != nil {
				return
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, t.cfg.SendTimeout)
		err = snd.Send(callCtx, n)
		cancel()
		if err == nil {
			s.hist.add(HistoryItem{At: time.Now(), Sender: name, Text: n.Text()})
			s.metrics.ObserveDelivery(name, true)
			s.publish(eventbus.TypeNotifySent, NotificationEvent{Sender: name, AccountID: n.AccountID, Key: n.Key()})
			return
		}
		s.log.Debug("notify send failed",
			logx.String("sender", name), logx.Int("attempt", attempt), logx.Err(err))
		if attempt > t.cfg.RetryMax {
			break
		}
		if !sleepCtx(ctx, retryDelay(t.cfg, attempt)) {
			return
		}
	}

	s.metrics.ObserveDelivery(name, false)
	s.log.Warn("notification delivery failed",
		logx.String("sender", name),
		logx.String("account", n.AccountID),
		logx.Err(err),
	)
	s.publish(eventbus.TypeNotifyFailed, NotificationEvent{Sender: name, AccountID: n.AccountID, Key: n.Key(), Error: err.Error()})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// retryDelay is the wait after a failed attempt: RetryBase doubled per
// attempt, jittered to 70..130% and never above RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryMaxDelay
	if shift := attempt - 1; shift >= 0 && shift < 32 {
		if grown := cfg.RetryBase << shift; grown > 0 && grown < d {
			d = grown
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(d, cfg.RetryMaxDelay)
}

// historyRing keeps the newest deliveries for /status.
type historyRing struct {
	mu    sync.Mutex
	items []HistoryItem
}

const historyLimit = 300

func (h *historyRing) add(it HistoryItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, it)
	if over := len(h.items) - historyLimit; over > 0 {
		h.items = slices.Delete(h.items, 0, over)
	}
}

func (h *historyRing) list() []HistoryItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.items)
}
