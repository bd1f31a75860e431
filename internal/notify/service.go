package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"livewatch/internal/eventbus"
	"livewatch/internal/metrics"
	"livewatch/internal/runtime/supervisor"
	"livewatch/internal/storage"
	"livewatch/internal/stream"
	"livewatch/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Sender delivers one notification to one destination.
type Sender interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Service queues live notifications and delivers them from a worker pool.
// It is safe for concurrent use.
type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	store   storage.DedupStore
	metrics *metrics.Metrics

	seen *dedupCache
	hist historyRing

	// enqueued counts Notify calls that passed the intake check; Stop waits
	// for them before closing the queue.
	enqueued sync.WaitGroup

	mu       sync.Mutex
	cfg      Config
	limiter  *rate.Limiter
	senders  []Sender
	run      *pipeline
	stopping chan struct{}
}

// pipeline is the state of one Start..Stop cycle.
type pipeline struct {
	queue     chan Notification
	persistCh chan dedupWrite
	sup       *supervisor.Supervisor
	accepting bool
}

// tuning is a consistent read of the mutable settings.
type tuning struct {
	cfg       Config
	limiter   *rate.Limiter
	senders   []Sender
	persist   bool
	persistCh chan dedupWrite
}

func New(cfg Config, senders []Sender, log logx.Logger, bus eventbus.Bus, store storage.DedupStore, m *metrics.Metrics) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log.With(logx.String("comp", "notifier")),
		bus:     bus,
		store:   store,
		metrics: m,
		seen:    newDedupCache(),
		senders: senders,
	}
	s.setConfig(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps pipeline tuning. Queue size and worker count take effect on
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfig(cfg)
}

// SetSenders replaces the destinations used by subsequent deliveries.
func (s *Service) SetSenders(senders []Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senders = append([]Sender(nil), senders...)
}

func (s *Service) setConfig(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Burst equals the per-second rate so a small spike goes out at once.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) snapshot() tuning {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := tuning{cfg: s.cfg, limiter: s.limiter, senders: s.senders, persist: s.cfg.PersistDedup}
	if s.run != nil {
		t.persistCh = s.run.persistCh
	}
	return t
}

// Start launches the workers. It is idempotent and a no-op while disabled.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !s.awaitStop(ctx) {
		return
	}

	s.mu.Lock()
	if s.run != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	p := &pipeline{
		queue:     make(chan Notification, s.cfg.QueueSize),
		sup:       supervisor.New(ctx, supervisor.WithLogger(s.log)),
		accepting: true,
	}
	if s.cfg.PersistDedup && s.store != nil {
		p.persistCh = make(chan dedupWrite, 256)
	}
	workers := s.cfg.Workers
	s.run = p
	s.mu.Unlock()

	if p.persistCh != nil {
		p.sup.GoRestart("dedup.persist", func(c context.Context) error {
			return s.loopExit(c, s.persistLoop(c, p.persistCh))
		}, supervisor.WithPublishFirstError(true))
	}
	for i := range workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.loopExit(c, s.workerLoop(c, p.queue))
		}, supervisor.WithPublishFirstError(true))
	}
	s.log.Debug("notifier started", logx.Int("workers", workers))
}

// awaitStop blocks while a previous Stop is still draining. It reports false
// when ctx ends first.
func (s *Service) awaitStop(ctx context.Context) bool {
	s.mu.Lock()
	done := s.stopping
	s.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// loopExit maps a loop return to the supervisor: closed input and shutdown
// are clean, anything else restarts the loop.
func (s *Service) loopExit(ctx context.Context, closed bool) error {
	s.mu.Lock()
	stopping := s.stopping != nil
	s.mu.Unlock()
	switch {
	case closed || stopping:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return errors.New("notifier loop exited unexpectedly")
	}
}

// Stop closes intake and drains the queue until ctx ends; then the workers
// are cancelled.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	p := s.run
	if p == nil {
		s.mu.Unlock()
		return
	}
	if s.stopping != nil {
		s.mu.Unlock()
		s.awaitStop(ctx)
		return
	}
	done := make(chan struct{})
	s.stopping = done
	p.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.enqueued.Wait()
		close(p.queue)
		if p.persistCh != nil {
			close(p.persistCh)
		}
		_ = p.sup.Wait(context.Background())
		s.mu.Lock()
		s.run, s.stopping = nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.sup.Cancel()
	}
}

// ShowLive implements NotificationSink.
func (s *Service) ShowLive(ctx context.Context, account stream.Account, title string) {
	err := s.Notify(ctx, NewNotification(account, title, time.Now()))
	switch {
	case err == nil:
	case errors.Is(err, ErrDisabled):
		s.log.Debug("notification skipped", logx.String("account", account.ID), logx.Err(err))
	default:
		s.log.Warn("notification not queued", logx.String("account", account.ID), logx.Err(err))
	}
}

// Notify queues n unless its key is inside the dedup window. A suppressed
// notification is not an error.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	s.mu.Lock()
	switch {
	case !s.cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case s.run == nil || !s.run.accepting:
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.run.queue
	s.enqueued.Add(1)
	s.mu.Unlock()
	defer s.enqueued.Done()

	t := s.snapshot()
	ev := NotificationEvent{AccountID: n.AccountID, Key: n.Key()}
	if t.cfg.DedupWindow > 0 && !s.admit(ctx, ev.Key, t) {
		s.publish(eventbus.TypeNotifyDeduped, ev)
		return nil
	}

	select {
	case q <- n:
		s.publish(eventbus.TypeNotifyQueued, ev)
		return nil
	default:
		ev.Error = ErrQueueFull.Error()
		s.publish(eventbus.TypeNotifyDropped, ev)
		return ErrQueueFull
	}
}

func (s *Service) publish(typ string, ev NotificationEvent) {
	if s.bus == nil {
		return
	}
	ev.At = time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// History returns recent deliveries, oldest first.
func (s *Service) History() []HistoryItem { return s.hist.list() }

// Supervisor is exposed for /status (nil when not started).
func (s *Service) Supervisor() *supervisor.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.sup
}
