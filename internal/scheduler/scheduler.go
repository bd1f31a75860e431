package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"livewatch/internal/eventbus"
	"livewatch/internal/metrics"
	"livewatch/internal/smartcheck"
	"livewatch/internal/storage"
	"livewatch/internal/stream"
	"livewatch/pkg/logx"
)

// storeRetryDelay throttles re-planning after the store failed, so a broken
// store cannot turn the loop into a busy spin.
const storeRetryDelay = 5 * time.Second

type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Trigger names why a cycle ran.
const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"
	TriggerResume = "resume"
)

// Store is the slice of the account store the scheduler needs.
type Store interface {
	ListAccounts(ctx context.Context) ([]stream.Account, error)
	UpdateAccount(ctx context.Context, id string, p stream.Patch) (stream.Account, error)
}

// StatusChecker must return exactly one outcome per account, in order.
type StatusChecker interface {
	Check(ctx context.Context, accounts []stream.Account) []stream.Outcome
}

// Gate receives outcomes and the aggregate any-live flag.
type Gate interface {
	Observe(ctx context.Context, outcomes []stream.Outcome) int
	SetAnyLive(live bool) bool
	AnyLive() bool
}

type Options struct {
	Store   Store
	Checker StatusChecker
	Gate    Gate
	Config  ConfigSource

	// Optional.
	Events  storage.EventLog
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	Log     logx.Logger
	Rand    smartcheck.Rand
	Now     func() time.Time
}

// CycleSummary describes the last completed cycle.
type CycleSummary struct {
	Trigger     string        `json:"trigger"`
	At          time.Time     `json:"at"`
	Took        time.Duration `json:"took"`
	Checked     int           `json:"checked"`
	Live        int           `json:"live"`
	WentLive    int           `json:"went_live"`
	Failed      int           `json:"failed"`
	StoreErrors int           `json:"store_errors"`
}

type Snapshot struct {
	State     State        `json:"state"`
	Enabled   bool         `json:"enabled"`
	AnyLive   bool         `json:"any_live"`
	NextWake  time.Time    `json:"next_wake,omitempty"`
	Pending   int          `json:"pending"`
	LastCycle CycleSummary `json:"last_cycle"`
}

type Scheduler struct {
	store   Store
	checker StatusChecker
	gate    Gate
	config  ConfigSource
	events  storage.EventLog
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger
	now     func() time.Time

	// cycleMu serializes cycles; rng is only used under it.
	cycleMu sync.Mutex
	rng     smartcheck.Rand

	kick chan struct{}

	mu        sync.Mutex
	state     State
	enabled   bool
	forceFull bool
	pending   map[string]time.Time
	nextWake  time.Time
	last      CycleSummary
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil || opts.Checker == nil || opts.Gate == nil || opts.Config == nil {
		return nil, errors.New("scheduler: store, checker, gate and config are required")
	}
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{
		store:   opts.Store,
		checker: opts.Checker,
		gate:    opts.Gate,
		config:  opts.Config,
		events:  opts.Events,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		log:     log.With(logx.String("comp", "scheduler")),
		now:     now,
		rng:     rng,
		kick:    make(chan struct{}, 1),
		state:   StateIdle,
		enabled: true,
		pending: map[string]time.Time{},
	}, nil
}

// Start launches the loop. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.Run(rctx)
	}()
}

// Stop cancels the timer and waits for the loop to exit or ctx to end. An
// in-flight cycle sees its context canceled and is abandoned without
// persisting partial results.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Kick wakes the loop for a fresh decision (config change, new account).
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// SetEnabled pauses or resumes the loop. Pausing disarms the timer entirely;
// resuming runs an immediate check of every enabled account.
func (s *Scheduler) SetEnabled(v bool) {
	s.mu.Lock()
	if v && !s.enabled {
		s.forceFull = true
	}
	s.enabled = v
	s.mu.Unlock()
	s.log.Info("scheduler enabled changed", logx.Bool("enabled", v))
	s.Kick()
}

func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		State:     s.state,
		Enabled:   s.enabled,
		AnyLive:   s.gate.AnyLive(),
		NextWake:  s.nextWake,
		Pending:   len(s.pending),
		LastCycle: s.last,
	}
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run is the loop. It returns when ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer func() {
		stopTimer(timer)
		s.mu.Lock()
		s.state = StateStopped
		s.nextWake = time.Time{}
		s.mu.Unlock()
		s.log.Info("scheduler stopped")
	}()
	s.log.Info("scheduler started")

	for ctx.Err() == nil {
		s.mu.Lock()
		enabled := s.enabled
		full := s.forceFull
		s.forceFull = false
		if !enabled {
			s.state = StatePaused
			s.nextWake = time.Time{}
		}
		s.mu.Unlock()

		if !enabled {
			if !s.wait(ctx, timer, 0) {
				return
			}
			continue
		}

		accounts, err := s.store.ListAccounts(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.StoreError()
			s.log.Error("list accounts failed", logx.Err(err))
			if !s.wait(ctx, timer, storeRetryDelay) {
				return
			}
			continue
		}

		if full {
			var all []stream.Account
			for _, a := range accounts {
				if a.Enabled {
					all = append(all, a)
				}
			}
			s.runCycle(ctx, TriggerResume, all)
			continue
		}

		settings := s.config.Settings()
		now := s.now()
		s.mu.Lock()
		d := Plan(now, accounts, settings, s.pending)
		s.mu.Unlock()

		if len(d.Due) > 0 {
			sum := s.runCycle(ctx, TriggerTimer, d.Due)
			if sum.StoreErrors > 0 && !s.wait(ctx, timer, storeRetryDelay) {
				return
			}
			continue
		}

		delay := d.NextWake.Sub(now)
		if delay < 0 {
			delay = 0
		}
		s.mu.Lock()
		s.state = StateIdle
		s.nextWake = d.NextWake
		s.mu.Unlock()
		s.log.Debug("timer armed",
			logx.Time("next_wake", d.NextWake),
			logx.Duration("in", delay),
			logx.Int("enabled", d.Enabled),
			logx.Int("parked", d.Parked),
		)
		if !s.wait(ctx, timer, delay) {
			return
		}
	}
}

// wait blocks until the timer fires, a kick arrives or ctx ends. A zero
// delay waits for a kick only. It reports false when ctx ended.
func (s *Scheduler) wait(ctx context.Context, timer *time.Timer, delay time.Duration) bool {
	var fire <-chan time.Time
	if delay > 0 {
		timer.Reset(delay)
		fire = timer.C
	}
	select {
	case <-ctx.Done():
		stopTimer(timer)
		return false
	case <-fire:
		return true
	case <-s.kick:
		stopTimer(timer)
		return true
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// CheckNow runs a manual cycle over the given accounts (all enabled accounts
// when ids is empty). Disabled accounts are never checked.
func (s *Scheduler) CheckNow(ctx context.Context, ids ...string) ([]stream.Outcome, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	byID := make(map[string]stream.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	var batch []stream.Account
	if len(ids) == 0 {
		for _, a := range accounts {
			if a.Enabled {
				batch = append(batch, a)
			}
		}
	} else {
		for _, id := range ids {
			a, ok := byID[id]
			if !ok {
				return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
			}
			if a.Enabled {
				batch = append(batch, a)
			}
		}
	}

	out := s.RunCheckCycle(ctx, batch)
	s.Kick()
	return out, nil
}

// RunCheckCycle checks the accounts, persists their new schedules, fires
// live notifications and refreshes the aggregate flag.
func (s *Scheduler) RunCheckCycle(ctx context.Context, accounts []stream.Account) []stream.Outcome {
	out, _ := s.cycle(ctx, TriggerManual, accounts)
	return out
}

func (s *Scheduler) runCycle(ctx context.Context, trigger string, accounts []stream.Account) CycleSummary {
	_, sum := s.cycle(ctx, trigger, accounts)
	return sum
}

// reload replaces the caller's copies with the stored accounts. Batches are
// read before cycleMu is held, so a cycle that finished in between may have
// moved an account on; checking the old copy would repeat its transition.
// Accounts that are gone, disabled or unreadable are dropped.
func (s *Scheduler) reload(ctx context.Context, accounts []stream.Account) ([]stream.Account, int) {
	out := accounts[:0:0]
	failed := 0
	for _, a := range accounts {
		cur, err := s.store.GetAccount(ctx, a.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			continue
		case err != nil:
			failed++
			s.metrics.StoreError()
			s.log.Error("reload account failed", logx.String("account", a.ID), logx.Err(err))
			continue
		case !cur.Enabled:
			continue
		}
		out = append(out, cur)
	}
	return out, failed
}

func (s *Scheduler) cycle(ctx context.Context, trigger string, accounts []stream.Account) ([]stream.Outcome, CycleSummary) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.now()
	sum := CycleSummary{Trigger: trigger, At: start}
	accounts, sum.StoreErrors = s.reload(ctx, accounts)
	sum.Checked = len(accounts)
	if len(accounts) == 0 {
		return nil, sum
	}

	s.mu.Lock()
	prev := s.state
	s.state = StateRunning
	s.mu.Unlock()
	defer s.setState(prev)

	log := s.log.With(logx.String("trigger", trigger))
	log.Debug("cycle started", logx.Int("accounts", len(accounts)))

	outcomes := s.checker.Check(ctx, accounts)
	if ctx.Err() != nil {
		// Shutdown mid-cycle: results are partial, keep the stored state.
		log.Debug("cycle abandoned", logx.Err(ctx.Err()))
		return outcomes, sum
	}

	policy := s.config.Settings().Policy
	now := s.now()
	for _, o := range outcomes {
		if o.IsLive {
			sum.Live++
		}
		if o.Failed() {
			sum.Failed++
		}
		sched := smartcheck.ComputeSchedule(o.Account, o, policy, now, s.rng)
		if _, err := s.store.UpdateAccount(ctx, o.Account.ID, stream.ObservationPatch(o, now, sched)); err != nil {
			sum.StoreErrors++
			s.metrics.StoreError()
			log.Error("persist account failed", logx.String("account", o.Account.ID), logx.Err(err))
		}
		if o.JustWentLive {
			s.recordLive(ctx, o, now)
		}
	}

	sum.WentLive = s.gate.Observe(ctx, outcomes)
	s.refreshAnyLive(ctx)

	sum.Took = s.now().Sub(start)
	s.mu.Lock()
	s.last = sum
	s.mu.Unlock()

	s.metrics.ObserveCycle(trigger, sum.Took)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleCompleted, Time: now, Data: eventbus.CycleCompleted{
			Trigger: trigger,
			Checked: sum.Checked,
			Live:    sum.Live,
			Failed:  sum.Failed,
			Took:    sum.Took,
		}})
	}
	log.Debug("cycle finished",
		logx.Int("checked", sum.Checked),
		logx.Int("live", sum.Live),
		logx.Int("went_live", sum.WentLive),
		logx.Int("failed", sum.Failed),
		logx.Duration("took", sum.Took),
	)
	return outcomes, sum
}

func (s *Scheduler) recordLive(ctx context.Context, o stream.Outcome, at time.Time) {
	if s.events != nil {
		if err := s.events.AppendEvent(ctx, storage.EventFromAccount(o.Account, o.Title, at)); err != nil {
			s.log.Warn("append live event failed", logx.String("account", o.Account.ID), logx.Err(err))
		}
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeAccountLive, Time: at, Data: eventbus.AccountLive{
			AccountID:   o.Account.ID,
			Platform:    string(o.Account.Platform),
			Username:    o.Account.Username,
			DisplayName: o.Account.Name(),
			Title:       o.Title,
		}})
	}
}

// refreshAnyLive ORs the live status of every enabled account, not just the
// ones checked in this cycle. The flag is left alone if the store cannot be
// read.
func (s *Scheduler) refreshAnyLive(ctx context.Context) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		s.log.Warn("list accounts for aggregate failed", logx.Err(err))
		return
	}
	n := 0
	for _, a := range accounts {
		if a.Enabled && a.LastStatus == stream.StatusLive {
			n++
		}
	}
	s.metrics.SetLiveAccounts(n)
	s.gate.SetAnyLive(n > 0)
}
