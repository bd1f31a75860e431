package maintenance

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"livewatch/internal/eventbus"
	logx "livewatch/pkg/logx"
)

const (
	JobCompact = "compact"
	JobPrune   = "prune_events"

	DefaultCompactSpec    = "@every 6h"
	DefaultPruneSpec      = "@daily"
	DefaultEventRetention = 30 * 24 * time.Hour

	jobTimeout = 2 * time.Minute
)

// Store is the slice of storage.Store housekeeping needs.
type Store interface {
	Compact(ctx context.Context) error
	PruneEvents(ctx context.Context, before time.Time) (int, error)
}

type Config struct {
	Enabled        bool
	Location       *time.Location
	Compact        Spec
	Prune          Spec
	EventRetention time.Duration
}

// JobInfo is a point-in-time view of one job.
type JobInfo struct {
	Name     string
	Spec     string
	Next     time.Time
	LastRun  time.Time
	LastErr  string
	Runs     int
	Failures int
}

type jobState struct {
	spec     Spec
	entry    cron.EntryID
	lastRun  time.Time
	lastErr  string
	runs     int
	failures int
}

// Service runs housekeeping jobs on cron schedules. Overlapping runs of the
// same job are skipped.
type Service struct {
	mu    sync.Mutex
	cfg   Config
	store Store
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
	rng   *rand.Rand

	c    *cron.Cron
	ctx  context.Context
	jobs map[string]*jobState
}

func New(cfg Config, store Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   withDefaults(cfg),
		store: store,
		log:   log,
		bus:   bus,
		now:   time.Now,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		jobs:  map[string]*jobState{},
	}
}

func withDefaults(cfg Config) Config {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Compact == (Spec{}) {
		cfg.Compact, _ = ParseSpec(DefaultCompactSpec)
	}
	if cfg.Prune == (Spec{}) {
		cfg.Prune, _ = ParseSpec(DefaultPruneSpec)
	}
	if cfg.EventRetention <= 0 {
		cfg.EventRetention = DefaultEventRetention
	}
	return cfg
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Start registers the jobs and starts triggering. It is a no-op when
// disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil || !s.cfg.Enabled || s.store == nil {
		return nil
	}
	s.ctx = ctx

	clog := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.cfg.Location),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if err := s.registerLocked(c, JobCompact, s.cfg.Compact, s.runCompact); err != nil {
		return err
	}
	if err := s.registerLocked(c, JobPrune, s.cfg.Prune, s.runPrune); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("maintenance started",
		logx.String("tz", s.cfg.Location.String()),
		logx.String("compact", s.cfg.Compact.String()),
		logx.String("prune", s.cfg.Prune.String()),
		logx.Duration("retention", s.cfg.EventRetention),
	)
	return nil
}

func (s *Service) registerLocked(c *cron.Cron, name string, spec Spec, fn func(context.Context) (string, error)) error {
	sched, err := spec.schedule(s.now(), func(max time.Duration) time.Duration {
		return time.Duration(s.rng.Int63n(int64(max)))
	})
	if err != nil {
		return fmt.Errorf("maintenance %s: %w", name, err)
	}
	id := c.Schedule(sched, cron.FuncJob(func() { s.run(name, fn) }))
	st := s.jobs[name]
	if st == nil {
		st = &jobState{}
		s.jobs[name] = st
	}
	st.spec = spec
	st.entry = id
	return nil
}

// Stop stops triggering and waits for running jobs or ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("maintenance stopped")
}

// Apply swaps the config, restarting the cron when it was running.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = withDefaults(cfg)
	s.mu.Lock()
	running := s.c != nil
	s.mu.Unlock()

	if running {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		s.Stop(stopCtx)
		cancel()
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	if cfg.Enabled {
		return s.Start(ctx)
	}
	return nil
}

// RunNow runs a job synchronously, outside of its schedule.
func (s *Service) RunNow(ctx context.Context, name string) (string, error) {
	switch name {
	case JobCompact:
		return s.record(ctx, name, s.runCompact)
	case JobPrune:
		return s.record(ctx, name, s.runPrune)
	default:
		return "", fmt.Errorf("unknown maintenance job %q", name)
	}
}

func (s *Service) run(name string, fn func(context.Context) (string, error)) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()
	_, _ = s.record(ctx, name, fn)
}

func (s *Service) record(ctx context.Context, name string, fn func(context.Context) (string, error)) (string, error) {
	start := s.now()
	summary, err := fn(ctx)
	took := s.now().Sub(start)

	s.mu.Lock()
	st := s.jobs[name]
	if st == nil {
		st = &jobState{}
		s.jobs[name] = st
	}
	st.lastRun = start
	st.runs++
	st.lastErr = ""
	if err != nil {
		st.failures++
		st.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("maintenance job failed", logx.String("job", name), logx.Duration("took", took), logx.Err(err))
		return "", err
	}
	s.log.Info("maintenance job done", logx.String("job", name), logx.String("result", summary), logx.Duration("took", took))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeMaintenanceRan, Data: eventbus.MaintenanceRan{
			Job:    name,
			Result: summary,
			Took:   took,
		}})
	}
	return summary, nil
}

func (s *Service) runCompact(ctx context.Context) (string, error) {
	if err := s.store.Compact(ctx); err != nil {
		return "", err
	}
	return "compacted", nil
}

func (s *Service) runPrune(ctx context.Context) (string, error) {
	s.mu.Lock()
	retention := s.cfg.EventRetention
	s.mu.Unlock()
	n, err := s.store.PruneEvents(ctx, s.now().Add(-retention))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pruned %d events", n), nil
}

// Snapshot lists the jobs sorted by name.
func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for name, st := range s.jobs {
		ji := JobInfo{
			Name:     name,
			Spec:     st.spec.String(),
			LastRun:  st.lastRun,
			LastErr:  st.lastErr,
			Runs:     st.runs,
			Failures: st.failures,
		}
		if s.c != nil {
			ji.Next = s.c.Entry(st.entry).Next
		}
		out = append(out, ji)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
