package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"livewatch/internal/checker"
	"livewatch/internal/config"
	"livewatch/internal/credential"
	"livewatch/internal/eventbus"
	"livewatch/internal/maintenance"
	"livewatch/internal/metrics"
	"livewatch/internal/notify"
	"livewatch/internal/observability/debug"
	"livewatch/internal/runtime/supervisor"
	"livewatch/internal/scheduler"
	"livewatch/internal/storage"
	"livewatch/internal/strategy"
	"livewatch/internal/stream"
	logx "livewatch/pkg/logx"
	"livewatch/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	metrics *metrics.Metrics
	creds   *credential.Manager
	checker *checker.Checker
	gate    *notify.Gate
	notif   *notify.Service
	sched   *scheduler.Scheduler
	maint   *maintenance.Service
	debug   *debug.Server

	settings     atomic.Pointer[scheduler.Settings]
	resetOnClose atomic.Bool
	started      time.Time
}

// New loads the config and builds every component without starting any
// background work.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rt, err := MapConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, root := logx.New(rt.Log)
	log := root.With(logx.String("comp", "app"))

	a := &App{
		cfgm: cfgm,
		log:  log,
		logs: logSvc,
		bus:  eventbus.New(),
	}
	a.settings.Store(&rt.Scheduler)
	a.resetOnClose.Store(rt.Scheduler.Policy.ResetStatusOnClose)

	if a.metrics, err = metrics.New(); err != nil {
		return nil, err
	}
	if a.store, err = storage.Open(rt.Storage, root); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", rt.Storage.Driver))

	a.creds = credential.NewManager(rt.Credentials, nil, root.With(logx.String("comp", "credentials")))
	a.checker = checker.New(a.buildRegistry(rt), rt.Checker, root, a.metrics)

	a.notif = notify.New(rt.Notify, a.buildSenders(rt, root), root, a.bus, a.store, a.metrics)
	a.gate = notify.NewGate(a.notif, root, notify.BusAggregate{Bus: a.bus}, a.metrics)

	a.sched, err = scheduler.New(scheduler.Options{
		Store:   a.store,
		Checker: a.checker,
		Gate:    a.gate,
		Config:  a,
		Events:  a.store,
		Bus:     a.bus,
		Metrics: a.metrics,
		Log:     root,
	})
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}
	a.sched.SetEnabled(rt.LoopEnabled())

	a.maint = maintenance.New(rt.Maintenance, a.store, root.With(logx.String("comp", "maintenance")), a.bus)
	a.debug = debug.New(rt.Debug, a.metrics.Handler(), a.Status, root.With(logx.String("comp", "debug")))
	return a, nil
}

// Settings implements scheduler.ConfigSource; it always reflects the last
// applied config.
func (a *App) Settings() scheduler.Settings { return *a.settings.Load() }

func (a *App) Store() storage.Store              { return a.store }
func (a *App) Scheduler() *scheduler.Scheduler   { return a.sched }
func (a *App) Notifier() *notify.Service         { return a.notif }
func (a *App) Maintenance() *maintenance.Service { return a.maint }
func (a *App) Logger() logx.Logger               { return a.log }

func (a *App) buildRegistry(rt Runtime) *strategy.Registry {
	opts := rt.Strategy
	opts.Credentials = a.creds
	return strategy.Build(opts)
}

func (a *App) buildSenders(rt Runtime, log logx.Logger) []notify.Sender {
	senders := []notify.Sender{notify.LogSender{Log: log.With(logx.String("comp", "notify.log"))}}
	if rt.Telegram != nil {
		tg, err := notify.NewTelegramSender(*rt.Telegram)
		if err != nil {
			log.Warn("telegram sender disabled", logx.Err(err))
		} else {
			senders = append(senders, tg)
		}
	}
	if rt.Webhook != nil {
		senders = append(senders, rt.Webhook)
	}
	return senders
}

// Done is closed when the app supervisor context ends.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if a.Settings().Policy.ResetStatusOnStartup {
		n, err := a.resetAll(runCtx)
		if err != nil {
			return fmt.Errorf("reset status on startup: %w", err)
		}
		a.log.Info("account status reset on startup", logx.Int("accounts", n))
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		_, err := MapConfig(cfg)
		return err
	})

	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	}
	a.sched.Start(runCtx)
	if err := a.maint.Start(runCtx); err != nil {
		return err
	}
	if cfg, err := MapConfig(a.cfgm.Get()); err == nil {
		a.debug.Reconfigure(runCtx, cfg.Debug)
	}

	a.sup.Go("eventbus.log", a.logEvents)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(ctx context.Context) error {
		if err := systemd.Watchdog(ctx); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
		return nil
	})

	if ok, err := systemd.Ready("watching"); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// resetAll clears status and schedule of every account.
func (a *App) resetAll(ctx context.Context) (int, error) {
	accounts, err := a.store.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, acc := range accounts {
		if _, err := a.store.UpdateAccount(ctx, acc.ID, stream.ResetPatch()); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", acc.ID, err))
		}
	}
	return len(accounts) - len(errs), errors.Join(errs...)
}

func (a *App) logEvents(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Coalesce bursts.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, cfg)
			last = cfg
		}
	}
}

// applyConfig pushes a validated config into the running components. The
// scheduler picks the new settings up at its next decision; an in-flight
// cycle is never interrupted.
func (a *App) applyConfig(ctx context.Context, prev, cfg *config.Config) {
	rt, err := MapConfig(cfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	_, _ = systemd.Reloading()
	defer func() { _, _ = systemd.Ready("watching") }()

	sections, attrs := config.SummarizeConfigChange(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(rt.Log)
		case "checking":
			a.settings.Store(&rt.Scheduler)
			a.resetOnClose.Store(rt.Scheduler.Policy.ResetStatusOnClose)
			a.checker.Configure(rt.Checker)
			a.sched.SetEnabled(rt.LoopEnabled())
		case "platforms", "scraper":
			a.creds.Apply(rt.Credentials)
			a.checker.Configure(rt.Checker)
			a.checker.SetRegistry(a.buildRegistry(rt))
		case "notifier":
			wasEnabled := a.notif.Enabled()
			a.notif.Apply(rt.Notify)
			a.notif.SetSenders(a.buildSenders(rt, a.log))
			switch {
			case wasEnabled && !rt.Notify.Enabled:
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !wasEnabled && rt.Notify.Enabled:
				a.notif.Start(ctx)
			}
			// With notifications off the loop stops outright; turning them
			// back on resumes with a check of every enabled account.
			a.sched.SetEnabled(rt.LoopEnabled())
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "maintenance":
			if err := a.maint.Apply(ctx, rt.Maintenance); err != nil {
				a.log.Warn("maintenance reconfigure failed", logx.Err(err))
			}
		case "debug":
			a.debug.Reconfigure(ctx, rt.Debug)
		}
	}
	// Wake the loop so the next decision uses the new settings.
	a.sched.Kick()
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: sections})

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// CheckOnce runs one manual cycle with the notifier running, then drains
// it. Used by the one-shot CLI check.
func (a *App) CheckOnce(ctx context.Context, ids ...string) ([]stream.Outcome, error) {
	if a.notif.Enabled() {
		a.notif.Start(ctx)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		}()
	}
	return a.sched.CheckNow(ctx, ids...)
}

// Close releases resources of an app that was never started.
func (a *App) Close() error {
	err := a.store.Close()
	a.logs.Close()
	return err
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	a.sup.Cancel()

	a.step(ctx, "scheduler", 3*time.Second, a.sched.Stop)
	a.step(ctx, "maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.resetOnClose.Load() {
		a.step(ctx, "reset", 2*time.Second, func(c context.Context) error {
			n, err := a.resetAll(c)
			a.log.Info("account status reset on close", logx.Int("accounts", n))
			return err
		})
	}
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// step runs one shutdown step bounded by max and the caller's deadline. A
// step that overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
