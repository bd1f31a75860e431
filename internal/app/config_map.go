package app

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"livewatch/internal/checker"
	"livewatch/internal/config"
	"livewatch/internal/credential"
	"livewatch/internal/maintenance"
	"livewatch/internal/notify"
	"livewatch/internal/observability/debug"
	"livewatch/internal/scheduler"
	"livewatch/internal/smartcheck"
	"livewatch/internal/storage"
	"livewatch/internal/strategy"
	"livewatch/internal/stream"
	logx "livewatch/pkg/logx"
)

// Runtime is a validated config converted into the settings of each
// component. It never opens anything.
type Runtime struct {
	Log             logx.Config
	CheckingEnabled bool
	Scheduler       scheduler.Settings
	Checker         checker.Settings
	Strategy        strategy.Options
	Credentials     map[stream.Platform]credential.PlatformConfig
	Notify          notify.Config
	Telegram        *notify.TelegramConfig
	Webhook         *notify.WebhookSender
	Storage         storage.Config
	Maintenance     maintenance.Config
	Debug           debug.Config
}

// LoopEnabled reports whether the timer loop should run. Turning either
// checking or notifications off parks it; manual checks still work.
func (rt Runtime) LoopEnabled() bool { return rt.CheckingEnabled && rt.Notify.Enabled }

// MapConfig validates cfg and maps every section. The first invalid field
// is reported with its config path.
func MapConfig(cfg *config.Config) (Runtime, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	var (
		rt  Runtime
		err error
	)
	rt.Log = logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	}
	rt.CheckingEnabled = cfg.CheckingEnabled()

	if rt.Scheduler, err = mapSchedulerSettings(cfg.Checking); err != nil {
		return Runtime{}, err
	}
	if rt.Checker, rt.Strategy, rt.Credentials, err = mapPlatforms(cfg); err != nil {
		return Runtime{}, err
	}
	if rt.Notify, err = mapNotifierConfig(cfg); err != nil {
		return Runtime{}, err
	}
	if rt.Telegram, rt.Webhook, err = mapSenders(cfg.Notifier); err != nil {
		return Runtime{}, err
	}
	if rt.Storage, err = mapStorageConfig(cfg); err != nil {
		return Runtime{}, err
	}
	if rt.Maintenance, err = mapMaintenanceConfig(cfg.Maintenance); err != nil {
		return Runtime{}, err
	}
	if rt.Debug, err = mapDebugConfig(cfg.Debug); err != nil {
		return Runtime{}, err
	}
	return rt, nil
}

func mapSchedulerSettings(c config.CheckingConfig) (scheduler.Settings, error) {
	def := smartcheck.Default()
	p := smartcheck.Config{
		DisableOnlineChecks:  c.DisableOnlineChecks,
		ResetStatusOnStartup: c.ResetStatusOnStartup,
		ResetStatusOnClose:   c.ResetStatusOnClose,
		JitterPercent:        def.JitterPercent,
	}
	var err error
	if p.OnlineIntervalMin, err = config.MinutesOrDefault("checking.online_interval_min", c.OnlineIntervalMin, def.OnlineIntervalMin); err != nil {
		return scheduler.Settings{}, err
	}
	if p.OfflineIntervalMin, err = config.MinutesOrDefault("checking.offline_interval_min", c.OfflineIntervalMin, def.OfflineIntervalMin); err != nil {
		return scheduler.Settings{}, err
	}
	if p.BackoffMultiplier, err = config.MinutesOrDefault("checking.backoff_multiplier", c.BackoffMultiplier, def.BackoffMultiplier); err != nil {
		return scheduler.Settings{}, err
	}
	if p.BackoffMaxMin, err = config.MinutesOrDefault("checking.backoff_max_min", c.BackoffMaxMin, def.BackoffMaxMin); err != nil {
		return scheduler.Settings{}, err
	}
	if c.JitterPercent != nil {
		p.JitterPercent = *c.JitterPercent
	}
	if err := p.Validate(); err != nil {
		return scheduler.Settings{}, fmt.Errorf("checking: %w", err)
	}

	grace, err := config.ParseDurationOrDefault("checking.grace_delay", c.GraceDelay, scheduler.DefaultGraceDelay)
	if err != nil {
		return scheduler.Settings{}, err
	}
	return scheduler.Settings{Policy: p, GraceDelay: grace}, nil
}

func mapPlatforms(cfg *config.Config) (checker.Settings, strategy.Options, map[stream.Platform]credential.PlatformConfig, error) {
	var (
		cs    checker.Settings
		so    strategy.Options
		creds = map[stream.Platform]credential.PlatformConfig{}
		err   error
	)
	if cs.Timeout, err = config.ParseDurationField("checking.check_timeout", cfg.Checking.CheckTimeout); err != nil {
		return cs, so, nil, err
	}
	if cfg.Checking.Parallelism < 0 {
		return cs, so, nil, fmt.Errorf("checking.parallelism must be >= 0")
	}
	cs.Parallelism = cfg.Checking.Parallelism
	cs.Modes = map[stream.Platform]stream.Mode{}

	so.Scrape.Enabled = cfg.Scraper.Enabled
	so.Scrape.UserAgent = strings.TrimSpace(cfg.Scraper.UserAgent)
	if so.Scrape.Timeout, err = config.ParseDurationField("scraper.timeout", cfg.Scraper.Timeout); err != nil {
		return cs, so, nil, err
	}
	so.APITimeout = cs.Timeout
	so.Platforms = map[stream.Platform]strategy.PlatformOptions{}

	names := make([]string, 0, len(cfg.Platforms))
	for name := range cfg.Platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pc := cfg.Platforms[name]
		key := "platforms." + name
		p, err := stream.ParsePlatform(name)
		if err != nil {
			return cs, so, nil, fmt.Errorf("%s: %w", key, err)
		}
		_, builtin := strategy.PageURLs[p]
		if !builtin && strings.TrimSpace(pc.PageURL) == "" {
			return cs, so, nil, fmt.Errorf("%s.page_url is required for a custom platform", key)
		}
		if pc.PageURL != "" && !strings.Contains(pc.PageURL, "%s") {
			return cs, so, nil, fmt.Errorf("%s.page_url must contain %%s", key)
		}
		if strings.TrimSpace(pc.Mode) != "" {
			m, err := stream.ParseMode(pc.Mode)
			if err != nil {
				return cs, so, nil, fmt.Errorf("%s.mode: %w", key, err)
			}
			if m == stream.ModeAPI && !builtin {
				return cs, so, nil, fmt.Errorf("%s.mode: api is not available for custom platforms", key)
			}
			cs.Modes[p] = m
		}
		if pc.RatePerSec < 0 || pc.Burst < 0 {
			return cs, so, nil, fmt.Errorf("%s: rate_per_sec and burst must be >= 0", key)
		}
		so.Platforms[p] = strategy.PlatformOptions{
			APIBaseURL: strings.TrimRight(strings.TrimSpace(pc.APIBaseURL), "/"),
			RatePerSec: pc.RatePerSec,
			Burst:      pc.Burst,
			PageURL:    strings.TrimSpace(pc.PageURL),
		}
		creds[p] = credential.PlatformConfig{
			ClientID:     strings.TrimSpace(pc.ClientID),
			ClientSecret: strings.TrimSpace(pc.ClientSecret),
			TokenURL:     strings.TrimSpace(pc.TokenURL),
			Scopes:       pc.Scopes,
			AccessToken:  strings.TrimSpace(pc.AccessToken),
			APIKey:       strings.TrimSpace(pc.APIKey),
		}
	}
	return cs, so, creds, nil
}

// mapNotifierConfig fills pipeline defaults. An omitted section means
// enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notify.Config, error) {
	out := notify.Config{
		Enabled:         true,
		Workers:         2,
		QueueSize:       256,
		RatePerSec:      3,
		RetryMax:        3,
		RetryBase:       500 * time.Millisecond,
		RetryMaxDelay:   10 * time.Second,
		SendTimeout:     15 * time.Second,
		DedupWindow:     10 * time.Minute,
		DedupMaxEntries: 2000,
	}
	if cfg == nil || cfg.Notifier == nil {
		return out, nil
	}
	n := cfg.Notifier
	out.Enabled = n.Enabled
	out.PersistDedup = n.PersistDedup

	if n.Workers < 0 {
		return notify.Config{}, fmt.Errorf("notifier.workers must be >= 0")
	}
	if n.QueueSize < 0 {
		return notify.Config{}, fmt.Errorf("notifier.queue_size must be >= 0")
	}
	if n.RatePerSec < 0 {
		return notify.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if n.RetryMax < 0 {
		return notify.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	if n.DedupMaxEntries < 0 {
		return notify.Config{}, fmt.Errorf("notifier.dedup_max_entries must be >= 0")
	}
	if n.Workers != 0 {
		out.Workers = n.Workers
	}
	if n.QueueSize != 0 {
		out.QueueSize = n.QueueSize
	}
	if n.RatePerSec != 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax != 0 {
		out.RetryMax = n.RetryMax
	}
	if n.DedupMaxEntries != 0 {
		out.DedupMaxEntries = n.DedupMaxEntries
	}

	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return notify.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return notify.Config{}, err
	}
	if out.SendTimeout, err = config.ParseDurationOrDefault("notifier.send_timeout", n.SendTimeout, out.SendTimeout); err != nil {
		return notify.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, out.DedupWindow); err != nil {
		return notify.Config{}, err
	}
	return out, nil
}

func mapSenders(n *config.NotifierConfig) (*notify.TelegramConfig, *notify.WebhookSender, error) {
	if n == nil {
		return nil, nil, nil
	}
	var (
		tg *notify.TelegramConfig
		wh *notify.WebhookSender
	)
	if t := n.Telegram; t != nil && t.Enabled {
		if strings.TrimSpace(t.Token) == "" {
			return nil, nil, fmt.Errorf("notifier.telegram.token is required when enabled")
		}
		if t.ChatID == 0 {
			return nil, nil, fmt.Errorf("notifier.telegram.chat_id is required when enabled")
		}
		timeout, err := config.ParseDurationField("notifier.telegram.timeout", t.Timeout)
		if err != nil {
			return nil, nil, err
		}
		tg = &notify.TelegramConfig{
			Token:          strings.TrimSpace(t.Token),
			ChatID:         t.ChatID,
			ThreadID:       t.ThreadID,
			DisablePreview: t.DisablePreview,
			APIURL:         strings.TrimSpace(t.APIURL),
			Timeout:        timeout,
		}
	}
	if w := n.Webhook; w != nil && w.Enabled {
		u := strings.TrimSpace(w.URL)
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return nil, nil, fmt.Errorf("notifier.webhook.url must be an http(s) URL")
		}
		timeout, err := config.ParseDurationOrDefault("notifier.webhook.timeout", w.Timeout, 10*time.Second)
		if err != nil {
			return nil, nil, err
		}
		wh = &notify.WebhookSender{URL: u, Headers: w.Headers, Client: &http.Client{Timeout: timeout}}
	}
	return tg, wh, nil
}

// mapStorageConfig defaults to the in-memory store when the section is
// omitted.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		if path == "" {
			path = "./livewatch_store"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapMaintenanceConfig(mc config.MaintenanceConfig) (maintenance.Config, error) {
	out := maintenance.Config{Enabled: mc.Enabled}
	if tz := strings.TrimSpace(mc.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return out, fmt.Errorf("maintenance.timezone: invalid %q: %w", tz, err)
		}
		out.Location = loc
	}
	var err error
	if s := strings.TrimSpace(mc.CompactSpec); s != "" {
		if out.Compact, err = maintenance.ParseSpec(s); err != nil {
			return out, fmt.Errorf("maintenance.compact_spec: %w", err)
		}
	}
	if s := strings.TrimSpace(mc.PruneSpec); s != "" {
		if out.Prune, err = maintenance.ParseSpec(s); err != nil {
			return out, fmt.Errorf("maintenance.prune_spec: %w", err)
		}
	}
	if out.EventRetention, err = config.ParseDurationField("maintenance.event_retention", mc.EventRetention); err != nil {
		return out, err
	}
	return out, nil
}

func mapDebugConfig(dc config.DebugConfig) (debug.Config, error) {
	out := debug.Config{
		Enabled:              dc.Enabled,
		Addr:                 dc.Addr,
		Prefix:               dc.Prefix,
		Token:                dc.Token,
		AllowInsecure:        dc.AllowInsecure,
		MutexProfileFraction: dc.MutexProfileFraction,
		BlockProfileRate:     dc.BlockProfileRate,
		MemProfileRate:       dc.MemProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 5*time.Second); err != nil {
		return out, err
	}
	// 0 keeps /profile usable
	if out.WriteTimeout, err = config.ParseDurationField("debug.write_timeout", dc.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 120*time.Second); err != nil {
		return out, err
	}
	if err := out.Validate(); err != nil {
		return out, err
	}
	return out, nil
}
