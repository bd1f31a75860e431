package config

type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Checking CheckingConfig `json:"checking"`

	// Platforms is keyed by platform name ("twitch", "kick", "youtube" or a
	// custom scrape-only platform).
	Platforms map[string]PlatformConfig `json:"platforms,omitempty"`
	Scraper   ScraperConfig             `json:"scraper"`

	Notifier    *NotifierConfig   `json:"notifier,omitempty"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Debug       DebugConfig       `json:"debug,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// CheckingConfig holds the smart-checking tunables. Intervals are minutes
// (floats); other durations are Go duration strings.
//
// Defaults (when fields are omitted/zero):
//   - enabled: true
//   - online_interval_min: 1
//   - offline_interval_min: 3
//   - backoff_multiplier: 1.8
//   - backoff_max_min: 45
//   - jitter_percent: 20 (an explicit 0 disables jitter)
//   - grace_delay: "3s"
//   - check_timeout: "45s"
//   - parallelism: 4
type CheckingConfig struct {
	// Enabled is a pointer so an omitted key keeps the scheduler running.
	Enabled *bool `json:"enabled,omitempty"`

	OnlineIntervalMin  float64  `json:"online_interval_min,omitempty"`
	OfflineIntervalMin float64  `json:"offline_interval_min,omitempty"`
	BackoffMultiplier  float64  `json:"backoff_multiplier,omitempty"`
	BackoffMaxMin      float64  `json:"backoff_max_min,omitempty"`
	JitterPercent      *float64 `json:"jitter_percent,omitempty"`

	DisableOnlineChecks  bool `json:"disable_online_checks,omitempty"`
	ResetStatusOnStartup bool `json:"reset_status_on_startup,omitempty"`
	ResetStatusOnClose   bool `json:"reset_status_on_close,omitempty"`

	GraceDelay   string `json:"grace_delay,omitempty"`
	CheckTimeout string `json:"check_timeout,omitempty"`
	Parallelism  int    `json:"parallelism,omitempty"`
}

// PlatformConfig selects the check mode of a platform and carries its API
// credentials.
//
// Credentials are used in order: client_id+client_secret (OAuth2 client
// credentials), access_token (pasted, not refreshable), api_key.
type PlatformConfig struct {
	Mode string `json:"mode,omitempty"` // "api" | "scrape"

	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	AccessToken  string   `json:"access_token,omitempty"`
	APIKey       string   `json:"api_key,omitempty"`

	APIBaseURL string  `json:"api_base_url,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`

	// PageURL is a channel page template where "%s" is the username.
	// Required for custom platforms.
	PageURL string `json:"page_url,omitempty"`
}

type ScraperConfig struct {
	Enabled   bool   `json:"enabled"`
	UserAgent string `json:"user_agent,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true
// with only the log sender.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`

	Telegram *TelegramSenderConfig `json:"telegram,omitempty"`
	Webhook  *WebhookSenderConfig  `json:"webhook,omitempty"`
}

type TelegramSenderConfig struct {
	Enabled        bool   `json:"enabled"`
	Token          string `json:"token"`
	ChatID         int64  `json:"chat_id"`
	ThreadID       int    `json:"thread_id,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	APIURL         string `json:"api_url,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
}

type WebhookSenderConfig struct {
	Enabled bool              `json:"enabled"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout string            `json:"timeout,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./livewatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig schedules housekeeping jobs. Specs accept standard
// 5-field cron expressions, descriptors ("@daily") and "@every <duration>".
type MaintenanceConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	CompactSpec    string `json:"compact_spec,omitempty"`     // default "@every 6h"
	PruneSpec      string `json:"prune_spec,omitempty"`       // default "@daily"
	EventRetention string `json:"event_retention,omitempty"` // default "720h"
}

// DebugConfig controls the optional debug HTTP server (pprof, /metrics,
// /status).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// WriteTimeout defaults to 0 (disabled) so /profile works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// CheckingEnabled reports the effective scheduler switch.
func (c *Config) CheckingEnabled() bool {
	if c == nil || c.Checking.Enabled == nil {
		return true
	}
	return *c.Checking.Enabled
}
