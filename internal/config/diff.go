package config

import (
	"reflect"
	"sort"
	"strings"

	logx "livewatch/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Secrets (tokens, client secrets, API keys)
// are never included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Checking, newCfg.Checking) {
		changed = append(changed, "checking")
		c := newCfg.Checking
		attrs = append(attrs,
			logx.Bool("checking.enabled", newCfg.CheckingEnabled()),
			logx.Float64("checking.online_interval_min", c.OnlineIntervalMin),
			logx.Float64("checking.offline_interval_min", c.OfflineIntervalMin),
			logx.Float64("checking.backoff_multiplier", c.BackoffMultiplier),
			logx.Float64("checking.backoff_max_min", c.BackoffMaxMin),
			logx.Bool("checking.disable_online_checks", c.DisableOnlineChecks),
			logx.String("checking.grace_delay", strings.TrimSpace(c.GraceDelay)),
		)
	}

	if names := diffPlatforms(oldCfg.Platforms, newCfg.Platforms); len(names) > 0 {
		changed = append(changed, "platforms")
		attrs = append(attrs, logx.String("platforms.changed", strings.Join(names, ",")))
		for _, name := range names {
			p := newCfg.Platforms[name]
			attrs = append(attrs,
				logx.String("platforms."+name+".mode", p.Mode),
				logx.Bool("platforms."+name+".credentials_set", platformHasCredentials(p)),
			)
		}
	}

	if !reflect.DeepEqual(oldCfg.Scraper, newCfg.Scraper) {
		changed = append(changed, "scraper")
		attrs = append(attrs,
			logx.Bool("scraper.enabled", newCfg.Scraper.Enabled),
			logx.String("scraper.timeout", strings.TrimSpace(newCfg.Scraper.Timeout)),
		)
	}

	oldN, newN := derefNotifier(oldCfg.Notifier), derefNotifier(newCfg.Notifier)
	if (oldCfg.Notifier == nil) != (newCfg.Notifier == nil) || !reflect.DeepEqual(oldN, newN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.present", newCfg.Notifier != nil),
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.workers", newN.Workers),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Bool("notifier.persist_dedup", newN.PersistDedup),
			logx.Bool("notifier.telegram_enabled", newN.Telegram != nil && newN.Telegram.Enabled),
			logx.Bool("notifier.webhook_enabled", newN.Webhook != nil && newN.Webhook.Enabled),
		)
	}

	var oDriver, nDriver, oBusy, nBusy, oPath, nPath string
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPath = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path)
	}
	if oDriver != nDriver || oBusy != nBusy || oPath != nPath {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	if !reflect.DeepEqual(oldCfg.Maintenance, newCfg.Maintenance) {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", newCfg.Maintenance.Enabled),
			logx.String("maintenance.compact_spec", newCfg.Maintenance.CompactSpec),
			logx.String("maintenance.prune_spec", newCfg.Maintenance.PruneSpec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
			logx.Bool("debug.allow_insecure", newCfg.Debug.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}

func platformHasCredentials(p PlatformConfig) bool {
	return strings.TrimSpace(p.ClientSecret) != "" ||
		strings.TrimSpace(p.AccessToken) != "" ||
		strings.TrimSpace(p.APIKey) != ""
}

func diffPlatforms(oldM, newM map[string]PlatformConfig) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		o, oOK := oldM[name]
		n, nOK := newM[name]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
