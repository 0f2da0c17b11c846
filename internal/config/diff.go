package config

import (
	"reflect"
	"sort"
	"strings"

	logx "ferry/pkg/logx"
)

// SummarizeChange returns the list of changed sections plus safe structured
// attrs for logging. Secrets (the Telegram token) are reported presence-only.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if storageChanged(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver, pathSet := "", false
		if newCfg.Storage != nil {
			driver = strings.TrimSpace(newCfg.Storage.Driver)
			pathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
		}
		attrs = append(attrs,
			logx.String("storage.driver", driver),
			logx.Bool("storage.path_set", pathSet),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.max_jobs", newCfg.Scheduler.MaxJobs),
			logx.String("scheduler.min_check_interval", newCfg.Scheduler.MinCheckInterval),
			logx.Int("scheduler.wait_max_attempts", newCfg.Scheduler.WaitMaxAttempts),
		)
	}

	if oldCfg.Trigger != newCfg.Trigger {
		changed = append(changed, "trigger")
		attrs = append(attrs, logx.Bool("trigger.timer_set", newCfg.Trigger.TimerSpec != ""))
	}

	if notifierChanged(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		n := newCfg.Notifier
		if n == nil {
			n = &NotifierConfig{Enabled: true}
		}
		tgEnabled, tokenSet := false, false
		if n.Telegram != nil {
			tgEnabled = n.Telegram.Enabled
			tokenSet = strings.TrimSpace(n.Telegram.Token) != ""
		}
		attrs = append(attrs,
			logx.Bool("notifier.enabled", n.Enabled),
			logx.Int("notifier.workers", n.Workers),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Bool("notifier.telegram_enabled", tgEnabled),
			logx.Bool("notifier.telegram_token_set", tokenSet),
		)
	}

	if pprofChanged(oldCfg.Pprof, newCfg.Pprof) {
		changed = append(changed, "pprof")
		enabled, addr, tokenSet := false, "", false
		if newCfg.Pprof != nil {
			enabled = newCfg.Pprof.Enabled
			addr = strings.TrimSpace(newCfg.Pprof.Addr)
			tokenSet = strings.TrimSpace(newCfg.Pprof.Token) != ""
		}
		attrs = append(attrs,
			logx.Bool("pprof.enabled", enabled),
			logx.String("pprof.addr", addr),
			logx.Bool("pprof.token_set", tokenSet),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func pprofChanged(o, n *PprofConfig) bool {
	if (o == nil) != (n == nil) {
		return true
	}
	if o == nil {
		return false
	}
	return *o != *n
}

func storageChanged(o, n *StorageConfig) bool {
	if (o == nil) != (n == nil) {
		return true
	}
	if o == nil {
		return false
	}
	return *o != *n
}

func notifierChanged(o, n *NotifierConfig) bool {
	if (o == nil) != (n == nil) {
		return true
	}
	if o == nil {
		return false
	}
	return !reflect.DeepEqual(*o, *n)
}
