package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Trigger   TriggerConfig   `json:"trigger,omitempty"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Pprof     *PprofConfig    `json:"pprof,omitempty"`
}

// PprofConfig controls the optional profiling HTTP server.
//
// Security: prefer a loopback addr (default "127.0.0.1:6060"). A
// non-loopback bind needs a token or an explicit allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer. Nil section means
// in-memory only.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./ferry_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig tunes the due-check cycle and the filesystem probes.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - max_jobs: 32
//   - min_check_interval: "5s"
//   - startup_delay: "10s"
//   - wait_poll_interval: "1s"
//   - wait_max_attempts: 600
//   - probe_timeout: "5s"
//   - enumerate_timeout: "30s"
type SchedulerConfig struct {
	MaxJobs          int    `json:"max_jobs,omitempty"`
	MinCheckInterval string `json:"min_check_interval,omitempty"`
	StartupDelay     string `json:"startup_delay,omitempty"`
	WaitPollInterval string `json:"wait_poll_interval,omitempty"`
	WaitMaxAttempts  int    `json:"wait_max_attempts,omitempty"`
	ProbeTimeout     string `json:"probe_timeout,omitempty"`
	EnumerateTimeout string `json:"enumerate_timeout,omitempty"`
}

// TriggerConfig holds the optional supplementary timer. Empty timer_spec
// keeps the daemon purely event-driven.
type TriggerConfig struct {
	// TimerSpec is a cron expression (standard 5-field or "@every 15m").
	TimerSpec string `json:"timer_spec,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings. If the whole section is omitted,
// the notifier defaults to enabled with the log sink only.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
}

// TelegramConfig configures the optional Telegram notification channel.
type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chat_id"`
}

// Validate checks cross-field constraints and every duration string. It is
// the default validator installed by the manager so a broken edit never
// reaches subscribers.
func (c *Config) Validate() error {
	for _, f := range []struct{ path, raw string }{
		{"scheduler.min_check_interval", c.Scheduler.MinCheckInterval},
		{"scheduler.startup_delay", c.Scheduler.StartupDelay},
		{"scheduler.wait_poll_interval", c.Scheduler.WaitPollInterval},
		{"scheduler.probe_timeout", c.Scheduler.ProbeTimeout},
		{"scheduler.enumerate_timeout", c.Scheduler.EnumerateTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if c.Scheduler.MaxJobs < 0 {
		return fmt.Errorf("scheduler.max_jobs: must be >= 0")
	}
	if c.Scheduler.WaitMaxAttempts < 0 {
		return fmt.Errorf("scheduler.wait_max_attempts: must be >= 0")
	}

	if s := c.Storage; s != nil {
		switch strings.TrimSpace(s.Driver) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if n := c.Notifier; n != nil {
		for _, f := range []struct{ path, raw string }{
			{"notifier.retry_base", n.RetryBase},
			{"notifier.retry_max_delay", n.RetryMaxDelay},
			{"notifier.dedup_window", n.DedupWindow},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
		if t := n.Telegram; t != nil && t.Enabled {
			if strings.TrimSpace(t.Token) == "" {
				return fmt.Errorf("notifier.telegram.token: required when enabled")
			}
			if t.ChatID == 0 {
				return fmt.Errorf("notifier.telegram.chat_id: required when enabled")
			}
		}
	}

	if p := c.Pprof; p != nil {
		for _, f := range []struct{ path, raw string }{
			{"pprof.read_timeout", p.ReadTimeout},
			{"pprof.idle_timeout", p.IdleTimeout},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}
	return nil
}
