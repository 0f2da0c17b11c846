package app

import (
	"strings"
	"time"

	"ferry/internal/config"
	"ferry/internal/executor"
	"ferry/internal/fsprobe"
	"ferry/internal/notifier"
	"ferry/internal/observability/pprof"
	"ferry/internal/storage"
	"ferry/internal/trigger"
	logx "ferry/pkg/logx"
)

// Mapping from the file config surface to per-component runtime configs.
// Duration strings are validated here so a bad value is caught at startup
// and on reload, never deep inside a component.

func mapLogging(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
	}
}

func mapStorage(c *config.StorageConfig) (storage.Config, error) {
	if c == nil {
		return storage.Config{Driver: "none"}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := strings.TrimSpace(c.Driver)
	if driver == "" {
		driver = "none"
	}
	return storage.Config{
		Driver:      driver,
		Path:        c.Path,
		BusyTimeout: busy,
	}, nil
}

func mapExecutor(c config.SchedulerConfig) (executor.Config, error) {
	minCheck, err := config.ParseDurationField("scheduler.min_check_interval", c.MinCheckInterval)
	if err != nil {
		return executor.Config{}, err
	}
	waitPoll, err := config.ParseDurationField("scheduler.wait_poll_interval", c.WaitPollInterval)
	if err != nil {
		return executor.Config{}, err
	}
	return executor.Config{
		MinCheckInterval: minCheck,
		WaitPollInterval: waitPoll,
		WaitMaxAttempts:  c.WaitMaxAttempts,
	}, nil
}

func mapProbe(c config.SchedulerConfig) (fsprobe.Config, error) {
	probe, err := config.ParseDurationField("scheduler.probe_timeout", c.ProbeTimeout)
	if err != nil {
		return fsprobe.Config{}, err
	}
	enum, err := config.ParseDurationField("scheduler.enumerate_timeout", c.EnumerateTimeout)
	if err != nil {
		return fsprobe.Config{}, err
	}
	return fsprobe.Config{
		ProbeTimeout:     probe,
		EnumerateTimeout: enum,
	}, nil
}

func mapTrigger(cfg *config.Config) (trigger.Config, error) {
	delay, err := config.ParseDurationOrDefault("scheduler.startup_delay",
		cfg.Scheduler.StartupDelay, 10*time.Second)
	if err != nil {
		return trigger.Config{}, err
	}
	return trigger.Config{
		StartupDelay: delay,
		TimerSpec:    strings.TrimSpace(cfg.Trigger.TimerSpec),
	}, nil
}

// mapNotifier resolves the pipeline config. A nil section means enabled with
// the log sink only.
func mapNotifier(c *config.NotifierConfig) (notifier.Config, error) {
	if c == nil {
		return notifier.Config{Enabled: true}, nil
	}
	retryBase, err := config.ParseDurationField("notifier.retry_base", c.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", c.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", c.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         c.Enabled,
		Workers:         c.Workers,
		QueueSize:       c.QueueSize,
		RatePerSec:      c.RatePerSec,
		RetryMax:        c.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedup,
		DedupMaxEntries: c.DedupMaxEntries,
	}, nil
}

func mapPprof(c *config.PprofConfig) (pprof.Config, error) {
	if c == nil {
		return pprof.Config{}, nil
	}
	read, err := config.ParseDurationField("pprof.read_timeout", c.ReadTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	idle, err := config.ParseDurationField("pprof.idle_timeout", c.IdleTimeout)
	if err != nil {
		return pprof.Config{}, err
	}
	return pprof.Config{
		Enabled:       c.Enabled,
		Addr:          c.Addr,
		Token:         c.Token,
		AllowInsecure: c.AllowInsecure,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}

// buildSinks assembles the notification channels: the log sink always, the
// Telegram sink when configured and enabled.
func buildSinks(c *config.NotifierConfig, log logx.Logger) ([]notifier.Sink, error) {
	sinks := []notifier.Sink{notifier.NewLogSink(log)}
	if c == nil || c.Telegram == nil || !c.Telegram.Enabled {
		return sinks, nil
	}
	tg, err := notifier.NewTelegramSink(notifier.TelegramConfig{
		Token:  c.Telegram.Token,
		ChatID: c.Telegram.ChatID,
	})
	if err != nil {
		return nil, err
	}
	return append(sinks, tg), nil
}
