// Package app assembles the daemon: config manager, logging, storage, the
// job and profile registries, the transfer engine, the notifier pipeline,
// the executor and its trigger sources. Start/Stop run components in
// dependency order; the config reload loop re-applies live tunables.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ferry/internal/config"
	"ferry/internal/eventbus"
	"ferry/internal/executor"
	"ferry/internal/fsprobe"
	"ferry/internal/notifier"
	"ferry/internal/observability/pprof"
	"ferry/internal/profile"
	"ferry/internal/runtime/supervisor"
	"ferry/internal/schedule"
	"ferry/internal/storage"
	"ferry/internal/transfer"
	"ferry/internal/trigger"
	logx "ferry/pkg/logx"
)

// StopReason tags why the daemon is going down; it ends up in the final log
// lines and nowhere else.
type StopReason string

const (
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	jobs     *schedule.Registry
	profiles *profile.Registry
	engine   *transfer.Sim
	notif    *notifier.Service
	exec     *executor.Service
	trig     *trigger.Service
	prof     *pprof.Service
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLogging(cfg.Logging))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(logSvc.Logger())

	bus := eventbus.New()

	// Storage (optional; driver "none" yields a nil store).
	storeCfg, err := mapStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", storeCfg.Driver))
	}

	jobs := schedule.NewRegistry(cfg.Scheduler.MaxJobs, store,
		logSvc.Logger().With(logx.String("comp", "schedule")))
	profiles := profile.NewRegistry(store,
		logSvc.Logger().With(logx.String("comp", "profile")))

	probeCfg, err := mapProbe(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	probe := fsprobe.New(probeCfg, logSvc.Logger().With(logx.String("comp", "fsprobe")))

	engine := transfer.NewSim(0, logSvc.Logger().With(logx.String("comp", "transfer")))

	ncfg, err := mapNotifier(cfg.Notifier)
	if err != nil {
		return nil, err
	}
	sinks, err := buildSinks(cfg.Notifier, logSvc.Logger())
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, sinks, logSvc.Logger().With(logx.String("comp", "notifier")), bus)

	execCfg, err := mapExecutor(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	exec := executor.New(execCfg, jobs, profiles, probe, engine, notif, store, bus, logSvc.Logger())

	trigCfg, err := mapTrigger(cfg)
	if err != nil {
		return nil, err
	}
	trig := trigger.New(trigCfg, exec, bus, logSvc.Logger())

	pprofCfg, err := mapPprof(cfg.Pprof)
	if err != nil {
		return nil, err
	}
	prof := pprof.New(pprofCfg, logSvc.Logger())

	return &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		jobs:     jobs,
		profiles: profiles,
		engine:   engine,
		notif:    notif,
		exec:     exec,
		trig:     trig,
		prof:     prof,
	}, nil
}

// Jobs exposes the job registry for operational surfaces (tests, future CLI).
func (a *App) Jobs() *schedule.Registry { return a.jobs }

// Profiles exposes the profile registry.
func (a *App) Profiles() *profile.Registry { return a.profiles }

// Executor exposes the executor, e.g. for RunNow.
func (a *App) Executor() *executor.Service { return a.exec }

// Done is closed when the app supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.FirstError()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// Persistence first: both registries must be warm before anything can
	// fire. Load recalculates every NextRun from the current clock.
	if err := a.jobs.Load(runCtx); err != nil {
		return err
	}
	if err := a.profiles.Load(runCtx); err != nil {
		return err
	}

	if a.notif.Enabled() {
		a.notif.Start(runCtx)
	}
	if err := a.trig.Start(runCtx); err != nil {
		return err
	}
	if a.prof.Enabled() {
		a.prof.Start(runCtx)
	}

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})

	a.log.Info("app started")
	return nil
}

// reloadLoop applies committed config updates to the live components.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest snapshot matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
					continue
				default:
				}
				break
			}

			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, no effective changes")
				continue
			}
			a.applyReload(ctx, newCfg, sections)

			fields := append([]logx.Field{
				logx.String("changed", strings.Join(sections, ",")),
			}, attrs...)
			a.log.Info("config reloaded", fields...)

			// Changed schedules or tunables may make jobs due right now.
			a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReload})
		}
	}
}

func (a *App) applyReload(ctx context.Context, cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogging(cfg.Logging))

		case "storage":
			// Swapping drivers live would orphan open handles.
			a.log.Warn("storage config changed; restart required to take effect")

		case "scheduler":
			a.jobs.SetMaxJobs(cfg.Scheduler.MaxJobs)
			if execCfg, err := mapExecutor(cfg.Scheduler); err != nil {
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
			} else {
				a.exec.Apply(execCfg)
			}
			// Probe timeouts and startup delay are start-time only.

		case "trigger":
			if trigCfg, err := mapTrigger(cfg); err != nil {
				a.log.Warn("invalid trigger config; keeping previous", logx.Err(err))
			} else if err := a.trig.Apply(trigCfg); err != nil {
				a.log.Warn("trigger reconfigure failed", logx.Err(err))
			}

		case "notifier":
			prevEnabled := a.notif.Enabled()
			ncfg, err := mapNotifier(cfg.Notifier)
			if err != nil {
				a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
				continue
			}
			a.notif.Apply(ncfg)
			switch {
			case prevEnabled && !ncfg.Enabled:
				a.log.Info("notifier disabled via config")
				stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				a.notif.Stop(stopCtx)
				cancel()
			case !prevEnabled && ncfg.Enabled:
				a.log.Info("notifier enabled via config")
				a.notif.Start(ctx)
			}
			// Sink set changes (e.g. enabling Telegram) need a restart; the
			// pipeline tunables above apply live.

		case "pprof":
			if ppc, err := mapPprof(cfg.Pprof); err != nil {
				a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
			} else {
				a.prof.Reconfigure(ctx, ppc)
			}
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Bound every shutdown step so one component cannot stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	// Trigger first so no new cycles start, then the notifier (drains its
	// queue), then storage.
	step("trigger", 2*time.Second, func(c context.Context) error { return a.trig.Stop(c) })
	step("pprof", time.Second, func(c context.Context) error { a.prof.Stop(c); return nil })
	step("notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
