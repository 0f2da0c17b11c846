// Package trigger turns external events into due-job checks. There is no
// periodic poll by default: the daemon wakes when something happens (startup,
// SIGUSR1, a committed config reload, an optional cron timer) and asks the
// executor to look for due jobs. Burst absorption lives in the executor's
// min-interval gate, so sources here fire freely.
package trigger

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"ferry/internal/eventbus"
	"ferry/internal/runtime/supervisor"
	logx "ferry/pkg/logx"
)

// Target is the slice of the executor the trigger needs.
type Target interface {
	CheckDueJobs(ctx context.Context)
}

type Config struct {
	// StartupDelay postpones the first check so storage load and mounts have
	// settled before jobs missed while the daemon was down start firing.
	StartupDelay time.Duration // default 10s

	// TimerSpec is an optional cron expression (standard 5-field or @every).
	// Empty disables the timer; every other source still works.
	TimerSpec string
}

func (c Config) withDefaults() Config {
	if c.StartupDelay <= 0 {
		c.StartupDelay = 10 * time.Second
	}
	return c
}

type Service struct {
	log    logx.Logger
	target Target
	bus    eventbus.Bus

	mu  sync.Mutex
	cfg Config

	wake chan struct{} // buffer 1; pending wakes coalesce

	sup     *supervisor.Supervisor
	timer   *cron.Cron
	unsub   func()
	sigCh   chan os.Signal
	started atomic.Bool
}

func New(cfg Config, target Target, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:    log.With(logx.String("comp", "trigger")),
		target: target,
		bus:    bus,
		cfg:    cfg.withDefaults(),
		wake:   make(chan struct{}, 1),
	}
}

// Start wires all wake sources and the pump loop. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if err := s.startTimer(cfg.TimerSpec); err != nil {
		s.started.Store(false)
		return err
	}

	// Pump: every wake collapses into one CheckDueJobs call.
	s.sup.GoRestart("trigger.pump", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.wake:
				s.target.CheckDueJobs(ctx)
			}
		}
	})

	// Startup check, after the settle delay.
	s.sup.Go("trigger.startup", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.StartupDelay):
			s.log.Debug("startup check", logx.Duration("delay", cfg.StartupDelay))
			s.Wake()
			return nil
		}
	})

	// SIGUSR1 is the daemon's poke-me signal.
	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, syscall.SIGUSR1)
	s.sup.Go("trigger.signal", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.sigCh:
				s.log.Info("wake signal received")
				s.Wake()
			}
		}
	})

	// Bus events: explicit wakes and committed config reloads.
	if s.bus != nil {
		events, unsub := s.bus.Subscribe(16)
		s.unsub = unsub
		s.sup.Go("trigger.bus", func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					switch ev.Type {
					case eventbus.TypeWake, eventbus.TypeConfigReload:
						s.Wake()
					}
				}
			}
		})
	}

	s.log.Info("trigger started",
		logx.Duration("startup_delay", cfg.StartupDelay),
		logx.Bool("timer", cfg.TimerSpec != ""))
	return nil
}

// Stop tears down the sources and waits for the pump to drain.
func (s *Service) Stop(ctx context.Context) error {
	if !s.started.CompareAndSwap(true, false) {
		return nil
	}
	if s.sigCh != nil {
		signal.Stop(s.sigCh)
	}
	if s.unsub != nil {
		s.unsub()
	}
	s.stopTimer()
	s.sup.Cancel()
	return s.sup.Wait(ctx)
}

// Wake requests a due-job check. Non-blocking; a wake that lands while one is
// already pending is absorbed.
func (s *Service) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Apply swaps the timer spec on config reload. Startup delay is start-time
// only and is left alone.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	changed := cfg.TimerSpec != s.cfg.TimerSpec
	s.cfg = cfg
	s.mu.Unlock()
	if !changed || !s.started.Load() {
		return nil
	}
	s.stopTimer()
	return s.startTimer(cfg.TimerSpec)
}

func (s *Service) startTimer(spec string) error {
	if spec == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, s.Wake); err != nil {
		return fmt.Errorf("timer spec %q: %w", spec, err)
	}
	c.Start()
	s.mu.Lock()
	s.timer = c
	s.mu.Unlock()
	s.log.Info("timer armed", logx.String("spec", spec))
	return nil
}

func (s *Service) stopTimer() {
	s.mu.Lock()
	c := s.timer
	s.timer = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
