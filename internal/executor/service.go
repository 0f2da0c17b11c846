// Package executor runs due jobs against the shared transfer engine, one at
// a time. A cycle is: take the re-entrancy guard, list due jobs in ascending
// next-run order, and walk them sequentially; each job is verified (engine
// idle, profile present, source exists, destination writable), enumerated,
// handed to the engine, and waited on within a fixed bound. Any failure in
// one job is contained to that job; the rest of the cycle proceeds.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"ferry/internal/eventbus"
	"ferry/internal/fsprobe"
	"ferry/internal/notifier"
	"ferry/internal/profile"
	"ferry/internal/schedule"
	"ferry/internal/storage"
	"ferry/internal/transfer"
	logx "ferry/pkg/logx"
)

// Profiles is the slice of the profile registry the executor needs.
type Profiles interface {
	Get(id string) (profile.Profile, bool)
	MarkUsed(ctx context.Context, id string)
}

// Notifier delivers outcome notifications. Delivery failures stay inside the
// notifier; the executor only logs the advisory error.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

type Service struct {
	log      logx.Logger
	cfg      Config
	jobs     *schedule.Registry
	profiles Profiles
	probe    fsprobe.Prober
	engine   transfer.Resource
	notify   Notifier
	store    storage.Store // run log; may be nil
	bus      eventbus.Bus

	// guard is the re-entrancy flag: one check/execute cycle at a time.
	guard atomic.Bool
	state atomic.Int32

	checkMu   sync.Mutex
	lastCheck time.Time

	// now is swapped in tests.
	now func() time.Time
}

func New(cfg Config, jobs *schedule.Registry, profiles Profiles, probe fsprobe.Prober,
	engine transfer.Resource, notify Notifier, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:      log.With(logx.String("comp", "executor")),
		cfg:      cfg.withDefaults(),
		jobs:     jobs,
		profiles: profiles,
		probe:    probe,
		engine:   engine,
		notify:   notify,
		store:    store,
		bus:      bus,
		now:      time.Now,
	}
}

func (s *Service) State() State { return State(s.state.Load()) }

// Apply swaps the cycle tunables on config reload. Takes effect from the
// next cycle; a cycle already in flight finishes on the old values it read.
func (s *Service) Apply(cfg Config) {
	s.checkMu.Lock()
	s.cfg = cfg.withDefaults()
	s.checkMu.Unlock()
}

func (s *Service) config() Config {
	s.checkMu.Lock()
	defer s.checkMu.Unlock()
	return s.cfg
}

// CheckDueJobs runs one check/execute cycle. It returns immediately (without
// error) when a cycle is already in flight or the previous check began less
// than MinCheckInterval ago; trigger sources call this blindly and often.
func (s *Service) CheckDueJobs(ctx context.Context) {
	if !s.guard.CompareAndSwap(false, true) {
		s.log.Debug("check skipped: cycle in flight")
		return
	}
	defer s.guard.Store(false)
	defer s.state.Store(int32(StateIdle))

	now := s.now()
	s.checkMu.Lock()
	if !s.lastCheck.IsZero() && now.Sub(s.lastCheck) < s.cfg.MinCheckInterval {
		s.checkMu.Unlock()
		s.log.Debug("check skipped: inside min interval")
		return
	}
	s.lastCheck = now
	s.checkMu.Unlock()

	s.state.Store(int32(StateChecking))
	due := s.jobs.ListDueAsOf(now)
	if len(due) == 0 {
		return
	}
	s.log.Info("due jobs found", logx.Int("count", len(due)))

	for i := range due {
		// Re-verify the engine is free before every job (and after every
		// completed wait). If something else owns it, the remaining due jobs
		// stay due and will retry on the next cycle; they are not marked run.
		if s.engine.State().IsBusy() {
			s.log.Warn("transfer engine busy; deferring remaining due jobs",
				logx.Int("remaining", len(due)-i))
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.runJob(ctx, due[i])
	}
}

// RunNow executes one explicitly chosen job immediately, bypassing due-time
// gating and the min-interval gate but honoring both the re-entrancy guard
// and the busy-engine guard.
func (s *Service) RunNow(ctx context.Context, id string) error {
	j, ok := s.jobs.Get(id)
	if !ok {
		return schedule.ErrNotFound
	}
	if !s.guard.CompareAndSwap(false, true) {
		return ErrCheckActive
	}
	defer s.guard.Store(false)
	defer s.state.Store(int32(StateIdle))

	if s.engine.State().IsBusy() {
		return ErrResourceBusy
	}
	s.log.Info("manual run", logx.String("job", id))
	s.runJob(ctx, j)
	return nil
}

// runJob performs steps 2-7 for one job. Every exit path marks the job run:
// whatever happened, the job must not re-trigger on the very next wake.
// Panics are contained here so one broken job never aborts the cycle.
func (s *Service) runJob(ctx context.Context, j schedule.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic while running job",
				logx.String("job", j.ID), logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			s.finishJob(ctx, j, OutcomeFailed, fmt.Sprintf("internal error: %v", r), 0, 0)
		}
	}()

	s.state.Store(int32(StateRunningJob))
	start := s.now()
	log := s.log.With(logx.String("job", j.ID), logx.String("profile", j.ProfileID))

	// Resolve the profile. A deleted profile is an expected condition, not a
	// crash: report it and move on.
	prof, ok := s.profiles.Get(j.ProfileID)
	if !ok {
		log.Warn("profile missing")
		s.finishJob(ctx, j, OutcomeProfileMissing, "referenced profile no longer exists", 0, 0)
		return
	}

	// Preconditions, each within its probe bound.
	exists, err := s.probe.PathExists(ctx, prof.SourcePath)
	if err != nil || !exists {
		detail := "source path does not exist"
		if err != nil {
			detail = fmt.Sprintf("source probe failed: %v", err)
		}
		log.Warn("source missing", logx.String("path", prof.SourcePath), logx.Err(err))
		s.finishJob(ctx, j, OutcomeSourceMissing, detail, 0, 0)
		return
	}
	writable, err := s.probe.IsWritable(ctx, prof.DestPath)
	if err != nil || !writable {
		detail := "destination not writable"
		if err != nil {
			detail = fmt.Sprintf("destination probe failed: %v", err)
		}
		log.Warn("destination not writable", logx.String("path", prof.DestPath), logx.Err(err))
		s.finishJob(ctx, j, OutcomePermissionDenied, detail, 0, 0)
		return
	}

	// Build the work set. An empty source is a successful no-op, not a
	// failure; the engine is never started for it.
	units, err := s.probe.Enumerate(ctx, prof.SourcePath)
	if err != nil {
		log.Warn("enumeration failed", logx.Err(err))
		s.finishJob(ctx, j, OutcomeEnumerateFailed, fmt.Sprintf("enumerate: %v", err), 0, 0)
		return
	}
	if len(units) == 0 {
		log.Info("source empty; nothing to transfer")
		s.finishJob(ctx, j, OutcomeEmptySource, "", 0, 0)
		return
	}
	var totalBytes int64
	for _, u := range units {
		if !u.IsDir {
			totalBytes += u.Size
		}
	}

	// Hand off to the engine.
	s.engine.Reset()
	s.engine.SetSource(prof.SourcePath)
	s.engine.SetDest(prof.DestPath)
	s.engine.SetWorkUnits(units)
	s.engine.ApplyOptions(prof.Options)
	if err := s.engine.Start(); err != nil {
		log.Error("engine start failed", logx.Err(err))
		s.finishJob(ctx, j, OutcomeFailed, fmt.Sprintf("start: %v", err), len(units), totalBytes)
		return
	}

	if _, err := s.jobs.MarkRun(ctx, j.ID); err != nil {
		log.Warn("mark run failed", logx.Err(err))
	}
	s.profiles.MarkUsed(ctx, prof.ID)
	s.recordRun(ctx, j, OutcomeStarted, "", len(units), totalBytes, s.now().Sub(start))
	s.emit(ctx, j, notifier.SeverityInfo,
		fmt.Sprintf("Transfer starting: %s", prof.Name),
		fmt.Sprintf("%d items, %s -> %s", len(units), prof.SourcePath, prof.DestPath),
		OutcomeStarted)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobStarted, Data: j.ID})
	}
	log.Info("transfer started", logx.Int("units", len(units)), logx.Int64("bytes", totalBytes))

	// Wait for the engine to leave its busy states, within the bound. Past
	// the bound we abandon the wait and continue; exclusion beyond it is
	// best-effort by contract.
	s.state.Store(int32(StateWaiting))
	if !s.waitForCompletion(ctx) {
		cfg := s.config()
		log.Warn("completion wait bound exhausted; continuing",
			logx.Duration("poll", cfg.WaitPollInterval), logx.Int("attempts", cfg.WaitMaxAttempts))
	}
	s.state.Store(int32(StateRunningJob))
}

// waitForCompletion polls the engine state cooperatively. Returns false when
// the attempt bound (or ctx) expired with the engine still busy.
func (s *Service) waitForCompletion(ctx context.Context) bool {
	if !s.engine.State().IsBusy() {
		return true
	}
	cfg := s.config()
	ticker := time.NewTicker(cfg.WaitPollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < cfg.WaitMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if !s.engine.State().IsBusy() {
				return true
			}
		}
	}
	return false
}

// finishJob is the terminal path for jobs that never reached the engine (or
// failed at start): mark run, write the run log, notify.
func (s *Service) finishJob(ctx context.Context, j schedule.Job, outcome, detail string, units int, bytes int64) {
	if _, err := s.jobs.MarkRun(ctx, j.ID); err != nil {
		s.log.Warn("mark run failed", logx.String("job", j.ID), logx.Err(err))
	}
	s.recordRun(ctx, j, outcome, detail, units, bytes, 0)

	sev := notifier.SeverityWarn
	title := fmt.Sprintf("Transfer skipped: %s", outcome)
	switch outcome {
	case OutcomeEmptySource:
		sev = notifier.SeverityInfo
		title = "Transfer skipped: source empty"
	case OutcomeFailed:
		sev = notifier.SeverityError
		title = "Transfer failed"
	}
	s.emit(ctx, j, sev, title, detail, outcome)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeJobOutcome, Data: outcome})
	}
}

func (s *Service) recordRun(ctx context.Context, j schedule.Job, outcome, detail string, units int, bytes int64, took time.Duration) {
	if s.store == nil {
		return
	}
	rec := storage.RunRecord{
		At:         s.now(),
		JobID:      j.ID,
		ProfileID:  j.ProfileID,
		Outcome:    outcome,
		Detail:     detail,
		Took:       took,
		WorkUnits:  units,
		TotalBytes: bytes,
	}
	if err := s.store.AppendRun(ctx, rec); err != nil {
		s.log.Warn("run log append failed", logx.Err(err))
	}
}

func (s *Service) emit(ctx context.Context, j schedule.Job, sev notifier.Severity, title, body, outcome string) {
	if s.notify == nil {
		return
	}
	err := s.notify.Notify(ctx, notifier.Notification{
		Title:    title,
		Body:     body,
		Severity: sev,
		Key:      fmt.Sprintf("job:%s:%s", j.ID, outcome),
	})
	if err != nil {
		s.log.Debug("notification not accepted", logx.Err(err))
	}
}
