// Package schedule owns the scheduled-job registry: CRUD with a fixed
// capacity, next-run bookkeeping, and the due-job query the executor runs
// against. All mutations persist through storage.Store (when configured) and
// recompute NextRun via the recurrence package.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ferry/internal/recurrence"
	"ferry/internal/storage"
	logx "ferry/pkg/logx"
)

type Registry struct {
	log     logx.Logger
	store   storage.Store // nil = in-memory only
	maxJobs int

	// now is swapped in tests for deterministic calendars.
	now func() time.Time

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewRegistry(maxJobs int, store storage.Store, log logx.Logger) *Registry {
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobs
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		log:     log,
		store:   store,
		maxJobs: maxJobs,
		now:     time.Now,
		jobs:    map[string]*Job{},
	}
}

// SetMaxJobs adjusts the capacity on config reload. Shrinking below the
// current size never evicts; it only blocks further Adds.
func (r *Registry) SetMaxJobs(n int) {
	if n <= 0 {
		n = DefaultMaxJobs
	}
	r.mu.Lock()
	r.maxJobs = n
	r.mu.Unlock()
}

// Load pulls persisted jobs from the store and recalculates every NextRun.
// Persisted next-run values are never trusted: stale snapshots and clock
// changes must not leave a job permanently stuck.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}

	r.mu.Lock()
	r.jobs = make(map[string]*Job, len(recs))
	for _, rec := range recs {
		j := jobFromRecord(rec)
		if j.ID == "" {
			continue
		}
		r.jobs[j.ID] = &j
	}
	n := len(r.jobs)
	r.recalcAllLocked(r.now())
	r.persistLocked(ctx)
	r.mu.Unlock()

	r.log.Info("jobs loaded", logx.Int("count", n))
	return nil
}

// Add validates and stores a new job. It fails with ErrCapacity when the
// registry is full (state unchanged) and ErrInvalid on malformed specs.
func (r *Registry) Add(ctx context.Context, spec Spec) (Job, error) {
	if err := validateSpec(spec); err != nil {
		return Job{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.jobs) >= r.maxJobs {
		return Job{}, ErrCapacity
	}

	now := r.now()
	j := &Job{
		ID:         uuid.NewString(),
		ProfileID:  spec.ProfileID,
		Enabled:    spec.Enabled,
		Kind:       spec.Kind,
		Hour:       spec.Hour,
		Minute:     spec.Minute,
		Weekday:    spec.Weekday,
		DayOfMonth: spec.DayOfMonth,
		Date:       spec.Date,
		CreatedAt:  now,
	}
	j.NextRun = nextRunOf(*j, now)
	r.jobs[j.ID] = j
	r.persistLocked(ctx)
	r.log.Info("job added",
		logx.String("job", j.ID), logx.String("kind", string(j.Kind)),
		logx.String("profile", j.ProfileID))
	return *j, nil
}

// Update applies a partial patch. NextRun is recomputed only when a
// scheduling-relevant field is present in the patch.
func (r *Registry) Update(ctx context.Context, id string, p Patch) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}

	next := *j
	if p.ProfileID != nil {
		next.ProfileID = *p.ProfileID
	}
	if p.Enabled != nil {
		next.Enabled = *p.Enabled
	}
	if p.Kind != nil {
		next.Kind = *p.Kind
	}
	if p.Hour != nil {
		next.Hour = *p.Hour
	}
	if p.Minute != nil {
		next.Minute = *p.Minute
	}
	if p.Weekday != nil {
		next.Weekday = p.Weekday
	}
	if p.DayOfMonth != nil {
		next.DayOfMonth = p.DayOfMonth
	}
	if p.Date != nil {
		next.Date = p.Date
	}
	if err := validateJob(next); err != nil {
		return Job{}, err
	}

	if p.touchesSchedule() {
		next.NextRun = nextRunOf(next, r.now())
	}
	*j = next
	r.persistLocked(ctx)
	return *j, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(r.jobs, id)
	r.persistLocked(ctx)
	r.log.Info("job deleted", logx.String("job", id))
	return nil
}

// Toggle flips the enabled flag and recomputes NextRun.
func (r *Registry) Toggle(ctx context.Context, id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	j.Enabled = !j.Enabled
	j.NextRun = nextRunOf(*j, r.now())
	r.persistLocked(ctx)
	return *j, nil
}

// MarkRun advances the job after an execution attempt: LastRun = now, then
// either self-disable (once) or roll NextRun forward from now. Marking a job
// run is also how the executor suppresses immediate re-triggering after a
// skip (missing profile, failed precondition).
func (r *Registry) MarkRun(ctx context.Context, id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	now := r.now()
	j.LastRun = &now
	if j.Kind == recurrence.KindOnce {
		j.Enabled = false
		j.NextRun = nil
	} else {
		j.NextRun = nextRunOf(*j, now)
	}
	r.persistLocked(ctx)
	return *j, nil
}

func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// List returns all jobs ordered by creation time (ID tiebreak).
func (r *Registry) List() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.Before(out[b].CreatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// ListDueAsOf returns enabled jobs whose NextRun is set and <= now, in
// ascending NextRun order (ID tiebreak) so execution order is reproducible.
func (r *Registry) ListDueAsOf(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []Job
	for _, j := range r.jobs {
		if !j.Enabled || j.NextRun == nil {
			continue
		}
		if j.NextRun.After(now) {
			continue
		}
		due = append(due, *j)
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].NextRun.Equal(*due[b].NextRun) {
			return due[a].NextRun.Before(*due[b].NextRun)
		}
		return due[a].ID < due[b].ID
	})
	return due
}

// RecalculateAll recomputes NextRun for every job from its stored recurrence
// fields and the current instant. Idempotent when the clock hasn't
// materially advanced.
func (r *Registry) RecalculateAll(ctx context.Context) {
	r.mu.Lock()
	r.recalcAllLocked(r.now())
	r.persistLocked(ctx)
	r.mu.Unlock()
}

func (r *Registry) recalcAllLocked(now time.Time) {
	for _, j := range r.jobs {
		j.NextRun = nextRunOf(*j, now)
	}
}

// persistLocked snapshots the registry. Persistence failures are logged, not
// propagated: the in-memory registry stays authoritative for this process.
func (r *Registry) persistLocked(ctx context.Context) {
	if r.store == nil {
		return
	}
	recs := make([]storage.JobRecord, 0, len(r.jobs))
	for _, j := range r.jobs {
		recs = append(recs, recordFromJob(*j))
	}
	sort.Slice(recs, func(a, b int) bool { return recs[a].ID < recs[b].ID })
	if err := r.store.SaveJobs(ctx, recs); err != nil {
		r.log.Warn("job snapshot save failed", logx.Err(err))
	}
}

func nextRunOf(j Job, now time.Time) *time.Time {
	at, ok := recurrence.Next(j.Rule(), now)
	if !ok {
		return nil
	}
	return &at
}

func validateSpec(s Spec) error {
	return validateJob(Job{
		ProfileID:  s.ProfileID,
		Enabled:    s.Enabled,
		Kind:       s.Kind,
		Hour:       s.Hour,
		Minute:     s.Minute,
		Weekday:    s.Weekday,
		DayOfMonth: s.DayOfMonth,
		Date:       s.Date,
	})
}

func validateJob(j Job) error {
	if j.ProfileID == "" {
		return fmt.Errorf("%w: profile id required", ErrInvalid)
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalid, j.Kind)
	}
	if j.Hour < 0 || j.Hour > 23 || j.Minute < 0 || j.Minute > 59 {
		return fmt.Errorf("%w: time of day %02d:%02d out of range", ErrInvalid, j.Hour, j.Minute)
	}
	switch j.Kind {
	case recurrence.KindWeekly:
		if j.Weekday == nil {
			return fmt.Errorf("%w: weekly job requires a weekday", ErrInvalid)
		}
	case recurrence.KindMonthly:
		if j.DayOfMonth == nil || *j.DayOfMonth < 1 || *j.DayOfMonth > 31 {
			return fmt.Errorf("%w: monthly job requires day of month 1..31", ErrInvalid)
		}
	case recurrence.KindOnce:
		if j.Date == nil {
			return fmt.Errorf("%w: one-shot job requires a date", ErrInvalid)
		}
	}
	return nil
}
