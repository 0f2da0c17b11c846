package schedule

import (
	"errors"
	"time"

	"ferry/internal/recurrence"
	"ferry/internal/storage"
)

var (
	ErrCapacity = errors.New("job limit reached")
	ErrNotFound = errors.New("job not found")
	ErrInvalid  = errors.New("invalid job spec")
)

// DefaultMaxJobs caps the registry when config doesn't say otherwise.
const DefaultMaxJobs = 32

// Job is a persisted recurrence rule bound to a transfer profile.
//
// NextRun is always derived: it is recomputed on every scheduling-relevant
// mutation and on load, and is nil when the rule can never fire again (a
// "once" job that ran, a disabled job, malformed selectors).
type Job struct {
	ID        string
	ProfileID string
	Enabled   bool

	Kind   recurrence.Kind
	Hour   int
	Minute int

	Weekday    *time.Weekday // weekly only
	DayOfMonth *int          // monthly only
	Date       *time.Time    // once only

	LastRun   *time.Time
	NextRun   *time.Time
	CreatedAt time.Time
}

// Rule maps the job's scheduling fields onto the pure calculator's input.
func (j Job) Rule() recurrence.Rule {
	return recurrence.Rule{
		Kind:       j.Kind,
		Enabled:    j.Enabled,
		Hour:       j.Hour,
		Minute:     j.Minute,
		Weekday:    j.Weekday,
		DayOfMonth: j.DayOfMonth,
		Date:       j.Date,
	}
}

// Spec is the caller-supplied shape for Add.
type Spec struct {
	ProfileID string
	Enabled   bool
	Kind      recurrence.Kind
	Hour      int
	Minute    int

	Weekday    *time.Weekday
	DayOfMonth *int
	Date       *time.Time
}

// Patch is a partial update. Nil fields are left untouched.
// NextRun is recomputed iff at least one scheduling-relevant field
// (Enabled, Kind, Hour, Minute, Weekday, DayOfMonth, Date) is present.
type Patch struct {
	ProfileID *string
	Enabled   *bool
	Kind      *recurrence.Kind
	Hour      *int
	Minute    *int

	Weekday    *time.Weekday
	DayOfMonth *int
	Date       *time.Time
}

func (p Patch) touchesSchedule() bool {
	return p.Enabled != nil || p.Kind != nil || p.Hour != nil || p.Minute != nil ||
		p.Weekday != nil || p.DayOfMonth != nil || p.Date != nil
}

func recordFromJob(j Job) storage.JobRecord {
	rec := storage.JobRecord{
		ID:         j.ID,
		ProfileID:  j.ProfileID,
		Enabled:    j.Enabled,
		Kind:       string(j.Kind),
		Hour:       j.Hour,
		Minute:     j.Minute,
		DayOfMonth: j.DayOfMonth,
		Date:       j.Date,
		LastRun:    j.LastRun,
		NextRun:    j.NextRun,
		CreatedAt:  j.CreatedAt,
	}
	if j.Weekday != nil {
		wd := int(*j.Weekday)
		rec.Weekday = &wd
	}
	return rec
}

func jobFromRecord(rec storage.JobRecord) Job {
	j := Job{
		ID:         rec.ID,
		ProfileID:  rec.ProfileID,
		Enabled:    rec.Enabled,
		Kind:       recurrence.Kind(rec.Kind),
		Hour:       rec.Hour,
		Minute:     rec.Minute,
		DayOfMonth: rec.DayOfMonth,
		Date:       rec.Date,
		LastRun:    rec.LastRun,
		// NextRun intentionally dropped: recalculated after load.
		CreatedAt: rec.CreatedAt,
	}
	if rec.Weekday != nil {
		wd := time.Weekday(*rec.Weekday)
		j.Weekday = &wd
	}
	return j
}
