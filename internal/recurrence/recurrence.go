// Package recurrence computes next-run instants for calendar recurrence
// rules. It is pure: no clocks, no registries, no side effects. Callers pass
// the reference instant explicitly, which keeps every edge case testable.
package recurrence

import "time"

// Kind is the recurrence kind of a scheduled job.
type Kind string

const (
	KindOnce    Kind = "once"
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
)

func (k Kind) Valid() bool {
	switch k {
	case KindOnce, KindDaily, KindWeekly, KindMonthly:
		return true
	}
	return false
}

// Rule describes when a job should fire.
//
// Optional selectors are pointers so "absent" is distinguishable from a zero
// value: a weekly rule without Weekday, a monthly rule without DayOfMonth, or
// a once rule without Date is malformed and never yields a next run.
type Rule struct {
	Kind    Kind
	Enabled bool

	// Time of day, in the reference instant's location.
	Hour   int
	Minute int

	Weekday    *time.Weekday // weekly only
	DayOfMonth *int          // monthly only, 1..31
	Date       *time.Time    // once only; only the Y/M/D part is used
}

// Next returns the first instant strictly after ref at which the rule fires,
// or ok=false when the rule never fires (disabled, malformed, or a past-dated
// one-shot). It never signals failure: malformed input yields ok=false.
//
// Monthly rules whose DayOfMonth exceeds the target month's length clamp to
// the last day of that month (31 -> Feb 28/29).
func Next(r Rule, ref time.Time) (time.Time, bool) {
	if !r.Enabled || !r.Kind.Valid() {
		return time.Time{}, false
	}
	if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return time.Time{}, false
	}

	loc := ref.Location()

	switch r.Kind {
	case KindOnce:
		if r.Date == nil {
			return time.Time{}, false
		}
		d := *r.Date
		at := time.Date(d.Year(), d.Month(), d.Day(), r.Hour, r.Minute, 0, 0, loc)
		if !at.After(ref) {
			return time.Time{}, false
		}
		return at, true

	case KindDaily:
		at := time.Date(ref.Year(), ref.Month(), ref.Day(), r.Hour, r.Minute, 0, 0, loc)
		if !at.After(ref) {
			at = at.AddDate(0, 0, 1)
		}
		return at, true

	case KindWeekly:
		if r.Weekday == nil {
			return time.Time{}, false
		}
		ahead := (int(*r.Weekday) - int(ref.Weekday()) + 7) % 7
		day := ref.AddDate(0, 0, ahead)
		at := time.Date(day.Year(), day.Month(), day.Day(), r.Hour, r.Minute, 0, 0, loc)
		if !at.After(ref) {
			at = at.AddDate(0, 0, 7)
		}
		return at, true

	case KindMonthly:
		if r.DayOfMonth == nil || *r.DayOfMonth < 1 || *r.DayOfMonth > 31 {
			return time.Time{}, false
		}
		at := monthlyAt(ref.Year(), ref.Month(), *r.DayOfMonth, r.Hour, r.Minute, loc)
		if !at.After(ref) {
			next := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
			at = monthlyAt(next.Year(), next.Month(), *r.DayOfMonth, r.Hour, r.Minute, loc)
		}
		return at, true
	}

	return time.Time{}, false
}

func monthlyAt(year int, month time.Month, dom, hour, minute int, loc *time.Location) time.Time {
	if last := daysIn(year, month, loc); dom > last {
		dom = last
	}
	return time.Date(year, month, dom, hour, minute, 0, 0, loc)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	// Day 0 of the following month normalizes to this month's last day.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
