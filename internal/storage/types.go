package storage

import (
	"errors"
	"time"

	"ferry/internal/transfer"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (JSON snapshots + jsonl run log)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// JobRecord is the persisted shape of a scheduled job.
// Timestamps marshal as RFC 3339 strings. Keep it schema-stable.
type JobRecord struct {
	ID         string     `json:"id"`
	ProfileID  string     `json:"profile_id"`
	Enabled    bool       `json:"enabled"`
	Kind       string     `json:"kind"`
	Hour       int        `json:"hour"`
	Minute     int        `json:"minute"`
	Weekday    *int       `json:"weekday,omitempty"`      // weekly only, 0=Sunday
	DayOfMonth *int       `json:"day_of_month,omitempty"` // monthly only
	Date       *time.Time `json:"date,omitempty"`         // once only
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    *time.Time `json:"next_run,omitempty"` // advisory; recalculated on load
	CreatedAt  time.Time  `json:"created_at"`
}

// ProfileRecord is the persisted shape of a transfer profile.
type ProfileRecord struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	SourcePath string           `json:"source_path"`
	DestPath   string           `json:"dest_path"`
	Options    transfer.Options `json:"options"`
	CreatedAt  time.Time        `json:"created_at"`
	LastUsed   *time.Time       `json:"last_used,omitempty"`
}

// RunRecord is one run-log line: what happened when a due (or manually run)
// job was handled.
type RunRecord struct {
	At         time.Time     `json:"at"`
	JobID      string        `json:"job_id"`
	ProfileID  string        `json:"profile_id"`
	Outcome    string        `json:"outcome"` // started | empty_source | profile_missing | source_missing | permission_denied | enumerate_failed | failed
	Detail     string        `json:"detail,omitempty"`
	Took       time.Duration `json:"took_ns,omitempty"`
	WorkUnits  int           `json:"work_units,omitempty"`
	TotalBytes int64         `json:"total_bytes,omitempty"`
}
