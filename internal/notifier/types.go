package notifier

import "time"

// Severity classifies a notification for sinks that can render it.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Notification is the unit handed to sinks.
//
// Key drives dedup: notifications sharing a Key within the dedup window are
// suppressed after the first. The executor keys skip outcomes by
// (job, reason) so a job with a deleted profile doesn't flood the sinks on
// every wake. Empty Key falls back to Title+Body.
type Notification struct {
	Title    string
	Body     string
	Severity Severity
	Key      string
}

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

// DropEvent is published on the event bus when a notification is dropped
// (queue full) or suppressed (dedup window).
type DropEvent struct {
	Key    string    `json:"key"`
	Reason string    `json:"reason"` // "queue_full" | "dedup"
	At     time.Time `json:"at"`
}
