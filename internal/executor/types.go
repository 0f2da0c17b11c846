package executor

import (
	"errors"
	"time"
)

var (
	// ErrCheckActive means a check/execute cycle is already in flight.
	ErrCheckActive = errors.New("scheduler cycle already running")
	// ErrResourceBusy means the shared transfer engine is not idle.
	ErrResourceBusy = errors.New("transfer resource busy")
)

// State is the executor's observable position in its cycle.
type State int32

const (
	StateIdle State = iota
	StateChecking
	StateRunningJob
	StateWaiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChecking:
		return "checking"
	case StateRunningJob:
		return "running_job"
	case StateWaiting:
		return "waiting_for_completion"
	default:
		return "unknown"
	}
}

// Outcome values recorded to the run log and keyed into notifications.
const (
	OutcomeStarted          = "started"
	OutcomeEmptySource      = "empty_source"
	OutcomeProfileMissing   = "profile_missing"
	OutcomeSourceMissing    = "source_missing"
	OutcomePermissionDenied = "permission_denied"
	OutcomeEnumerateFailed  = "enumerate_failed"
	OutcomeFailed           = "failed"
)

// Config tunes the cycle; zero values get defaults.
type Config struct {
	// MinCheckInterval gates how often a new check cycle may begin. Bursts of
	// trigger events (focus + visibility + timer landing together) collapse
	// into one cycle. Affects freshness only, never correctness.
	MinCheckInterval time.Duration // default 5s

	// Completion wait: poll every WaitPollInterval, at most WaitMaxAttempts
	// times. The product is the total bound (defaults: 1s x 600 = 10min);
	// past it the executor abandons waiting and moves on best-effort.
	WaitPollInterval time.Duration // default 1s
	WaitMaxAttempts  int           // default 600
}

func (c Config) withDefaults() Config {
	if c.MinCheckInterval <= 0 {
		c.MinCheckInterval = 5 * time.Second
	}
	if c.WaitPollInterval <= 0 {
		c.WaitPollInterval = time.Second
	}
	if c.WaitMaxAttempts <= 0 {
		c.WaitMaxAttempts = 600
	}
	return c
}
