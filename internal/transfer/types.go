// Package transfer defines the contract ferry uses to talk to the file
// transfer engine. Ferry schedules and hands off work; it never copies bytes
// itself. The engine is a single shared long-running resource: at most one
// transfer runs at a time, and callers must check State() before Start().
package transfer

import "time"

// State is the engine's externally observable lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateRunning
	StatePaused
	StateCompleted
	StateError
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsBusy reports whether the state precludes starting a new transfer.
// Paused counts as busy: a paused transfer still owns the resource.
func (s State) IsBusy() bool {
	return s == StatePreparing || s == StateRunning || s == StatePaused
}

// WorkUnit is one enumerated source entry handed to the engine.
type WorkUnit struct {
	RelPath    string    `json:"rel_path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	IsDir      bool      `json:"is_dir"`
}

// Options is the per-profile transfer options bundle.
type Options struct {
	DeleteExtraneous   bool `json:"delete_extraneous,omitempty"`
	PreserveTimes      bool `json:"preserve_times,omitempty"`
	DryRun             bool `json:"dry_run,omitempty"`
	BandwidthLimitKBps int  `json:"bandwidth_limit_kbps,omitempty"`
}

// Resource is the shared transfer engine.
//
// The setter/Start sequence is stateful by design (it mirrors how the engine
// is driven): Reset, then SetSource/SetDest/SetWorkUnits/ApplyOptions in any
// order, then Start. State() may be read at any time.
//
// There is no reservation primitive: a read of State() followed by Start()
// can race with another caller. Ferry treats that window as documented
// best-effort behavior and re-checks state before every handoff.
type Resource interface {
	Reset()
	SetSource(path string)
	SetDest(path string)
	SetWorkUnits(items []WorkUnit)
	ApplyOptions(opts Options)
	Start() error
	State() State
}
