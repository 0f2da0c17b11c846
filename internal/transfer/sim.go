package transfer

import (
	"errors"
	"sync"
	"time"

	logx "ferry/pkg/logx"
)

var ErrBusy = errors.New("transfer engine busy")

// Sim is a stand-in engine that walks Preparing -> Running -> Completed on a
// fixed tick without touching the filesystem. The daemon uses it when no real
// engine is wired (dry-run deployments); tests use it to exercise the
// executor's wait loop against honest state transitions.
type Sim struct {
	mu sync.Mutex

	log  logx.Logger
	tick time.Duration

	state  State
	source string
	dest   string
	units  []WorkUnit
	opts   Options

	// gen invalidates the walker goroutine of a superseded run after Reset().
	gen uint64
}

// NewSim returns a simulated engine. tick controls how long each busy phase
// lasts; <= 0 defaults to 2s.
func NewSim(tick time.Duration, log logx.Logger) *Sim {
	if tick <= 0 {
		tick = 2 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sim{tick: tick, log: log, state: StateIdle}
}

func (s *Sim) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.state = StateIdle
	s.source = ""
	s.dest = ""
	s.units = nil
	s.opts = Options{}
}

func (s *Sim) SetSource(path string) {
	s.mu.Lock()
	s.source = path
	s.mu.Unlock()
}

func (s *Sim) SetDest(path string) {
	s.mu.Lock()
	s.dest = path
	s.mu.Unlock()
}

func (s *Sim) SetWorkUnits(items []WorkUnit) {
	s.mu.Lock()
	s.units = items
	s.mu.Unlock()
}

func (s *Sim) ApplyOptions(opts Options) {
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
}

func (s *Sim) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sim) Start() error {
	s.mu.Lock()
	if s.state.IsBusy() {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = StatePreparing
	gen := s.gen
	src, dst, n := s.source, s.dest, len(s.units)
	tick := s.tick
	s.mu.Unlock()

	s.log.Info("sim transfer started",
		logx.String("source", src), logx.String("dest", dst), logx.Int("units", n))

	go func() {
		time.Sleep(tick)
		if !s.advance(gen, StatePreparing, StateRunning) {
			return
		}
		time.Sleep(tick)
		if s.advance(gen, StateRunning, StateCompleted) {
			s.log.Info("sim transfer completed", logx.String("source", src))
		}
	}()
	return nil
}

// advance moves from -> to if this run is still current. Returns false when
// the run was superseded by Reset() or the state changed underneath.
func (s *Sim) advance(gen uint64, from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.state != from {
		return false
	}
	s.state = to
	return true
}
