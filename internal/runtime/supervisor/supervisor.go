// Package supervisor manages named goroutines tied to a shared context:
// panic recovery, optional restart with backoff, and timeout-aware waiting.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "ferry/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool
	errOnce     sync.Once
	firstErr    atomic.Value // stores error
	wg          sync.WaitGroup

	active  atomic.Int64
	started atomic.Uint64
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context on the first non-nil error
// returned by any supervised goroutine.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

// FirstError returns the first non-nil error seen (nil if none).
func (s *Supervisor) FirstError() error {
	v := s.firstErr.Load()
	if v == nil {
		return nil
	}
	err, _ := v.(error)
	return err
}

// Active reports how many supervised goroutines are currently running.
func (s *Supervisor) Active() int64 { return s.active.Load() }

// Go runs fn once. Panics are recovered and recorded as errors.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	s.started.Add(1)
	go func() {
		defer s.wg.Done()
		s.active.Add(1)
		defer s.active.Add(-1)
		if err := s.runOnce(name, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.noteError(name, err)
		}
	}()
}

// GoRestart runs fn and restarts it with capped exponential backoff whenever
// it returns a non-context error or panics. A context.Canceled return (or a
// done supervisor context) stops the restart loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	s.started.Add(1)
	go func() {
		defer s.wg.Done()
		s.active.Add(1)
		defer s.active.Add(-1)

		backoff := 250 * time.Millisecond
		const maxBackoff = 30 * time.Second
		for {
			err := s.runOnce(name, fn)
			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				// Clean exit without shutdown is suspicious but final.
				s.log.Warn("supervised loop exited", logx.String("name", name))
				return
			}
			s.noteError(name, err)
			s.log.Error("supervised loop failed; restarting",
				logx.String("name", name), logx.Err(err), logx.Duration("backoff", backoff))

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()
}

func (s *Supervisor) runOnce(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
			s.log.Error("panic recovered",
				logx.String("name", name), logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) noteError(name string, err error) {
	s.errOnce.Do(func() {
		s.firstErr.Store(fmt.Errorf("%s: %w", name, err))
		if s.cancelOnErr {
			s.cancel()
		}
	})
}

// Wait blocks until all supervised goroutines exit or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
