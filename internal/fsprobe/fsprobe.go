// Package fsprobe answers "does this path exist / can I write there / what's
// in it" with a hard timeout on every call. Network mounts can hang a stat
// for minutes; the scheduler must treat a slow filesystem as a recoverable
// skip, never as a stuck process.
package fsprobe

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"ferry/internal/transfer"
	logx "ferry/pkg/logx"
)

// ErrTimeout marks a probe that exceeded its bound. Always recoverable.
var ErrTimeout = errors.New("filesystem probe timed out")

type Config struct {
	ProbeTimeout     time.Duration // PathExists / IsWritable; default 5s
	EnumerateTimeout time.Duration // Enumerate; default 30s
}

func (c Config) withDefaults() Config {
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
	if c.EnumerateTimeout <= 0 {
		c.EnumerateTimeout = 30 * time.Second
	}
	return c
}

// Prober is what the executor consumes. Implementations must bound every
// call; a timeout surfaces as an error wrapping ErrTimeout.
type Prober interface {
	PathExists(ctx context.Context, path string) (bool, error)
	IsWritable(ctx context.Context, path string) (bool, error)
	Enumerate(ctx context.Context, path string) ([]transfer.WorkUnit, error)
}

// fsOps isolates the raw filesystem calls so tests can stall them.
type fsOps interface {
	stat(path string) (fs.FileInfo, error)
	writeMarker(dir string) error
	walk(path string) ([]transfer.WorkUnit, error)
}

type osProber struct {
	cfg Config
	log logx.Logger
	ops fsOps
}

// New returns the real-filesystem prober.
func New(cfg Config, log logx.Logger) Prober {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &osProber{cfg: cfg.withDefaults(), log: log, ops: realOps{}}
}

func (p *osProber) PathExists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := p.bounded(ctx, p.cfg.ProbeTimeout, "stat", path, func() error {
		_, err := p.ops.stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (p *osProber) IsWritable(ctx context.Context, path string) (bool, error) {
	var writable bool
	err := p.bounded(ctx, p.cfg.ProbeTimeout, "write-marker", path, func() error {
		if err := p.ops.writeMarker(path); err != nil {
			// Can't write; report false without an error so the caller gets a
			// clean permission_denied skip.
			return nil
		}
		writable = true
		return nil
	})
	return writable, err
}

func (p *osProber) Enumerate(ctx context.Context, path string) ([]transfer.WorkUnit, error) {
	var units []transfer.WorkUnit
	err := p.bounded(ctx, p.cfg.EnumerateTimeout, "enumerate", path, func() error {
		u, err := p.ops.walk(path)
		if err != nil {
			return err
		}
		units = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}

// bounded runs fn on its own goroutine and abandons it when the timeout or
// ctx expires. The goroutine is left to finish in the background; FS syscalls
// are not interruptible, abandoning is the best we can do.
func (p *osProber) bounded(ctx context.Context, timeout time.Duration, op, path string, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.log.Warn("filesystem probe abandoned",
			logx.String("op", op), logx.String("path", path), logx.Duration("bound", timeout))
		return ErrTimeout
	}
}

type realOps struct{}

func (realOps) stat(path string) (fs.FileInfo, error) { return os.Stat(path) }

func (realOps) writeMarker(dir string) error {
	f, err := os.CreateTemp(dir, ".ferry-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (realOps) walk(root string) ([]transfer.WorkUnit, error) {
	var units []transfer.WorkUnit
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		units = append(units, transfer.WorkUnit{
			RelPath:    rel,
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
			IsDir:      d.IsDir(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return units, nil
}
