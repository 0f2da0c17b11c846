package fsprobe

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ferry/internal/transfer"
	logx "ferry/pkg/logx"
)

func TestPathExists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := New(Config{}, logx.Nop())
	ctx := context.Background()

	ok, err := p.PathExists(ctx, dir)
	if err != nil || !ok {
		t.Fatalf("PathExists(%s) = %v, %v", dir, ok, err)
	}
	ok, err = p.PathExists(ctx, filepath.Join(dir, "nope"))
	if err != nil || ok {
		t.Fatalf("PathExists(missing) = %v, %v", ok, err)
	}
}

func TestIsWritable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := New(Config{}, logx.Nop())

	ok, err := p.IsWritable(context.Background(), dir)
	if err != nil || !ok {
		t.Fatalf("IsWritable(%s) = %v, %v", dir, ok, err)
	}
	// A nonexistent directory is not writable.
	ok, err = p.IsWritable(context.Background(), filepath.Join(dir, "nope"))
	if err != nil || ok {
		t.Fatalf("IsWritable(missing) = %v, %v", ok, err)
	}
}

func TestEnumerate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(Config{}, logx.Nop())
	units, err := p.Enumerate(context.Background(), dir)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(units) != 3 { // a.txt, sub, sub/b.txt
		t.Fatalf("Enumerate returned %d units, want 3", len(units))
	}
	byRel := map[string]transfer.WorkUnit{}
	for _, u := range units {
		byRel[filepath.ToSlash(u.RelPath)] = u
	}
	if u, ok := byRel["a.txt"]; !ok || u.IsDir || u.Size != 5 {
		t.Fatalf("a.txt unit wrong: %+v", u)
	}
	if u, ok := byRel["sub"]; !ok || !u.IsDir {
		t.Fatalf("sub unit wrong: %+v", u)
	}
}

func TestEnumerateEmpty(t *testing.T) {
	t.Parallel()
	p := New(Config{}, logx.Nop())
	units, err := p.Enumerate(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("expected empty enumeration, got %d", len(units))
	}
}

// stallOps blocks every raw call until released.
type stallOps struct{ release chan struct{} }

func (o stallOps) stat(string) (fs.FileInfo, error) { <-o.release; return nil, os.ErrNotExist }
func (o stallOps) writeMarker(string) error         { <-o.release; return nil }
func (o stallOps) walk(string) ([]transfer.WorkUnit, error) {
	<-o.release
	return nil, nil
}

func TestProbeTimeout(t *testing.T) {
	t.Parallel()
	ops := stallOps{release: make(chan struct{})}
	defer close(ops.release)

	p := &osProber{
		cfg: Config{ProbeTimeout: 20 * time.Millisecond, EnumerateTimeout: 20 * time.Millisecond},
		log: logx.Nop(),
		ops: ops,
	}
	ctx := context.Background()

	if _, err := p.PathExists(ctx, "/stalled"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("PathExists err = %v, want ErrTimeout", err)
	}
	if _, err := p.IsWritable(ctx, "/stalled"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("IsWritable err = %v, want ErrTimeout", err)
	}
	if _, err := p.Enumerate(ctx, "/stalled"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Enumerate err = %v, want ErrTimeout", err)
	}
}

func TestProbeHonorsCallerContext(t *testing.T) {
	t.Parallel()
	ops := stallOps{release: make(chan struct{})}
	defer close(ops.release)

	p := &osProber{cfg: Config{}.withDefaults(), log: logx.Nop(), ops: ops}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.PathExists(ctx, "/stalled"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}
