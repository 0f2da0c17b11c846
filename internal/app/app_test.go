package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ferry/internal/recurrence"
	"ferry/internal/schedule"
	"ferry/internal/transfer"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "ferry.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
logging:
  level: error
  console: false
storage:
  driver: file
  path: `+filepath.Join(dir, "store")+`
scheduler:
  max_jobs: 4
  startup_delay: 1h
notifier:
  enabled: false
`)

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The wired registries are live: a profile and a job survive a round trip.
	p, err := a.Profiles().Add(context.Background(), "media", "/srv/in", "/srv/out", transfer.Options{})
	if err != nil {
		t.Fatalf("add profile: %v", err)
	}
	j, err := a.Jobs().Add(context.Background(), schedule.Spec{
		ProfileID: p.ID, Enabled: true, Kind: recurrence.KindDaily, Hour: 3,
	})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if got, ok := a.Jobs().Get(j.ID); !ok || got.NextRun == nil {
		t.Fatalf("job not registered: %+v ok=%v", got, ok)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// State reached the file store.
	b, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp (second): %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start (second): %v", err)
	}
	defer b.Stop(context.Background(), StopAppStop)
	if _, ok := b.Jobs().Get(j.ID); !ok {
		t.Fatal("job did not survive restart")
	}
	if _, ok := b.Profiles().Get(p.ID); !ok {
		t.Fatal("profile did not survive restart")
	}
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, dir, "scheduler:\n  min_check_interval: whenever\n")
	if _, err := NewApp(path); err == nil {
		t.Fatal("NewApp accepted an invalid duration")
	}
}

func TestMapNotifierNilSectionDefaultsEnabled(t *testing.T) {
	t.Parallel()
	cfg, err := mapNotifier(nil)
	if err != nil {
		t.Fatalf("mapNotifier: %v", err)
	}
	if !cfg.Enabled {
		t.Fatal("nil notifier section should default to enabled")
	}
}
