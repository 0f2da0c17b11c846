package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "ferry/pkg/logx"
)

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "ferry.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	next := created.Add(24 * time.Hour)
	wd := 1

	jobs := []JobRecord{
		{ID: "j1", ProfileID: "p1", Enabled: true, Kind: "weekly", Hour: 9, Weekday: &wd, NextRun: &next, CreatedAt: created},
		{ID: "j2", ProfileID: "p2", Kind: "daily", Hour: 22, Minute: 30, CreatedAt: created},
	}
	if err := st.SaveJobs(ctx, jobs); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}

	got, err := st.LoadJobs(ctx)
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadJobs returned %d records, want 2", len(got))
	}
	if got[0].ID != "j1" || got[0].Weekday == nil || *got[0].Weekday != 1 {
		t.Fatalf("job j1 not round-tripped: %+v", got[0])
	}
	if got[0].NextRun == nil || !got[0].NextRun.Equal(next) {
		t.Fatalf("next_run not round-tripped: %+v", got[0].NextRun)
	}
	if got[1].Weekday != nil {
		t.Fatalf("absent weekday should stay nil, got %v", *got[1].Weekday)
	}

	profiles := []ProfileRecord{
		{ID: "p1", Name: "music", SourcePath: "/src", DestPath: "/dst", CreatedAt: created},
	}
	if err := st.SaveProfiles(ctx, profiles); err != nil {
		t.Fatalf("SaveProfiles: %v", err)
	}
	gp, err := st.LoadProfiles(ctx)
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	if len(gp) != 1 || gp[0].Name != "music" {
		t.Fatalf("profiles not round-tripped: %+v", gp)
	}

	if err := st.AppendRun(ctx, RunRecord{At: created, JobID: "j1", ProfileID: "p1", Outcome: "started"}); err != nil {
		t.Fatalf("AppendRun: %v", err)
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("Open(%q): %v", driver, err)
		}
		if st != nil {
			t.Fatalf("Open(%q) returned a store, want nil", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestLoadJobsMissingSnapshot(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "ferry.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	jobs, err := st.LoadJobs(context.Background())
	if err != nil {
		t.Fatalf("LoadJobs on fresh store: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty snapshot, got %d", len(jobs))
	}
}
