package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ferry/internal/fsprobe"
	"ferry/internal/notifier"
	"ferry/internal/profile"
	"ferry/internal/recurrence"
	"ferry/internal/schedule"
	"ferry/internal/transfer"
	logx "ferry/pkg/logx"
)

// fakeEngine tracks calls and replays a scripted state sequence after Start.
type fakeEngine struct {
	mu      sync.Mutex
	current transfer.State
	onStart []transfer.State // armed as the script by the next Start
	script  []transfer.State // consumed one State() call at a time
	calls   []string
	starts  int
	polls   int
}

func (e *fakeEngine) record(call string) {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.mu.Unlock()
}

func (e *fakeEngine) Reset()                              { e.record("reset") }
func (e *fakeEngine) SetSource(string)                    { e.record("set_source") }
func (e *fakeEngine) SetDest(string)                      { e.record("set_dest") }
func (e *fakeEngine) SetWorkUnits([]transfer.WorkUnit)    { e.record("set_work_units") }
func (e *fakeEngine) ApplyOptions(transfer.Options)       { e.record("apply_options") }

func (e *fakeEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "start")
	e.starts++
	e.script = append([]transfer.State(nil), e.onStart...)
	e.onStart = nil
	return nil
}

func (e *fakeEngine) State() transfer.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.polls++
	if len(e.script) > 0 {
		e.current = e.script[0]
		e.script = e.script[1:]
	}
	return e.current
}

func (e *fakeEngine) callCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c == name {
			n++
		}
	}
	return n
}

// fakeProber answers from fixed maps; missing keys mean exists/writable with
// a default one-file work set.
type fakeProber struct {
	missing      map[string]bool
	unwritable   map[string]bool
	emptySource  map[string]bool
	enumerateErr error
}

func (p *fakeProber) PathExists(_ context.Context, path string) (bool, error) {
	return !p.missing[path], nil
}

func (p *fakeProber) IsWritable(_ context.Context, path string) (bool, error) {
	return !p.unwritable[path], nil
}

func (p *fakeProber) Enumerate(_ context.Context, path string) ([]transfer.WorkUnit, error) {
	if p.enumerateErr != nil {
		return nil, p.enumerateErr
	}
	if p.emptySource[path] {
		return nil, nil
	}
	return []transfer.WorkUnit{{RelPath: "a.txt", Size: 10}}, nil
}

type fakeNotifier struct {
	mu  sync.Mutex
	got []notifier.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, msg notifier.Notification) error {
	n.mu.Lock()
	n.got = append(n.got, msg)
	n.mu.Unlock()
	return nil
}

func (n *fakeNotifier) keys() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.got))
	for _, m := range n.got {
		out = append(out, m.Key)
	}
	return out
}

func (n *fakeNotifier) hasKeySuffix(suffix string) bool {
	for _, k := range n.keys() {
		if strings.HasSuffix(k, suffix) {
			return true
		}
	}
	return false
}

type fixture struct {
	jobs     *schedule.Registry
	profiles *profile.Registry
	engine   *fakeEngine
	probe    *fakeProber
	notify   *fakeNotifier
	exec     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		jobs:     schedule.NewRegistry(8, nil, logx.Nop()),
		profiles: profile.NewRegistry(nil, logx.Nop()),
		engine:   &fakeEngine{},
		probe: &fakeProber{
			missing:     map[string]bool{},
			unwritable:  map[string]bool{},
			emptySource: map[string]bool{},
		},
		notify: &fakeNotifier{},
	}
	f.exec = New(Config{
		MinCheckInterval: time.Millisecond,
		WaitPollInterval: time.Millisecond,
		WaitMaxAttempts:  50,
	}, f.jobs, f.profiles, f.probe, f.engine, f.notify, nil, nil, logx.Nop())
	// Evaluate dueness far enough ahead that freshly added jobs are due.
	f.exec.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	return f
}

func (f *fixture) addDailyJob(t *testing.T, profileID string, hour int) schedule.Job {
	t.Helper()
	j, err := f.jobs.Add(context.Background(), schedule.Spec{
		ProfileID: profileID, Enabled: true, Kind: recurrence.KindDaily, Hour: hour,
	})
	if err != nil {
		t.Fatalf("Add job: %v", err)
	}
	return j
}

func (f *fixture) addProfile(t *testing.T) profile.Profile {
	t.Helper()
	p, err := f.profiles.Add(context.Background(), "docs", "/src", "/dst", transfer.Options{})
	if err != nil {
		t.Fatalf("Add profile: %v", err)
	}
	return p
}

func TestMissingProfileDoesNotAbortCycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)

	// job1 (earlier slot) references a profile that no longer exists;
	// job2 is valid. Both must be handled in the same cycle.
	j1 := f.addDailyJob(t, "deleted-profile", 6)
	j2 := f.addDailyJob(t, p.ID, 7)

	f.exec.CheckDueJobs(context.Background())

	if !f.notify.hasKeySuffix(":" + OutcomeProfileMissing) {
		t.Fatalf("no profile_missing notification; keys = %v", f.notify.keys())
	}
	if f.engine.starts != 1 {
		t.Fatalf("engine starts = %d, want 1 (job2 only)", f.engine.starts)
	}
	for _, id := range []string{j1.ID, j2.ID} {
		got, _ := f.jobs.Get(id)
		if got.LastRun == nil {
			t.Fatalf("job %s not marked run", id)
		}
	}
}

func TestMissingSourceSkipsWithoutTouchingEngine(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)
	f.probe.missing["/src"] = true
	j := f.addDailyJob(t, p.ID, 6)

	f.exec.CheckDueJobs(context.Background())

	if !f.notify.hasKeySuffix(":" + OutcomeSourceMissing) {
		t.Fatalf("no source_missing notification; keys = %v", f.notify.keys())
	}
	if got := f.engine.callCount("reset") + f.engine.callCount("start"); got != 0 {
		t.Fatalf("engine touched %d times, want 0", got)
	}
	if got, _ := f.jobs.Get(j.ID); got.LastRun == nil {
		t.Fatal("job not marked run")
	}
}

func TestUnwritableDestinationSkips(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)
	f.probe.unwritable["/dst"] = true
	f.addDailyJob(t, p.ID, 6)

	f.exec.CheckDueJobs(context.Background())

	if !f.notify.hasKeySuffix(":" + OutcomePermissionDenied) {
		t.Fatalf("no permission_denied notification; keys = %v", f.notify.keys())
	}
	if f.engine.starts != 0 {
		t.Fatalf("engine started despite unwritable destination")
	}
}

func TestEmptySourceIsSuccessNoOp(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)
	f.probe.emptySource["/src"] = true
	j := f.addDailyJob(t, p.ID, 6)

	f.exec.CheckDueJobs(context.Background())

	if f.engine.starts != 0 {
		t.Fatal("engine started for an empty source")
	}
	if got, _ := f.jobs.Get(j.ID); got.LastRun == nil {
		t.Fatal("empty-source job not marked run")
	}
	if !f.notify.hasKeySuffix(":" + OutcomeEmptySource) {
		t.Fatalf("no empty_source notification; keys = %v", f.notify.keys())
	}
}

func TestEnumerateFailureSkips(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)
	f.probe.enumerateErr = errors.New("mount stalled")
	f.addDailyJob(t, p.ID, 6)

	f.exec.CheckDueJobs(context.Background())

	if f.engine.starts != 0 {
		t.Fatal("engine started despite enumeration failure")
	}
	if !f.notify.hasKeySuffix(":" + OutcomeEnumerateFailed) {
		t.Fatalf("no enumerate_failed notification; keys = %v", f.notify.keys())
	}
}

func TestWaitExitsEarlyOnCompletion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)
	f.addDailyJob(t, p.ID, 6)
	f.addDailyJob(t, p.ID, 7)

	// After the first Start, the engine reports running for 3 polls, then
	// completed. The executor must move to the second job well before the
	// 50-attempt bound, and the second job must actually start.
	f.engine.onStart = []transfer.State{
		transfer.StateRunning, transfer.StateRunning, transfer.StateRunning,
		transfer.StateCompleted,
	}

	done := make(chan struct{})
	go func() {
		f.exec.CheckDueJobs(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not finish; wait bound likely consumed")
	}

	if f.engine.starts != 2 {
		t.Fatalf("engine starts = %d, want 2", f.engine.starts)
	}
}

func TestBusyEngineDefersWholeCycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)
	j := f.addDailyJob(t, p.ID, 6)
	f.engine.current = transfer.StateRunning

	f.exec.CheckDueJobs(context.Background())

	if f.engine.starts != 0 {
		t.Fatal("engine started while busy")
	}
	got, _ := f.jobs.Get(j.ID)
	if got.LastRun != nil {
		t.Fatal("deferred job was marked run; it must stay due")
	}
	if len(f.notify.keys()) != 0 {
		t.Fatalf("deferred job produced notifications: %v", f.notify.keys())
	}
}

func TestMinIntervalGateAbsorbsBursts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)
	f.exec.cfg.MinCheckInterval = time.Hour

	base := time.Now().Add(48 * time.Hour)
	f.exec.now = func() time.Time { return base }

	// First check: nothing due yet, but the gate timestamp is recorded.
	f.exec.CheckDueJobs(context.Background())

	// A job becomes due, but the second check lands inside the gate.
	f.addDailyJob(t, p.ID, 6)
	f.exec.CheckDueJobs(context.Background())
	if f.engine.starts != 0 {
		t.Fatalf("gated check still ran jobs (starts = %d)", f.engine.starts)
	}

	// Past the gate, the job runs.
	f.exec.now = func() time.Time { return base.Add(2 * time.Hour) }
	f.exec.CheckDueJobs(context.Background())
	if f.engine.starts != 1 {
		t.Fatalf("engine starts = %d, want 1", f.engine.starts)
	}
}

func TestRunNowBypassesDueGating(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)

	// Real wall clock: the job's NextRun is in the future, so it is not due.
	f.exec.now = time.Now
	j := f.addDailyJob(t, p.ID, 6)

	if err := f.exec.RunNow(context.Background(), j.ID); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if f.engine.starts != 1 {
		t.Fatalf("engine starts = %d, want 1", f.engine.starts)
	}
}

func TestRunNowHonorsBusyGuard(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)
	j := f.addDailyJob(t, p.ID, 6)
	f.engine.current = transfer.StatePaused // paused still owns the resource

	if err := f.exec.RunNow(context.Background(), j.ID); !errors.Is(err, ErrResourceBusy) {
		t.Fatalf("err = %v, want ErrResourceBusy", err)
	}
}

func TestRunNowUnknownJob(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.exec.RunNow(context.Background(), "nope"); !errors.Is(err, schedule.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReentrancyGuard(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)
	j := f.addDailyJob(t, p.ID, 6)

	f.exec.guard.Store(true)
	defer f.exec.guard.Store(false)

	f.exec.CheckDueJobs(context.Background())
	if f.engine.starts != 0 {
		t.Fatal("check ran despite active guard")
	}
	if err := f.exec.RunNow(context.Background(), j.ID); !errors.Is(err, ErrCheckActive) {
		t.Fatalf("err = %v, want ErrCheckActive", err)
	}
}

func TestOnceJobSelfDisablesAfterRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.addProfile(t)

	d := time.Now().Add(24 * time.Hour)
	j, err := f.jobs.Add(context.Background(), schedule.Spec{
		ProfileID: p.ID, Enabled: true, Kind: recurrence.KindOnce,
		Hour: d.Hour(), Date: &d,
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	f.exec.CheckDueJobs(context.Background())

	got, _ := f.jobs.Get(j.ID)
	if got.Enabled || got.NextRun != nil {
		t.Fatalf("once job not self-disabled: %+v", got)
	}
}

var _ fsprobe.Prober = (*fakeProber)(nil)
var _ transfer.Resource = (*fakeEngine)(nil)
