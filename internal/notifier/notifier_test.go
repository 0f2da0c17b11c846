package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "ferry/pkg/logx"
)

type captureSink struct {
	mu   sync.Mutex
	got  []Notification
	fail int // fail the first N emits
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Emit(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("sink unavailable")
	}
	s.got = append(s.got, n)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	s := New(Config{Enabled: true, RatePerSec: 1000}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), Notification{Title: "t", Body: "b", Severity: SeverityInfo}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return sink.count() == 1 })
}

func TestNotifyDisabled(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: false}, nil, logx.Nop(), nil)
	if err := s.Notify(context.Background(), Notification{Title: "t"}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

func TestDedupSuppressesRepeats(t *testing.T) {
	t.Parallel()
	sink := &captureSink{}
	s := New(Config{
		Enabled: true, RatePerSec: 1000,
		DedupWindow: time.Hour,
	}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = s.Notify(ctx, Notification{Title: "profile missing", Key: "job:j1:profile_missing"})
	}
	// A different key still goes through.
	_ = s.Notify(ctx, Notification{Title: "profile missing", Key: "job:j2:profile_missing"})

	waitFor(t, func() bool { return sink.count() == 2 })
	time.Sleep(20 * time.Millisecond)
	if got := sink.count(); got != 2 {
		t.Fatalf("delivered %d notifications, want 2 (dedup failed)", got)
	}
}

func TestRetryEventuallyDelivers(t *testing.T) {
	t.Parallel()
	sink := &captureSink{fail: 2}
	s := New(Config{
		Enabled: true, RatePerSec: 1000,
		RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond,
	}, []Sink{sink}, logx.Nop(), nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), Notification{Title: "flaky"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	waitFor(t, func() bool { return sink.count() == 1 })
}

func TestStopRejectsNewNotifies(t *testing.T) {
	t.Parallel()
	s := New(Config{Enabled: true}, nil, logx.Nop(), nil)
	s.Start(context.Background())
	s.Stop(context.Background())

	if err := s.Notify(context.Background(), Notification{Title: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}
