package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const yamlOK = `
logging:
  level: debug
  console: true
scheduler:
  max_jobs: 10
  min_check_interval: 2s
trigger:
  timer_spec: "@every 15m"
notifier:
  enabled: true
  rate_per_sec: 3
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ferry.yaml")
	writeFile(t, path, yamlOK)

	m := NewManager(path)
	cfg, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Scheduler.MaxJobs != 10 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Trigger.TimerSpec != "@every 15m" {
		t.Fatalf("trigger spec = %q", cfg.Trigger.TimerSpec)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed snapshot")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ferry.yaml")
	writeFile(t, path, "scheduler:\n  max_jobs: 4\n  workerz: 9\n")

	m := NewManager(path)
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestLoadRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ferry.json")
	writeFile(t, path, `{"scheduler":{"max_jobs":4}}{"extra":1}`)

	m := NewManager(path)
	if _, err := m.Load(context.Background()); err == nil {
		t.Fatal("trailing JSON accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "empty ok", cfg: Config{}},
		{
			name:    "bad duration",
			cfg:     Config{Scheduler: SchedulerConfig{MinCheckInterval: "soon"}},
			wantErr: "min_check_interval",
		},
		{
			name:    "negative duration",
			cfg:     Config{Scheduler: SchedulerConfig{StartupDelay: "-1s"}},
			wantErr: "startup_delay",
		},
		{
			name:    "unknown storage driver",
			cfg:     Config{Storage: &StorageConfig{Driver: "etcd"}},
			wantErr: "storage.driver",
		},
		{
			name: "telegram enabled without token",
			cfg: Config{Notifier: &NotifierConfig{
				Telegram: &TelegramConfig{Enabled: true, ChatID: 7},
			}},
			wantErr: "telegram.token",
		},
		{
			name: "telegram enabled without chat id",
			cfg: Config{Notifier: &NotifierConfig{
				Telegram: &TelegramConfig{Enabled: true, Token: "x"},
			}},
			wantErr: "chat_id",
		},
		{
			name: "telegram disabled skips checks",
			cfg:  Config{Notifier: &NotifierConfig{Telegram: &TelegramConfig{}}},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestReloadPublishesToSubscribers(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ferry.yaml")
	writeFile(t, path, yamlOK)

	m := NewManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	// Unchanged content is absorbed.
	m.reload(context.Background())
	select {
	case <-sub:
		t.Fatal("unchanged config was published")
	case <-time.After(50 * time.Millisecond):
	}

	writeFile(t, path, strings.Replace(yamlOK, "max_jobs: 10", "max_jobs: 20", 1))
	m.reload(context.Background())
	select {
	case cfg := <-sub:
		if cfg.Scheduler.MaxJobs != 20 {
			t.Fatalf("max_jobs = %d, want 20", cfg.Scheduler.MaxJobs)
		}
	case <-time.After(time.Second):
		t.Fatal("changed config not published")
	}

	// A broken edit keeps the previous snapshot.
	writeFile(t, path, "scheduler:\n  min_check_interval: nope\n")
	m.reload(context.Background())
	if got := m.Get().Scheduler.MaxJobs; got != 20 {
		t.Fatalf("broken edit replaced snapshot (max_jobs = %d)", got)
	}
}

func TestWatchPicksUpFileChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ferry.yaml")
	writeFile(t, path, yamlOK)

	m := NewManager(path)
	if _, err := m.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond) // let the watcher attach

	writeFile(t, path, strings.Replace(yamlOK, "level: debug", "level: warn", 1))

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "warn" {
			t.Fatalf("level = %q, want warn", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not publish the edit")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Logging: LoggingConfig{Level: "info"}}
	newCfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Trigger: TriggerConfig{TimerSpec: "@hourly"},
	}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := []string{"logging", "trigger"}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	for i := range want {
		if changed[i] != want[i] {
			t.Fatalf("changed = %v, want %v", changed, want)
		}
	}
}
