package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tinysched/internal/concurrency"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  max_tasks: 8
  idle_ceiling: 250ms
  trace:
    show_run: true
    rate_per_sec: 20
storage:
  driver: file
  path: ./runs
watchdog:
  enabled: true
tasks:
  - name: beat
    kind: heartbeat
    interval: 5s
  - name: nightly
    kind: cron
    spec: "0 3 * * *"
  - name: compact
    kind: chunked
    interval: 1m
    chunks: 4
    gap: 10ms
    enabled: false
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "tinysched.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get() does not return the loaded config")
	}
	if cfg.Scheduler.MaxTasks != 8 || !cfg.Scheduler.Trace.ShowRun || cfg.Scheduler.Trace.RatePerSec != 20 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" || !cfg.Watchdog.Enabled {
		t.Fatalf("storage=%+v watchdog=%+v", cfg.Storage, cfg.Watchdog)
	}
	if len(cfg.Tasks) != 3 {
		t.Fatalf("len(tasks) = %d, want 3", len(cfg.Tasks))
	}
	if !cfg.Tasks[0].IsEnabled() || cfg.Tasks[2].IsEnabled() {
		t.Fatalf("enabled = %v/%v, want true/false", cfg.Tasks[0].IsEnabled(), cfg.Tasks[2].IsEnabled())
	}

	cc, err := cfg.Scheduler.ControllerConfig()
	if err != nil {
		t.Fatalf("ControllerConfig: %v", err)
	}
	want := concurrency.Config{
		MaxTasks:    8,
		IdleCeiling: 250 * time.Millisecond,
		Trace:       concurrency.Trace{ShowRun: true, RatePerSec: 20},
	}
	if cc != want {
		t.Fatalf("ControllerConfig() = %+v, want %+v", cc, want)
	}
}

func TestParseJSONStrict(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"ok", `{"scheduler":{"max_tasks":-1},"tasks":[]}`, ""},
		{"unknown field", `{"scheduler":{"workers":2}}`, "unknown field"},
		{"trailing data", `{"tasks":[]}{"tasks":[]}`, "trailing data"},
		{"trailing garbage", `{"tasks":[]} ]`, "trailing data"},
		{"trailing newline", "{\"tasks\":[]}\n\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewConfigManager(writeFile(t, "tinysched.json", tt.body))
			_, err := m.Parse()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Parse error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseYAMLDocuments(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"empty", "tinysched.yaml", "", ""},
		{"comments only", "tinysched.yml", "# nothing yet\n", ""},
		{"two documents", "tinysched.yaml", "scheduler:\n  max_tasks: 2\n---\nscheduler:\n  max_tasks: 3\n", "trailing data"},
		{"unknown field", "tinysched.yaml", "scheduler:\n  workers: 2\n", "unknown field"},
		{"sniffed yaml", "tinysched.conf", "scheduler:\n  max_tasks: 2\n", ""},
		{"sniffed json", "tinysched.conf", `{"scheduler":{"max_tasks":2}}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfigManager(writeFile(t, tt.file, tt.body)).Parse()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Parse error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestTaskIntervalExplicitZero(t *testing.T) {
	t.Parallel()
	def := 30 * time.Second
	if d, err := TaskInterval(TaskConfig{Name: "a"}, def); err != nil || d != def {
		t.Fatalf("TaskInterval(unset) = %v, %v; want %v", d, err, def)
	}
	if d, err := TaskInterval(TaskConfig{Name: "a", Interval: "0s"}, def); err != nil || d != 0 {
		t.Fatalf("TaskInterval(0s) = %v, %v; want 0", d, err)
	}
	if _, err := (SchedulerConfig{IdleCeiling: "0s"}).ControllerConfig(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("ControllerConfig(idle_ceiling=0s) = %v, want ErrInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"empty", Config{}, true},
		{"bad ceiling", Config{Scheduler: SchedulerConfig{IdleCeiling: "soon"}}, false},
		{"negative ceiling", Config{Scheduler: SchedulerConfig{IdleCeiling: "-1s"}}, false},
		{"negative rate", Config{Scheduler: SchedulerConfig{Trace: TraceConfig{RatePerSec: -1}}}, false},
		{"bad driver", Config{Storage: &StorageConfig{Driver: "redis"}}, false},
		{"missing name", Config{Tasks: []TaskConfig{{Kind: KindHeartbeat}}}, false},
		{"duplicate name", Config{Tasks: []TaskConfig{{Name: "a", Kind: KindHeartbeat}, {Name: "a", Kind: KindHeartbeat}}}, false},
		{"unknown kind", Config{Tasks: []TaskConfig{{Name: "a", Kind: "shell"}}}, false},
		{"cron without spec", Config{Tasks: []TaskConfig{{Name: "a", Kind: KindCron}}}, false},
		{"bad gap", Config{Tasks: []TaskConfig{{Name: "a", Kind: KindChunked, Gap: "x"}}}, false},
		{"kind case", Config{Tasks: []TaskConfig{{Name: "a", Kind: " Heartbeat "}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Second, false},
		{"  ", time.Second, false},
		{"0s", 0, false},
		{"0", 0, false},
		{"150ms", 150 * time.Millisecond, false},
		{"-5s", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationOrDefault("x", tt.raw, time.Second)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("ParseDurationOrDefault(%q) = %v, %v; want %v (err=%v)", tt.raw, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	off := false
	oldCfg := &Config{
		Scheduler: SchedulerConfig{MaxTasks: 8},
		Tasks: []TaskConfig{
			{Name: "beat", Kind: KindHeartbeat, Interval: "5s"},
			{Name: "gone", Kind: KindHeartbeat},
			{Name: "same", Kind: KindHeartbeat},
		},
	}
	newCfg := &Config{
		Scheduler: SchedulerConfig{MaxTasks: 8, Trace: TraceConfig{ShowWaiting: true}},
		Tasks: []TaskConfig{
			{Name: "beat", Kind: KindHeartbeat, Interval: "5s", Enabled: &off},
			{Name: "same", Kind: KindHeartbeat},
			{Name: "new", Kind: KindCron, Spec: "@hourly"},
		},
	}

	sections, attrs, tasks := SummarizeConfigChange(oldCfg, newCfg)
	if got := strings.Join(sections, ","); got != "tasks,trace" {
		t.Fatalf("sections = %q, want tasks,trace", got)
	}
	if got := strings.Join(tasks, ","); got != "beat,gone,new" {
		t.Fatalf("tasks = %q, want beat,gone,new", got)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}

	if s, _, ts := SummarizeConfigChange(newCfg, newCfg); len(s) != 0 || len(ts) != 0 {
		t.Fatalf("identical configs reported changes: %v %v", s, ts)
	}

	withDebug := *newCfg
	withDebug.Debug = &DebugConfig{Enabled: true}
	if s, _, _ := SummarizeConfigChange(newCfg, &withDebug); strings.Join(s, ",") != "debug" {
		t.Fatalf("sections = %v, want debug", s)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "tinysched.json", `{"scheduler":{"max_tasks":4}}`)
	m := NewConfigManager(path)
	m.debounce = 20 * time.Millisecond
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Scheduler.MaxTasks == 13 {
			return errors.New("unlucky")
		}
		return nil
	})
	updates := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	write := func(body string) {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	write(`{"scheduler":{"max_tasks":13}}`)
	select {
	case cfg := <-updates:
		t.Fatalf("rejected config was published: %+v", cfg.Scheduler)
	case <-time.After(300 * time.Millisecond):
	}

	write(`{"scheduler":{"max_tasks":9}}`)
	select {
	case cfg := <-updates:
		if cfg.Scheduler.MaxTasks != 9 {
			t.Fatalf("published max_tasks = %d, want 9", cfg.Scheduler.MaxTasks)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after a valid change")
	}
	if m.Get().Scheduler.MaxTasks != 9 {
		t.Fatalf("Get().max_tasks = %d, want 9", m.Get().Scheduler.MaxTasks)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
