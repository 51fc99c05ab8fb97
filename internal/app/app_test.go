package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/coreos/go-systemd/v22/daemon"

	"tinysched/internal/concurrency"
	"tinysched/internal/config"
	"tinysched/internal/observability/debug"
	logx "tinysched/pkg/logx"
)

func newTestController(t *testing.T, cfg concurrency.Config) *concurrency.Controller {
	t.Helper()
	b := &concurrency.Barrier{}
	b.Cross()
	return concurrency.NewController(cfg, concurrency.WithBarrier(b), concurrency.WithClock(clock.NewMock()))
}

func names(ctl *concurrency.Controller) map[string]concurrency.TaskStatus {
	out := map[string]concurrency.TaskStatus{}
	for _, ts := range ctl.Snapshot().Tasks {
		out[ts.Name] = ts
	}
	return out
}

func TestTaskSetReconcile(t *testing.T) {
	t.Parallel()
	ctl := newTestController(t, concurrency.Config{})
	s := newTaskSet(logx.Nop())
	off := false

	err := s.reconcile(ctl, []config.TaskConfig{
		{Name: "beat", Kind: config.KindHeartbeat, Interval: "5s"},
		{Name: "nightly", Kind: config.KindCron, Spec: "0 3 * * *"},
		{Name: "compact", Kind: config.KindChunked, Chunks: 2},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if ctl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", ctl.Len())
	}
	beat := s.byName["beat"].task

	// Toggle beat, retime nightly, drop compact, add another.
	err = s.reconcile(ctl, []config.TaskConfig{
		{Name: "beat", Kind: config.KindHeartbeat, Interval: "5s", Enabled: &off},
		{Name: "nightly", Kind: config.KindCron, Spec: "0 4 * * *"},
		{Name: "extra", Kind: config.KindHeartbeat},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	got := names(ctl)
	if len(got) != 3 {
		t.Fatalf("tasks = %v, want 3", got)
	}
	if _, ok := got["compact"]; ok {
		t.Fatal("compact still registered")
	}
	if got["beat"].Enabled {
		t.Fatal("beat still enabled")
	}
	if s.byName["beat"].task != beat {
		t.Fatal("toggling enabled rebuilt the task")
	}
	if _, ok := got["extra"]; !ok {
		t.Fatal("extra not registered")
	}
}

func TestTaskSetReconcileReportsCapacity(t *testing.T) {
	t.Parallel()
	ctl := newTestController(t, concurrency.Config{MaxTasks: 1})
	s := newTaskSet(logx.Nop())

	err := s.reconcile(ctl, []config.TaskConfig{
		{Name: "a", Kind: config.KindHeartbeat},
		{Name: "b", Kind: config.KindHeartbeat},
	})
	if !errors.Is(err, concurrency.ErrCapacity) {
		t.Fatalf("reconcile = %v, want ErrCapacity", err)
	}
	if ctl.Len() != 1 || len(s.byName) != 1 {
		t.Fatalf("Len()=%d tracked=%d, want 1 and 1", ctl.Len(), len(s.byName))
	}
}

func TestValidateTasks(t *testing.T) {
	t.Parallel()
	bad := &config.Config{Tasks: []config.TaskConfig{{Name: "x", Kind: config.KindCron, Spec: "61 * * * *"}}}
	if err := validateTasks(bad); err == nil {
		t.Fatal("validateTasks accepted an invalid cron spec")
	}
	reserved := &config.Config{Tasks: []config.TaskConfig{{Name: watchdogTaskName, Kind: config.KindHeartbeat}}}
	if err := validateTasks(reserved); err == nil {
		t.Fatal("validateTasks accepted the reserved watchdog name")
	}
}

func TestMapDebugConfig(t *testing.T) {
	t.Parallel()
	if _, on, err := mapDebugConfig(&config.Config{}); on || err != nil {
		t.Fatalf("absent debug section: on=%v err=%v", on, err)
	}
	cfg := &config.Config{Debug: &config.DebugConfig{Enabled: true, Addr: "0.0.0.0:6060"}}
	if _, _, err := mapDebugConfig(cfg); !errors.Is(err, debug.ErrInsecureBind) {
		t.Fatalf("err = %v, want ErrInsecureBind", err)
	}
	cfg.Debug.Token = " s3cret "
	dc, on, err := mapDebugConfig(cfg)
	if err != nil || !on || dc.Token != "s3cret" {
		t.Fatalf("mapDebugConfig = %+v %v %v", dc, on, err)
	}
}

const lifecycleConfig = `{
  "logging": {"level": "error"},
  "scheduler": {"idle_ceiling": "20ms"},
  "storage": {"driver": "file", "path": "%s"},
  "tasks": [
    {"name": "beat", "kind": "heartbeat", "interval": "5ms"}
  ]
}`

// TestAppLifecycle uses the process-wide main controller, so it is the only
// test in this package that builds an App.
func TestAppLifecycle(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tinysched.json")
	body := []byte(fmt.Sprintf(lifecycleConfig, filepath.Join(dir, "journal")))
	if err := os.WriteFile(cfgPath, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := NewApp(cfgPath)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	var (
		mu     sync.Mutex
		states []string
	)
	a.notify = func(state string) (bool, error) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
		return true, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var st Status
	for {
		st, err = a.Status(ctx, 10)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if len(st.RecentRuns) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if st.RecentRuns[0].Task != "beat" {
		t.Fatalf("recent run task = %q, want beat", st.RecentRuns[0].Task)
	}
	if st.Loop.Ticks == 0 || len(st.Controller.Tasks) == 0 {
		t.Fatalf("status = %+v", st)
	}

	if err := a.Stop(ctx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.Err() != nil {
		t.Fatalf("Err() = %v", a.Err())
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done() not closed after Stop")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != daemon.SdNotifyReady || states[1] != daemon.SdNotifyStopping {
		t.Fatalf("systemd states = %q", states)
	}
	if _, err := os.Stat(filepath.Join(dir, "journal.runs.jsonl")); err != nil {
		t.Fatalf("journal file: %v", err)
	}
}
