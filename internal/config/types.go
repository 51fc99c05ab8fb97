package config

import "strings"

// Task kinds accepted in the tasks section.
const (
	KindHeartbeat = "heartbeat"
	KindCron      = "cron"
	KindChunked   = "chunked"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Watchdog  WatchdogConfig  `json:"watchdog"`
	Debug     *DebugConfig    `json:"debug,omitempty"`
	Tasks     []TaskConfig    `json:"tasks"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// Format is "console" (default) or "json" for stdout.
	Format string      `json:"format,omitempty"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the main controller.
//
// Defaults (when fields are omitted/zero):
//   - max_tasks: 32 (negative means unbounded)
//   - idle_ceiling: "1s" (delay when no task is enabled)
type SchedulerConfig struct {
	MaxTasks int `json:"max_tasks,omitempty"`
	// IdleCeiling is a Go duration string (e.g. "500ms", "2s").
	IdleCeiling string      `json:"idle_ceiling,omitempty"`
	Trace       TraceConfig `json:"trace"`
}

// TraceConfig toggles the per-decision trace lines. They are written
// whenever their flag is set, whatever logging.level says.
type TraceConfig struct {
	ShowRun      bool `json:"show_run"`
	ShowWaiting  bool `json:"show_waiting"`
	ShowDisabled bool `json:"show_disabled"`
	// RatePerSec caps trace lines per second. 0 means unlimited.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the run journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tinysched_runs" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	Retain      int    `json:"retain,omitempty"`       // records kept; default 1000
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type WatchdogConfig struct {
	Enabled bool `json:"enabled"`
}

// DebugConfig enables the diagnostics HTTP server (status, healthz, pprof).
// A non-loopback addr requires token unless allow_insecure is set.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// TaskConfig declares one task built at startup.
//
//   - heartbeat: logs every interval.
//   - cron: fires on spec; interval is ignored.
//   - chunked: runs chunks steps gap apart, then rests for interval.
//
// An omitted interval takes the kind's default; an explicit "0s" makes the
// task due on every tick (for chunked tasks: run one pass, then disable).
type TaskConfig struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Interval string `json:"interval,omitempty"`
	Spec     string `json:"spec,omitempty"`
	Chunks   int    `json:"chunks,omitempty"`
	Gap      string `json:"gap,omitempty"`
	// Enabled is a pointer so an omitted field means enabled.
	Enabled *bool `json:"enabled,omitempty"`
}

func (t TaskConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

func (t TaskConfig) NormalizedKind() string { return strings.ToLower(strings.TrimSpace(t.Kind)) }
