package storage

import (
	"errors"
	"time"

	"tinysched/internal/concurrency"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// DefaultRetain is the number of run records kept when Config.Retain is 0.
const DefaultRetain = 1000

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file at <path without ext>.runs.jsonl
//   - "sqlite": SQLite database file (build tag sqlite)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	Retain      int           // records kept; 0 means DefaultRetain
	BusyTimeout time.Duration // sqlite only; 0 means default
}

func (c Config) retain() int {
	if c.Retain <= 0 {
		return DefaultRetain
	}
	return c.Retain
}

// RunRecord is one completed task run.
type RunRecord struct {
	At         time.Time     `json:"at"`
	Controller string        `json:"controller"`
	Task       string        `json:"task"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Interval   time.Duration `json:"interval"`
	Returned   time.Duration `json:"returned"`
}

// RecordFromEvent converts a task.run payload.
func RecordFromEvent(at time.Time, ev concurrency.TaskEvent) RunRecord {
	return RunRecord{
		At:         at,
		Controller: ev.Controller,
		Task:       ev.Task,
		Started:    ev.Started,
		Duration:   ev.Duration,
		Interval:   ev.Interval,
		Returned:   ev.Returned,
	}
}
