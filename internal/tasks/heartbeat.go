package tasks

import (
	"time"

	"tinysched/internal/concurrency"
	logx "tinysched/pkg/logx"
)

// Heartbeat logs a line every time it runs. It keeps its interval.
type Heartbeat struct {
	log     logx.Logger
	started time.Time
	beats   uint64
}

// NewHeartbeat returns a heartbeat runner logging to log.
func NewHeartbeat(log logx.Logger) *Heartbeat {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Heartbeat{log: log}
}

func (h *Heartbeat) Beats() uint64 { return h.beats }

// RunOnce logs one heartbeat and keeps the interval.
func (h *Heartbeat) RunOnce(t *concurrency.Task) time.Duration {
	now := t.Now()
	if h.started.IsZero() {
		h.started = now
	}
	h.beats++
	h.log.Info("heartbeat",
		logx.String("task", t.Name()),
		logx.Uint64("beats", h.beats),
		logx.Duration("uptime", now.Sub(h.started)),
		logx.Int("tasks", t.Controller().Len()),
	)
	return concurrency.RunSame
}
