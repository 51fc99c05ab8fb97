package tasks

import (
	"fmt"
	"strings"
	"time"

	"tinysched/internal/concurrency"
	"tinysched/internal/config"
	logx "tinysched/pkg/logx"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultChunkRest         = time.Minute
	DefaultChunks            = 10
)

// Built is a configured runner and its first interval.
type Built struct {
	Name     string
	Runner   concurrency.Runner
	Interval time.Duration
	Enabled  bool
}

// FromConfig builds the runner for tc. now anchors calendar tasks.
func FromConfig(tc config.TaskConfig, now time.Time, log logx.Logger) (Built, error) {
	name := strings.TrimSpace(tc.Name)
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("task", name))
	b := Built{Name: name, Enabled: tc.IsEnabled()}

	switch tc.NormalizedKind() {
	case config.KindHeartbeat:
		iv, err := config.TaskInterval(tc, DefaultHeartbeatInterval)
		if err != nil {
			return Built{}, err
		}
		b.Runner, b.Interval = NewHeartbeat(log), iv

	case config.KindCron:
		c, err := NewCron(tc.Spec, func(t *concurrency.Task) {
			log.Info("scheduled job fired", logx.Uint64("runs", t.Runs()+1))
		}, log)
		if err != nil {
			return Built{}, fmt.Errorf("tasks.%s: %w", name, err)
		}
		b.Runner, b.Interval = c, c.Until(now)

	case config.KindChunked:
		rest, err := config.TaskInterval(tc, DefaultChunkRest)
		if err != nil {
			return Built{}, err
		}
		gap, err := config.ParseDurationField("tasks."+name+".gap", tc.Gap)
		if err != nil {
			return Built{}, err
		}
		n := tc.Chunks
		if n <= 0 {
			n = DefaultChunks
		}
		b.Runner = NewChunked(Countdown(n), gap, rest, log)

	default:
		return Built{}, fmt.Errorf("tasks.%s: unknown kind %q", name, tc.Kind)
	}
	return b, nil
}

// Register creates the task on ctl and applies its enabled flag.
func (b Built) Register(ctl *concurrency.Controller) *concurrency.Task {
	t := ctl.NewTask(b.Name, b.Interval, b.Runner)
	t.SetEnabled(b.Enabled)
	return t
}
