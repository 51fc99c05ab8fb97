package tasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"tinysched/internal/concurrency"
	logx "tinysched/pkg/logx"
)

// SecondOptional allows both 5-field and 6-field (with seconds) specs, plus
// descriptors such as "@hourly" and "@every 30s".
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Cron runs a job at the times described by a cron spec. Each run returns the
// delay until the next fire time, so the controller's deadline tracks the
// calendar instead of a fixed interval.
type Cron struct {
	spec  string
	sched cron.Schedule
	job   func(t *concurrency.Task)
	log   logx.Logger
}

// NewCron parses spec (optional seconds field, or a descriptor such as
// "@hourly"). job may be nil.
func NewCron(spec string, job func(t *concurrency.Task), log logx.Logger) (*Cron, error) {
	spec = strings.TrimSpace(spec)
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("cron spec %q: %w", spec, err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cron{spec: spec, sched: sched, job: job, log: log}, nil
}

func (c *Cron) Spec() string { return c.spec }

// Until returns the delay from now to the next fire time. Use it as the
// initial task interval.
func (c *Cron) Until(now time.Time) time.Duration {
	d := c.sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RunOnce runs the job and returns the delay to the next fire time.
func (c *Cron) RunOnce(t *concurrency.Task) time.Duration {
	if c.job != nil {
		c.job(t)
	}
	next := c.Until(t.Now())
	c.log.Debug("cron fired", logx.String("task", t.Name()), logx.String("spec", c.spec), logx.Duration("next_in", next))
	return next
}
