package runloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tinysched/internal/concurrency"
	logx "tinysched/pkg/logx"
)

// Driver is the main scheduling loop: it calls RunOrDelay and sleeps for the
// returned duration, forever. It is the only goroutine that may touch the
// controller's tasks.
type Driver struct {
	ctl   *concurrency.Controller
	delay *Delay
	log   logx.Logger

	mu      sync.Mutex
	pending []func(*concurrency.Controller)

	ticks       atomic.Uint64
	sleeps      atomic.Uint64
	interrupted atomic.Uint64
	slept       atomic.Int64
	submitted   atomic.Uint64
}

// Stats are best-effort loop counters. Slept sums the requested sleeps;
// interrupted sleeps end early.
type Stats struct {
	Ticks       uint64        `json:"ticks"`
	Sleeps      uint64        `json:"sleeps"`
	Interrupted uint64        `json:"interrupted"`
	Slept       time.Duration `json:"slept"`
	Submitted   uint64        `json:"submitted"`
}

// New returns a Driver for ctl. The loop starts with Run.
func New(ctl *concurrency.Controller, log logx.Logger) *Driver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Driver{
		ctl:   ctl,
		delay: NewDelay(ctl.Clock()),
		log:   log,
	}
}

// Run drives the controller until ctx is done. It returns nil on cancellation.
// A panicking task body is not recovered here.
func (d *Driver) Run(ctx context.Context) error {
	d.log.Info("scheduler loop started", logx.String("controller", d.ctl.Name()), logx.Int("tasks", d.ctl.Len()))
	defer d.log.Info("scheduler loop stopped", logx.Uint64("ticks", d.ticks.Load()))

	for ctx.Err() == nil {
		d.drain()
		wait := d.ctl.RunOrDelay()
		d.ticks.Add(1)

		if wait > 0 {
			d.sleeps.Add(1)
			d.slept.Add(int64(wait))
		}
		if d.delay.Delay(ctx, wait) {
			d.interrupted.Add(1)
		}
	}
	return nil
}

// Submit queues fn to run on the loop goroutine before the next tick and
// wakes the loop. Use it to add, remove or retime tasks from other
// goroutines. Functions still queued when Run returns are dropped.
func (d *Driver) Submit(fn func(ctl *concurrency.Controller)) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.pending = append(d.pending, fn)
	d.mu.Unlock()
	d.submitted.Add(1)
	d.Wake()
}

func (d *Driver) drain() {
	d.mu.Lock()
	fns := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, fn := range fns {
		fn(d.ctl)
	}
}

// Wake makes the loop poll again without waiting out its current sleep.
// Safe to call from any goroutine.
func (d *Driver) Wake() {
	d.ctl.BlockDelay()
	d.delay.Interrupt()
}

// Stats returns a snapshot of the loop counters. Safe from any goroutine.
func (d *Driver) Stats() Stats {
	return Stats{
		Ticks:       d.ticks.Load(),
		Sleeps:      d.sleeps.Load(),
		Interrupted: d.interrupted.Load(),
		Slept:       time.Duration(d.slept.Load()),
		Submitted:   d.submitted.Load(),
	}
}
