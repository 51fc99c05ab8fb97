package concurrency

import (
	"time"

	logx "tinysched/pkg/logx"
)

// RunSame is returned from RunOnce to keep the task's current interval.
// Any negative duration is treated the same way.
const RunSame time.Duration = -1

// Runner is the work a Task performs each time it is scheduled.
//
// RunOnce must not block. It returns the interval to wait before the next
// run, or RunSame to keep the current one. The Task is passed so the body can
// reschedule, disable or re-time itself.
type Runner interface {
	RunOnce(t *Task) time.Duration
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(t *Task) time.Duration

func (f RunnerFunc) RunOnce(t *Task) time.Duration { return f(t) }

// Task is one periodic unit of work registered with a Controller.
//
// Tasks are owned by their creator; the controller only references them.
// Apart from ShouldRun trace output, all methods must be called from the
// goroutine that drives the controller.
type Task struct {
	name   string
	ctl    *Controller
	runner Runner

	enabled  bool
	interval time.Duration
	lastRun  time.Time
	nextRun  time.Time

	runs         uint64
	lastDuration time.Duration
	closed       bool
}

// NewTask creates a task on the main controller. It panics if MarkSetup has
// not been called or the controller is full. See Controller.NewTask.
func NewTask(name string, interval time.Duration, r Runner) *Task {
	AssertIsSetup()
	return MainController().NewTask(name, interval, r)
}

func (t *Task) Name() string                { return t.name }
func (t *Task) String() string              { return t.name }
func (t *Task) Controller() *Controller     { return t.ctl }
func (t *Task) Enabled() bool               { return t.enabled }
func (t *Task) Interval() time.Duration     { return t.interval }
func (t *Task) LastRun() time.Time          { return t.lastRun }
func (t *Task) NextRun() time.Time          { return t.nextRun }
func (t *Task) Runs() uint64                { return t.runs }
func (t *Task) LastDuration() time.Duration { return t.lastDuration }

// Now reads the controller clock.
func (t *Task) Now() time.Time { return t.ctl.clock.Now() }

// SetEnabled enables or disables the task. A disabled task keeps its interval
// and deadline; it is simply skipped by the controller.
func (t *Task) SetEnabled(enabled bool) { t.enabled = enabled }

// SetInterval changes the interval, keeping the deadline anchored to the last run.
func (t *Task) SetInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.interval = d
	t.nextRun = t.lastRun.Add(d)
}

// SetIntervalFromNow changes the interval and restarts the countdown from the
// current time rather than from the last run.
func (t *Task) SetIntervalFromNow(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.interval = d
	t.nextRun = t.Now().Add(d)
}

// Reschedule makes the task eligible on the next tick and arms the
// controller's run-ASAP override so the loop polls again without sleeping.
func (t *Task) Reschedule() {
	t.SetInterval(0)
	t.ctl.BlockDelay()
}

// ShouldRun reports whether the task is enabled and its deadline is at or
// before now. When tracing is enabled it logs exactly one line describing the
// decision; tracing never changes the result.
func (t *Task) ShouldRun(now time.Time) bool {
	return t.shouldRun(now, t.ctl.tracer())
}

func (t *Task) shouldRun(now time.Time, tr *tracer) bool {
	r := t.enabled && !now.Before(t.nextRun)
	if !tr.enabled() {
		return r
	}

	at := t.ctl.clock.Now()
	switch {
	case r:
		if tr.flags.ShowRun {
			tr.emit(t.ctl.log, at, "task will run", logx.String("task", t.name))
		}
	case t.enabled:
		if tr.flags.ShowWaiting {
			tr.emit(t.ctl.log, at, "task waiting",
				logx.String("task", t.name),
				logx.Duration("interval", t.interval),
				logx.Duration("remaining", t.nextRun.Sub(now)),
			)
		}
	default:
		if tr.flags.ShowDisabled {
			tr.emit(t.ctl.log, at, "task disabled", logx.String("task", t.name))
		}
	}
	return r
}

// Run invokes the task body once. The controller calls it for the selected
// task; calling it directly runs the task out of band with the same
// bookkeeping. A panic in the body is not recovered.
func (t *Task) Run() {
	c := t.ctl
	c.current = t
	defer func() { c.current = nil }()

	started := c.clock.Now()
	next := t.runner.RunOnce(t)
	finished := c.clock.Now()

	t.runned(finished)
	if next >= 0 {
		t.SetInterval(next)
	}
	t.runs++
	t.lastDuration = finished.Sub(started)

	c.publishRun(t, started, next)
}

func (t *Task) runned(now time.Time) {
	t.lastRun = now
	t.nextRun = now.Add(t.interval)
}

// Close deregisters the task from its controller. It fails with
// ErrTaskRunning if called from the task's own body.
func (t *Task) Close() error {
	if t.closed {
		return nil
	}
	if t.ctl.current == t {
		return ErrTaskRunning
	}
	t.ctl.Remove(t)
	t.closed = true
	return nil
}

// TaskStatus is a point-in-time view of one task.
type TaskStatus struct {
	Name         string        `json:"name"`
	Enabled      bool          `json:"enabled"`
	Interval     time.Duration `json:"interval"`
	LastRun      time.Time     `json:"last_run"`
	NextRun      time.Time     `json:"next_run"`
	Runs         uint64        `json:"runs"`
	LastDuration time.Duration `json:"last_duration"`
}

func (t *Task) status() TaskStatus {
	return TaskStatus{
		Name:         t.name,
		Enabled:      t.enabled,
		Interval:     t.interval,
		LastRun:      t.lastRun,
		NextRun:      t.nextRun,
		Runs:         t.runs,
		LastDuration: t.lastDuration,
	}
}
