package concurrency

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"tinysched/internal/eventbus"
	logx "tinysched/pkg/logx"
)

// Controller owns the registered tasks and decides which one runs next.
//
// RunOrDelay, Add, Remove and task construction must be called from a single
// goroutine (the scheduler loop). BlockDelay, UnblockDelay, IsDelayBlocked
// and Apply are safe to call from any goroutine.
type Controller struct {
	name    string
	clock   clock.Clock
	log     logx.Logger
	bus     eventbus.Bus
	barrier *Barrier

	cfgMu sync.Mutex
	cfg   Config
	trace atomic.Pointer[tracer]

	tasks   []*Task
	current *Task

	// runASAP is the run-ASAP override: armed by BlockDelay, consumed by
	// exactly one RunOrDelay.
	runASAP atomic.Bool

	ticks uint64
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source. Defaults to the wall clock.
func WithClock(c clock.Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

// WithLogger sets the diagnostics logger.
func WithLogger(log logx.Logger) Option { return func(ctl *Controller) { ctl.log = log } }

// WithBus publishes task lifecycle events on b.
func WithBus(b eventbus.Bus) Option { return func(ctl *Controller) { ctl.bus = b } }

// WithBarrier makes task construction check b instead of the process-wide barrier.
func WithBarrier(b *Barrier) Option { return func(ctl *Controller) { ctl.barrier = b } }

// WithName sets the controller name used in logs.
func WithName(name string) Option { return func(ctl *Controller) { ctl.name = name } }

// NewController creates an empty controller.
func NewController(cfg Config, opts ...Option) *Controller {
	c := &Controller{name: "controller"}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	if c.barrier == nil {
		c.barrier = &setup
	}
	c.log = c.log.With(logx.String("controller", c.name))
	c.Apply(cfg)
	return c
}

var (
	mainOnce sync.Once
	mainCtl  *Controller
)

// InitMainController creates the process-wide controller with cfg and opts.
// Only the first call (or the first MainController call) creates it; later
// calls return the existing controller unchanged. It panics if MarkSetup has
// not been called.
func InitMainController(cfg Config, opts ...Option) *Controller {
	AssertIsSetup()
	mainOnce.Do(func() {
		opts = append([]Option{WithName("mainController")}, opts...)
		mainCtl = NewController(cfg, opts...)
	})
	return mainCtl
}

// MainController returns the process-wide controller, creating it with
// defaults on first use. It panics if MarkSetup has not been called.
func MainController() *Controller { return InitMainController(Config{}) }

// Apply replaces the controller configuration. Lowering MaxTasks below the
// current task count keeps existing tasks and rejects new ones.
func (c *Controller) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.cfgMu.Lock()
	c.cfg = cfg
	c.cfgMu.Unlock()
	c.trace.Store(newTracer(cfg.Trace))
}

// SetTrace replaces only the trace flags.
func (c *Controller) SetTrace(t Trace) {
	c.cfgMu.Lock()
	c.cfg.Trace = t
	c.cfgMu.Unlock()
	c.trace.Store(newTracer(t))
}

func (c *Controller) config() Config {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	return c.cfg
}

func (c *Controller) tracer() *tracer { return c.trace.Load() }

func (c *Controller) Name() string       { return c.name }
func (c *Controller) Clock() clock.Clock { return c.clock }
func (c *Controller) Len() int           { return len(c.tasks) }

// Current returns the task whose body is executing, or nil. It exists for
// diagnostics and is not a lock.
func (c *Controller) Current() *Task { return c.current }

// NewTask creates a task, registers it and returns it. The first deadline is
// now+interval. It panics (wrapping ErrNotSetup) if the controller's barrier
// has not been crossed, and (wrapping ErrCapacity) if the controller is full:
// a periodic task that cannot register would silently never run.
func (c *Controller) NewTask(name string, interval time.Duration, r Runner) *Task {
	c.barrier.Assert("task " + strconv.Quote(name))
	if r == nil {
		panic(fmt.Sprintf("concurrency: task %q has a nil Runner", name))
	}
	if interval < 0 {
		interval = 0
	}

	now := c.clock.Now()
	t := &Task{
		name:     name,
		ctl:      c,
		runner:   r,
		enabled:  true,
		interval: interval,
		lastRun:  now,
		nextRun:  now.Add(interval),
	}
	if !c.Add(t) {
		limit := c.config().MaxTasks
		c.log.Error("task registration failed", logx.String("task", name), logx.Int("max_tasks", limit))
		panic(fmt.Errorf("%w: task %q (max_tasks=%d)", ErrCapacity, name, limit))
	}
	return t
}

// Add registers t. Adding an already registered task is a no-op that reports
// true. It reports false if the controller is full or t belongs to another
// controller; existing registrations are never touched.
func (c *Controller) Add(t *Task) bool {
	if t == nil || t.ctl != c {
		return false
	}
	if c.indexOf(t) >= 0 {
		return true
	}
	if limit := c.config().MaxTasks; limit > 0 && len(c.tasks) >= limit {
		c.log.Warn("controller full", logx.String("task", t.name), logx.Int("max_tasks", limit))
		return false
	}
	c.tasks = append(c.tasks, t)
	t.closed = false
	c.log.Debug("task added", logx.String("task", t.name), logx.Duration("interval", t.interval))
	c.publish(eventbus.TypeTaskAdded, t, time.Time{}, 0, RunSame)
	return true
}

// Remove deregisters t, keeping the order of the remaining tasks.
// It reports whether t was registered.
func (c *Controller) Remove(t *Task) bool {
	i := c.indexOf(t)
	if i < 0 {
		return false
	}
	copy(c.tasks[i:], c.tasks[i+1:])
	c.tasks[len(c.tasks)-1] = nil
	c.tasks = c.tasks[:len(c.tasks)-1]
	c.log.Debug("task removed", logx.String("task", t.name))
	c.publish(eventbus.TypeTaskRemoved, t, time.Time{}, 0, RunSame)
	return true
}

func (c *Controller) indexOf(t *Task) int {
	for i, x := range c.tasks {
		if x == t {
			return i
		}
	}
	return -1
}

// BlockDelay arms the run-ASAP override. Multiple calls before the next
// RunOrDelay coalesce into one.
func (c *Controller) BlockDelay() { c.runASAP.Store(true) }

// UnblockDelay disarms the run-ASAP override.
func (c *Controller) UnblockDelay() { c.runASAP.Store(false) }

// IsDelayBlocked reports whether the run-ASAP override is armed.
func (c *Controller) IsDelayBlocked() bool { return c.runASAP.Load() }

// RunOrDelay is one scheduler tick. It runs the most overdue enabled task
// (earliest deadline, ties by registration order), if any, and returns how
// long the caller may sleep before the next tick:
//   - the time until the nearest enabled deadline, floored at 0;
//   - IdleCeiling when no enabled task is registered;
//   - 0 when the run-ASAP override was armed (the override is consumed).
func (c *Controller) RunOrDelay() time.Duration {
	cfg := c.config()
	tr := c.tracer()
	c.ticks++

	now := c.clock.Now()
	var next *Task
	for _, t := range c.tasks {
		if !t.shouldRun(now, tr) {
			continue
		}
		if next == nil || t.nextRun.Before(next.nextRun) {
			next = t
		}
	}
	if next != nil {
		next.Run()
	}

	delay := c.delayUntilNext(cfg.IdleCeiling)

	if c.runASAP.CompareAndSwap(true, false) {
		return 0
	}
	return delay
}

func (c *Controller) delayUntilNext(ceiling time.Duration) time.Duration {
	var (
		nearest time.Time
		found   bool
	)
	for _, t := range c.tasks {
		if !t.enabled {
			continue
		}
		if !found || t.nextRun.Before(nearest) {
			nearest = t.nextRun
			found = true
		}
	}
	if !found {
		return ceiling
	}

	if d := nearest.Sub(c.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// TaskEvent is the payload of task.* events on the bus.
type TaskEvent struct {
	Controller string        `json:"controller"`
	Task       string        `json:"task"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration,omitempty"`
	Interval   time.Duration `json:"interval"`
	// Returned is what RunOnce returned; RunSame for non-run events.
	Returned time.Duration `json:"returned"`
}

func (c *Controller) publishRun(t *Task, started time.Time, returned time.Duration) {
	c.publish(eventbus.TypeTaskRun, t, started, t.lastDuration, returned)
}

func (c *Controller) publish(typ string, t *Task, started time.Time, took, returned time.Duration) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{
		Type: typ,
		Time: c.clock.Now(),
		Data: TaskEvent{
			Controller: c.name,
			Task:       t.name,
			Started:    started,
			Duration:   took,
			Interval:   t.interval,
			Returned:   returned,
		},
	})
}

// Snapshot is a point-in-time view of a controller.
type Snapshot struct {
	Name         string        `json:"name"`
	MaxTasks     int           `json:"max_tasks"`
	IdleCeiling  time.Duration `json:"idle_ceiling"`
	Ticks        uint64        `json:"ticks"`
	DelayBlocked bool          `json:"delay_blocked"`
	Current      string        `json:"current,omitempty"`
	Tasks        []TaskStatus  `json:"tasks"`
}

// Snapshot returns the controller state. Like RunOrDelay it must be called
// from the scheduler goroutine.
func (c *Controller) Snapshot() Snapshot {
	cfg := c.config()
	s := Snapshot{
		Name:         c.name,
		MaxTasks:     cfg.MaxTasks,
		IdleCeiling:  cfg.IdleCeiling,
		Ticks:        c.ticks,
		DelayBlocked: c.IsDelayBlocked(),
		Tasks:        make([]TaskStatus, 0, len(c.tasks)),
	}
	if c.current != nil {
		s.Current = c.current.name
	}
	for _, t := range c.tasks {
		s.Tasks = append(s.Tasks, t.status())
	}
	return s
}
