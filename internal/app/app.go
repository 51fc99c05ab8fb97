package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tinysched/internal/concurrency"
	"tinysched/internal/config"
	"tinysched/internal/eventbus"
	"tinysched/internal/observability/debug"
	"tinysched/internal/runloop"
	"tinysched/internal/runtime/supervisor"
	"tinysched/internal/storage"
	logx "tinysched/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	rec   *storage.Recorder

	ctl   *concurrency.Controller
	drv   *runloop.Driver
	tasks *taskSet

	dbg *debug.Server

	// notify reports service state to systemd; swapped in tests.
	notify func(state string) (bool, error)
}

// NewApp loads the config, crosses the setup barrier and registers the
// configured tasks on the main controller. The loop is not started.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateTasks(cfg); err != nil {
		return nil, err
	}
	ctlCfg, err := cfg.Scheduler.ControllerConfig()
	if err != nil {
		return nil, err
	}
	dbgCfg, dbgEnabled, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var (
		store storage.Store
		rec   *storage.Recorder
	)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return nil, err
		}
		store = st
		rec = storage.NewRecorder(st, bus, root)
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	concurrency.MarkSetup()
	ctl := concurrency.InitMainController(ctlCfg,
		concurrency.WithLogger(root.With(logx.String("comp", "scheduler"))),
		concurrency.WithBus(bus),
	)
	// The main controller may predate this app; make sure it runs our config.
	ctl.Apply(ctlCfg)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		rec:     rec,
		ctl:     ctl,
		drv:     runloop.New(ctl, root.With(logx.String("comp", "runloop"))),
		tasks:   newTaskSet(root.With(logx.String("comp", "tasks"))),
		notify:  func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}

	if dbgEnabled {
		a.dbg = debug.New(dbgCfg, func(ctx context.Context) (any, error) {
			return a.Status(ctx, 20)
		}, root)
	}

	// The loop is not running yet, so tasks can be registered directly.
	if err := a.tasks.reconcile(ctl, cfg.Tasks); err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	a.tasks.applyWatchdog(ctl, cfg.Watchdog.Enabled)
	return a, nil
}

func (a *App) Controller() *concurrency.Controller { return a.ctl }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log)
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		return validateTasks(cfg)
	})

	a.sup.Go("scheduler.loop", a.drv.Run)
	if a.rec != nil {
		a.sup.GoRestart("journal.record", a.rec.Run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Runs are journaled; only log lifecycle events.
				if e.Type == eventbus.TypeTaskRun {
					continue
				}
				if te, ok := e.Data.(concurrency.TaskEvent); ok {
					a.log.Debug("event", logx.String("type", e.Type), logx.String("task", te.Task), logx.Time("time", e.Time))
				}
			}
		}
	})

	if a.dbg != nil {
		// Debug server errors are not fatal.
		a.sup.Go0("debug.http", func(c context.Context) {
			if err := a.dbg.Run(c); err != nil {
				a.log.Warn("debug server stopped", logx.Err(err))
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if ok, err := a.notify(daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.String("state", "ready"), logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified", logx.String("state", "ready"))
	}
	a.log.Info("app started", logx.Int("tasks", len(a.tasks.byName)))
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-c.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			newCfg = cfg
		}
		// Coalesce bursts: keep only the latest config in the channel.
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}

		sections, attrs, changedTasks := config.SummarizeConfigChange(lastApplied, newCfg)
		lastApplied = newCfg
		if len(sections) == 0 {
			a.log.Info("config reloaded (no changes)")
			continue
		}
		a.apply(newCfg, sections, changedTasks)

		fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
		a.log.Info("config reloaded", fields...)
	}
}

// apply pushes a validated config into the running components. Controller
// config is swapped directly; task changes run on the loop goroutine.
func (a *App) apply(cfg *config.Config, sections, changedTasks []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(cfg))
		case "storage", "debug":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	ctlCfg, err := cfg.Scheduler.ControllerConfig()
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.ctl.Apply(ctlCfg)
	}

	if len(changedTasks) > 0 {
		a.log.Debug("task config changes detected", logx.Any("tasks", changedTasks))
	}
	want := cfg.Tasks
	watchdog := cfg.Watchdog.Enabled
	a.drv.Submit(func(ctl *concurrency.Controller) {
		if err := a.tasks.reconcile(ctl, want); err != nil {
			a.log.Warn("task reload incomplete", logx.Err(err))
		}
		a.tasks.applyWatchdog(ctl, watchdog)
	})
}

// Status is a diagnostic view of the running app.
type Status struct {
	Controller concurrency.Snapshot `json:"controller"`
	Loop       runloop.Stats        `json:"loop"`
	Supervisor supervisor.Snapshot  `json:"supervisor"`
	RecentRuns []storage.RunRecord  `json:"recent_runs,omitempty"`
	Dropped    uint64               `json:"bus_dropped"`
}

// Status collects a snapshot. The controller part is taken on the loop
// goroutine, so the loop must be running.
func (a *App) Status(ctx context.Context, recent int) (Status, error) {
	snapCh := make(chan concurrency.Snapshot, 1)
	a.drv.Submit(func(ctl *concurrency.Controller) { snapCh <- ctl.Snapshot() })

	var st Status
	select {
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case st.Controller = <-snapCh:
	}
	st.Loop = a.drv.Stats()
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	st.Dropped = eventbus.Dropped(a.bus)
	if a.store != nil && recent > 0 {
		runs, err := a.store.RecentRuns(ctx, recent)
		if err != nil {
			return st, fmt.Errorf("recent runs: %w", err)
		}
		st.RecentRuns = runs
	}
	return st, nil
}

// LogStatus writes a compact status summary to the app log.
func (a *App) LogStatus(ctx context.Context) {
	st, err := a.Status(ctx, 5)
	if err != nil {
		a.log.Warn("status unavailable", logx.Err(err))
		return
	}
	a.log.Info("status",
		logx.Int("tasks", len(st.Controller.Tasks)),
		logx.Uint64("ticks", st.Loop.Ticks),
		logx.Duration("slept", st.Loop.Slept),
		logx.Int64("goroutines", st.Supervisor.Active),
		logx.Uint64("bus_dropped", st.Dropped),
	)
	for _, t := range st.Controller.Tasks {
		a.log.Info("task status",
			logx.String("task", t.Name),
			logx.Bool("enabled", t.Enabled),
			logx.Duration("interval", t.Interval),
			logx.Uint64("runs", t.Runs),
			logx.Time("next_run", t.NextRun),
		)
	}
	for _, r := range st.RecentRuns {
		a.log.Debug("recent run", logx.String("task", r.Task), logx.Time("at", r.At), logx.Duration("took", r.Duration))
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.notify(daemon.SdNotifyStopping); err != nil {
		a.log.Debug("systemd notify failed", logx.String("state", "stopping"), logx.Err(err))
	}

	// Cancel first so every loop starts unwinding immediately.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	var loopStopped atomic.Bool
	step("supervisor", 3*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		loopStopped.Store(c.Err() == nil)
		return err
	})

	// With the loop gone the controller can be read from here.
	if loopStopped.Load() {
		snap := a.ctl.Snapshot()
		for _, t := range snap.Tasks {
			a.log.Info("task final", logx.String("task", t.Name), logx.Uint64("runs", t.Runs))
		}
	}

	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped", logx.Uint64("ticks", a.drv.Stats().Ticks))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
