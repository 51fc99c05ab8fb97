package app

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"tinysched/internal/concurrency"
	"tinysched/internal/config"
	"tinysched/internal/tasks"
	logx "tinysched/pkg/logx"
)

const watchdogTaskName = "systemd.watchdog"

// taskSet tracks the tasks built from config so a reload can add, remove
// and toggle them. Every method must run on the scheduler loop goroutine
// (or before the loop starts).
type taskSet struct {
	log      logx.Logger
	byName   map[string]managedTask
	watchdog *concurrency.Task
}

type managedTask struct {
	cfg  config.TaskConfig
	task *concurrency.Task
}

func newTaskSet(log logx.Logger) *taskSet {
	return &taskSet{log: log, byName: map[string]managedTask{}}
}

// reconcile makes the controller's configured tasks match want. A task whose
// definition changed is closed and rebuilt; a task whose enabled flag alone
// changed is toggled in place so it keeps its deadline.
func (s *taskSet) reconcile(ctl *concurrency.Controller, want []config.TaskConfig) error {
	wanted := make(map[string]config.TaskConfig, len(want))
	for _, tc := range want {
		wanted[strings.TrimSpace(tc.Name)] = tc
	}

	var errs []error
	for name, mt := range s.byName {
		tc, keep := wanted[name]
		if keep && sameDefinition(mt.cfg, tc) {
			continue
		}
		if err := mt.task.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			continue
		}
		delete(s.byName, name)
		s.log.Info("task removed", logx.String("task", name))
	}

	now := ctl.Clock().Now()
	for _, tc := range want {
		name := strings.TrimSpace(tc.Name)
		if mt, ok := s.byName[name]; ok {
			if mt.task.Enabled() != tc.IsEnabled() {
				mt.task.SetEnabled(tc.IsEnabled())
				s.log.Info("task toggled", logx.String("task", name), logx.Bool("enabled", tc.IsEnabled()))
			}
			mt.cfg = tc
			s.byName[name] = mt
			continue
		}

		b, err := tasks.FromConfig(tc, now, s.log)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		t, err := register(ctl, b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.byName[name] = managedTask{cfg: tc, task: t}
		s.log.Info("task added",
			logx.String("task", name),
			logx.String("kind", tc.NormalizedKind()),
			logx.Duration("interval", t.Interval()),
			logx.Bool("enabled", t.Enabled()),
		)
	}
	return errors.Join(errs...)
}

func sameDefinition(a, b config.TaskConfig) bool {
	a.Enabled, b.Enabled = nil, nil
	return reflect.DeepEqual(a, b)
}

// register turns a capacity panic into an error; other panics propagate.
func register(ctl *concurrency.Controller, b tasks.Built) (t *concurrency.Task, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok && errors.Is(e, concurrency.ErrCapacity) {
				err = e
				return
			}
			panic(r)
		}
	}()
	return b.Register(ctl), nil
}

// applyWatchdog registers or removes the systemd watchdog pinger.
func (s *taskSet) applyWatchdog(ctl *concurrency.Controller, enabled bool) {
	if !enabled {
		if s.watchdog != nil && s.watchdog.Close() == nil {
			s.watchdog = nil
			s.log.Info("watchdog disabled")
		}
		return
	}
	if s.watchdog != nil {
		return
	}

	every, err := tasks.WatchdogInterval()
	if err != nil {
		s.log.Warn("watchdog check failed", logx.Err(err))
		return
	}
	if every <= 0 {
		s.log.Info("watchdog enabled in config but not requested by systemd")
		return
	}
	t, err := register(ctl, tasks.Built{
		Name:     watchdogTaskName,
		Runner:   tasks.NewWatchdog(s.log),
		Interval: every,
		Enabled:  true,
	})
	if err != nil {
		s.log.Error("watchdog registration failed", logx.Err(err))
		return
	}
	s.watchdog = t
	s.log.Info("watchdog enabled", logx.Duration("every", every))
}

// validateTasks builds every configured task without registering it, so a
// reload with a bad cron spec is rejected before it is committed.
func validateTasks(cfg *config.Config) error {
	var errs []error
	for _, tc := range cfg.Tasks {
		if strings.TrimSpace(tc.Name) == watchdogTaskName {
			errs = append(errs, fmt.Errorf("tasks: name %q is reserved", watchdogTaskName))
			continue
		}
		if _, err := tasks.FromConfig(tc, time.Now(), logx.Nop()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
