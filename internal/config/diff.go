package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tinysched/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed section names, (2) compact
// attrs for logging and (3) the names of tasks that were added, removed or
// modified.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oSch, nSch := oldCfg.Scheduler, newCfg.Scheduler
	if oSch.MaxTasks != nSch.MaxTasks || strings.TrimSpace(oSch.IdleCeiling) != strings.TrimSpace(nSch.IdleCeiling) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.max_tasks", nSch.MaxTasks),
			logx.String("scheduler.idle_ceiling", strings.TrimSpace(nSch.IdleCeiling)),
		)
	}
	if oSch.Trace != nSch.Trace {
		changed = append(changed, "trace")
		attrs = append(attrs,
			logx.Bool("trace.show_run", nSch.Trace.ShowRun),
			logx.Bool("trace.show_waiting", nSch.Trace.ShowWaiting),
			logx.Bool("trace.show_disabled", nSch.Trace.ShowDisabled),
			logx.Int("trace.rate_per_sec", nSch.Trace.RatePerSec),
		)
	}

	// Nil storage means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	var oRetain, nRetain int
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
		oRetain = s.Retain
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPathSet = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path) != ""
		nRetain = s.Retain
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet || oRetain != nRetain {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
		)
	}

	if oldCfg.Watchdog != newCfg.Watchdog {
		changed = append(changed, "watchdog")
		attrs = append(attrs, logx.Bool("watchdog.enabled", newCfg.Watchdog.Enabled))
	}

	var oDebug, nDebug DebugConfig
	if oldCfg.Debug != nil {
		oDebug = *oldCfg.Debug
	}
	if newCfg.Debug != nil {
		nDebug = *newCfg.Debug
	}
	if oDebug != nDebug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nDebug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nDebug.Addr)),
			logx.Bool("debug.token_set", nDebug.Token != ""),
		)
	}

	taskChanged := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(taskChanged) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.changed_count", len(taskChanged)),
			logx.Int("tasks.enabled_count", countEnabled(newCfg.Tasks)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, taskChanged
}

func countEnabled(ts []TaskConfig) int {
	n := 0
	for _, t := range ts {
		if t.IsEnabled() {
			n++
		}
	}
	return n
}

func diffTasks(oldTs, newTs []TaskConfig) []string {
	byName := func(ts []TaskConfig) map[string]TaskConfig {
		m := make(map[string]TaskConfig, len(ts))
		for _, t := range ts {
			m[strings.TrimSpace(t.Name)] = t
		}
		return m
	}
	oldM, newM := byName(oldTs), byName(newTs)

	set := make(map[string]struct{}, len(oldM)+len(newM))
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o, inOld := oldM[name]
		n, inNew := newM[name]
		if inOld != inNew || o.IsEnabled() != n.IsEnabled() || !sameTask(o, n) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func sameTask(a, b TaskConfig) bool {
	a.Enabled, b.Enabled = nil, nil
	return reflect.DeepEqual(a, b)
}
