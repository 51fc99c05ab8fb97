package concurrency

import "time"

const (
	// DefaultMaxTasks is the registration capacity used when Config.MaxTasks is 0.
	DefaultMaxTasks = 32

	// DefaultIdleCeiling is the delay RunOrDelay recommends when no enabled task is registered.
	DefaultIdleCeiling = time.Second
)

// Trace selects which scheduling decisions are written to the diagnostics log.
// Each flag gates one category of ShouldRun trace line.
type Trace struct {
	ShowRun      bool
	ShowWaiting  bool
	ShowDisabled bool

	// RatePerSec caps trace lines per second. 0 disables the limit.
	RatePerSec int
}

func (t Trace) any() bool { return t.ShowRun || t.ShowWaiting || t.ShowDisabled }

// Config controls a Controller.
//
// Defaults (when fields are zero):
//   - MaxTasks: DefaultMaxTasks (negative means unbounded)
//   - IdleCeiling: DefaultIdleCeiling
type Config struct {
	MaxTasks    int
	IdleCeiling time.Duration
	Trace       Trace
}

func (c Config) withDefaults() Config {
	if c.MaxTasks == 0 {
		c.MaxTasks = DefaultMaxTasks
	}
	if c.IdleCeiling <= 0 {
		c.IdleCeiling = DefaultIdleCeiling
	}
	if c.Trace.RatePerSec < 0 {
		c.Trace.RatePerSec = 0
	}
	return c
}
