package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"tinysched/internal/concurrency"
	logx "tinysched/pkg/logx"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks structure and durations. It does not parse cron specs;
// task construction reports those.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	if !logx.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("%w: logging.level: unknown level %q", ErrInvalid, c.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", logx.FormatConsole, logx.FormatJSON:
	default:
		return fmt.Errorf("%w: logging.format: want console or json, got %q", ErrInvalid, c.Logging.Format)
	}
	if _, err := c.Scheduler.ControllerConfig(); err != nil {
		return err
	}
	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("%w: storage.driver: unknown driver %q", ErrInvalid, s.Driver)
		}
		if s.Retain < 0 {
			return fmt.Errorf("%w: storage.retain must be >= 0", ErrInvalid)
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if d := c.Debug; d != nil && strings.TrimSpace(d.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(d.Addr)); err != nil {
			return fmt.Errorf("%w: debug.addr: %v", ErrInvalid, err)
		}
	}

	seen := make(map[string]struct{}, len(c.Tasks))
	for i, t := range c.Tasks {
		path := fmt.Sprintf("tasks[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("%w: %s.name is required", ErrInvalid, path)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s.name %q is duplicated", ErrInvalid, path, name)
		}
		seen[name] = struct{}{}

		if _, err := ParseDurationField(path+".interval", t.Interval); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		switch t.NormalizedKind() {
		case KindHeartbeat:
		case KindCron:
			if strings.TrimSpace(t.Spec) == "" {
				return fmt.Errorf("%w: %s.spec is required for cron tasks", ErrInvalid, path)
			}
		case KindChunked:
			if t.Chunks < 0 {
				return fmt.Errorf("%w: %s.chunks must be >= 0", ErrInvalid, path)
			}
			if _, err := ParseDurationField(path+".gap", t.Gap); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalid, err)
			}
		default:
			return fmt.Errorf("%w: %s.kind: unknown kind %q", ErrInvalid, path, t.Kind)
		}
	}
	return nil
}

// ControllerConfig maps the scheduler section onto the controller's config.
func (s SchedulerConfig) ControllerConfig() (concurrency.Config, error) {
	ceiling, err := ParseDurationOrDefault("scheduler.idle_ceiling", s.IdleCeiling, concurrency.DefaultIdleCeiling)
	if err != nil {
		return concurrency.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if ceiling == 0 {
		return concurrency.Config{}, fmt.Errorf("%w: scheduler.idle_ceiling must be > 0", ErrInvalid)
	}
	if s.Trace.RatePerSec < 0 {
		return concurrency.Config{}, fmt.Errorf("%w: scheduler.trace.rate_per_sec must be >= 0", ErrInvalid)
	}
	return concurrency.Config{
		MaxTasks:    s.MaxTasks,
		IdleCeiling: ceiling,
		Trace: concurrency.Trace{
			ShowRun:      s.Trace.ShowRun,
			ShowWaiting:  s.Trace.ShowWaiting,
			ShowDisabled: s.Trace.ShowDisabled,
			RatePerSec:   s.Trace.RatePerSec,
		},
	}, nil
}

// TaskInterval returns the parsed interval for t, or def when unset.
func TaskInterval(t TaskConfig, def time.Duration) (time.Duration, error) {
	return ParseDurationOrDefault("tasks."+t.Name+".interval", t.Interval, def)
}
