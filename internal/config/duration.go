package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration parses a config duration string. set is false when raw is
// blank, so callers can tell an omitted field from an explicit "0s".
// Negative durations are rejected.
func ParseDuration(path, raw string) (d time.Duration, set bool, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, nil
	}
	d, err = time.ParseDuration(s)
	if err != nil {
		return 0, true, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, true, fmt.Errorf("%s: duration must be >= 0, got %s", path, s)
	}
	return d, true, nil
}

// ParseDurationField is ParseDuration with a blank field read as 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	d, _, err := ParseDuration(path, raw)
	return d, err
}

// ParseDurationOrDefault returns def only when raw is blank. An explicit
// zero is kept: for a task interval it means "due on every tick".
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, set, err := ParseDuration(path, raw)
	if err != nil {
		return 0, err
	}
	if !set {
		return def, nil
	}
	return d, nil
}
