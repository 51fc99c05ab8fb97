package runloop

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
)

// Delay is a sleep that another goroutine can cut short.
//
// An Interrupt that arrives while nobody is sleeping is remembered (one
// pending wake-up at most) and ends the next Delay immediately, so a wake-up
// sent between RunOrDelay and the sleep is never lost.
type Delay struct {
	clock clock.Clock
	wake  chan struct{}
}

// NewDelay returns a Delay that sleeps on c.
func NewDelay(c clock.Clock) *Delay {
	if c == nil {
		c = clock.New()
	}
	return &Delay{clock: c, wake: make(chan struct{}, 1)}
}

// Interrupt wakes the current or next Delay. Safe to call from any goroutine.
func (d *Delay) Interrupt() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Delay blocks for dur, until Interrupt, or until ctx is done.
// It reports whether it was ended by Interrupt.
func (d *Delay) Delay(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		select {
		case <-d.wake:
			return true
		default:
			return false
		}
	}

	t := d.clock.Timer(dur)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-d.wake:
		return true
	case <-t.C:
		return false
	}
}
