package concurrency

import (
	"fmt"
	"sync/atomic"
)

// Barrier is a one-way "setup has started" flag.
//
// It guards Task construction: tasks depend on their controller, so creating
// one during package initialization (before main's setup phase) is rejected.
// The zero value is an uncrossed barrier.
type Barrier struct {
	crossed atomic.Bool
}

// Cross marks the barrier as crossed. It reports whether this call crossed it
// (false if it was already crossed).
func (b *Barrier) Cross() bool {
	return b.crossed.CompareAndSwap(false, true)
}

// Crossed reports whether Cross has been called.
func (b *Barrier) Crossed() bool {
	return b.crossed.Load()
}

// Assert panics with an error wrapping ErrNotSetup if the barrier has not been crossed.
func (b *Barrier) Assert(what string) {
	if b.Crossed() {
		return
	}
	// Tasks must be created with NewTask from main (or later), never from
	// package-level var initializers or init functions.
	panic(fmt.Errorf("%w: %s created before MarkSetup", ErrNotSetup, what))
}

// setup is the process-wide barrier used by MainController and NewTask.
var setup Barrier

// MarkSetup crosses the process-wide setup barrier. Call it once, first thing
// in main. Later calls are no-ops.
func MarkSetup() { setup.Cross() }

// HasBeenSetup reports whether MarkSetup has been called.
func HasBeenSetup() bool { return setup.Crossed() }

// AssertIsSetup panics if MarkSetup has not been called yet.
func AssertIsSetup() { setup.Assert("scheduler object") }
