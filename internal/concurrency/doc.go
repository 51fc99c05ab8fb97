// Package concurrency is a cooperative, run-to-completion task scheduler.
//
// A single loop goroutine owns a Controller and repeatedly calls RunOrDelay.
// Each call runs at most one Task (the most overdue one) and returns how long
// the loop may sleep before polling again. Tasks never block; long work is
// chunked across invocations by returning a short interval from RunOnce.
//
// Tasks may only be constructed after the setup barrier has been crossed
// (MarkSetup, or an explicit Barrier passed with WithBarrier). Constructing a
// Task earlier is a programmer error and panics.
//
// A running Task may call Reschedule on itself to arm the controller's
// run-ASAP override: the next RunOrDelay returns 0 regardless of the computed
// delay, and the override is consumed by that one call.
package concurrency
