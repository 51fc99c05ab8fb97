package tasks

import (
	"time"

	"tinysched/internal/concurrency"
	logx "tinysched/pkg/logx"
)

// Step performs one bounded slice of a long job and reports whether the job
// is complete. It must not block.
type Step func(t *concurrency.Task) (done bool)

// Chunked spreads a long job over many short runs: while work remains it asks
// to run again after Gap; once a pass completes it waits Rest before starting
// the next pass. With Rest == 0 the task disables itself after one pass.
type Chunked struct {
	step Step
	gap  time.Duration
	rest time.Duration
	log  logx.Logger

	chunks uint64
	passes uint64
}

// NewChunked returns a chunked runner. A negative gap is treated as 0; a
// rest <= 0 makes it one-shot.
func NewChunked(step Step, gap, rest time.Duration, log logx.Logger) *Chunked {
	if gap < 0 {
		gap = 0
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chunked{step: step, gap: gap, rest: rest, log: log}
}

func (c *Chunked) Chunks() uint64 { return c.chunks }
func (c *Chunked) Passes() uint64 { return c.passes }

// RunOnce runs one step and returns gap, rest, or RunSame after a final pass.
func (c *Chunked) RunOnce(t *concurrency.Task) time.Duration {
	c.chunks++
	if !c.step(t) {
		return c.gap
	}

	c.passes++
	c.log.Debug("chunked pass complete",
		logx.String("task", t.Name()),
		logx.Uint64("passes", c.passes),
		logx.Uint64("chunks", c.chunks),
	)
	if c.rest <= 0 {
		t.SetEnabled(false)
		return concurrency.RunSame
	}
	return c.rest
}

// Restart starts a new pass on the next tick, even if the task disabled itself.
func (c *Chunked) Restart(t *concurrency.Task) {
	t.SetEnabled(true)
	t.Reschedule()
}

// Countdown returns a Step that completes after n calls, then resets, so the
// same Step can drive repeated passes.
func Countdown(n int) Step {
	if n <= 0 {
		n = 1
	}
	left := n
	return func(*concurrency.Task) bool {
		left--
		if left > 0 {
			return false
		}
		left = n
		return true
	}
}
