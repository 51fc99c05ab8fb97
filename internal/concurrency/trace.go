package concurrency

import (
	"time"

	"golang.org/x/time/rate"

	logx "tinysched/pkg/logx"
)

// tracer is an immutable view of the trace flags. The controller swaps the
// whole value on Apply so ShouldRun never observes a half-updated set.
type tracer struct {
	flags Trace
	lim   *rate.Limiter
}

func newTracer(t Trace) *tracer {
	tr := &tracer{flags: t}
	if t.RatePerSec > 0 {
		tr.lim = rate.NewLimiter(rate.Limit(t.RatePerSec), t.RatePerSec)
	}
	return tr
}

func (tr *tracer) enabled() bool { return tr != nil && tr.flags.any() }

// emit writes one trace line unless the rate limit is exhausted at now.
// Trace lines bypass the log level: the flags alone decide what is written.
func (tr *tracer) emit(log logx.Logger, now time.Time, msg string, fields ...logx.Field) {
	if tr.lim != nil && !tr.lim.AllowN(now, 1) {
		return
	}
	log.Diag(msg, fields...)
}
