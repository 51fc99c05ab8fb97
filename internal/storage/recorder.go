package storage

import (
	"context"
	"sync/atomic"
	"time"

	"tinysched/internal/concurrency"
	"tinysched/internal/eventbus"
	logx "tinysched/pkg/logx"
)

const (
	recorderBuffer = 256
	appendTimeout  = 2 * time.Second
)

// Recorder appends every task.run event from the bus to a Store. It runs on
// its own goroutine so slow disks never stall the scheduler loop; if it falls
// behind, the bus drops events instead.
type Recorder struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger

	written atomic.Uint64
	failed  atomic.Uint64
}

func NewRecorder(store Store, bus eventbus.Bus, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, bus: bus, log: log.With(logx.String("comp", "recorder"))}
}

func (r *Recorder) Written() uint64 { return r.written.Load() }
func (r *Recorder) Failed() uint64  { return r.failed.Load() }

// Run consumes events until ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	if r.store == nil || r.bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, unsub := r.bus.Subscribe(recorderBuffer)
	defer unsub()
	r.log.Debug("run recorder started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if ev.Type != eventbus.TypeTaskRun {
				continue
			}
			te, ok := ev.Data.(concurrency.TaskEvent)
			if !ok {
				continue
			}
			r.append(ctx, RecordFromEvent(ev.Time, te))
		}
	}
}

func (r *Recorder) append(ctx context.Context, rec RunRecord) {
	actx, cancel := context.WithTimeout(ctx, appendTimeout)
	err := r.store.AppendRun(actx, rec)
	cancel()
	if err != nil {
		r.failed.Add(1)
		r.log.Warn("run append failed", logx.String("task", rec.Task), logx.Err(err))
		return
	}
	r.written.Add(1)
}
