package runloop

import (
	"context"
	"testing"
	"time"

	"tinysched/internal/concurrency"
	logx "tinysched/pkg/logx"
)

func newController(t *testing.T, cfg concurrency.Config) *concurrency.Controller {
	t.Helper()
	b := &concurrency.Barrier{}
	b.Cross()
	return concurrency.NewController(cfg, concurrency.WithBarrier(b))
}

func TestDriverRunsTasksUntilCanceled(t *testing.T) {
	t.Parallel()
	ctl := newController(t, concurrency.Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs := 0
	ctl.NewTask("counter", time.Millisecond, concurrency.RunnerFunc(func(*concurrency.Task) time.Duration {
		runs++
		if runs == 3 {
			cancel()
		}
		return concurrency.RunSame
	}))

	d := New(ctl, logx.Nop())
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runs != 3 {
		t.Fatalf("runs = %d, want 3", runs)
	}
	st := d.Stats()
	if st.Ticks < 3 {
		t.Fatalf("Ticks = %d, want >= 3", st.Ticks)
	}
	if st.Sleeps == 0 || st.Slept <= 0 {
		t.Fatalf("expected the loop to sleep between runs: %+v", st)
	}
}

func TestDriverWakeInterruptsSleep(t *testing.T) {
	t.Parallel()
	ctl := newController(t, concurrency.Config{IdleCeiling: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := New(ctl, logx.Nop())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for d.Stats().Interrupted == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Wake never interrupted the loop")
		}
		d.Wake()
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if d.Stats().Ticks < 2 {
		t.Fatalf("Ticks = %d, want >= 2", d.Stats().Ticks)
	}
}

func TestDriverSubmitRunsOnLoop(t *testing.T) {
	t.Parallel()
	ctl := newController(t, concurrency.Config{IdleCeiling: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d := New(ctl, logx.Nop())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	ran := make(chan struct{})
	d.Submit(func(c *concurrency.Controller) {
		c.NewTask("late", 0, concurrency.RunnerFunc(func(self *concurrency.Task) time.Duration {
			close(ran)
			self.SetEnabled(false)
			return concurrency.RunSame
		}))
	})

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("submitted task never ran")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if d.Stats().Submitted != 1 {
		t.Fatalf("Submitted = %d, want 1", d.Stats().Submitted)
	}
}
