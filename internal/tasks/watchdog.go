package tasks

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"tinysched/internal/concurrency"
	logx "tinysched/pkg/logx"
)

// WatchdogInterval returns how often to ping the systemd watchdog (half of
// WATCHDOG_USEC), or 0 when the process is not supervised by a watchdog.
func WatchdogInterval() (time.Duration, error) {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0, err
	}
	return d / 2, nil
}

// Watchdog pings the systemd watchdog each time it runs. If the notify
// socket is missing it disables itself.
type Watchdog struct {
	log    logx.Logger
	notify func(state string) (bool, error)
	pings  uint64
}

// NewWatchdog returns a runner that notifies systemd via $NOTIFY_SOCKET.
func NewWatchdog(log logx.Logger) *Watchdog {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watchdog{
		log:    log,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (w *Watchdog) Pings() uint64 { return w.pings }

// RunOnce sends one WATCHDOG=1 notification and keeps the interval.
func (w *Watchdog) RunOnce(t *concurrency.Task) time.Duration {
	sent, err := w.notify(daemon.SdNotifyWatchdog)
	switch {
	case err != nil:
		w.log.Warn("watchdog notify failed", logx.String("task", t.Name()), logx.Err(err))
	case !sent:
		w.log.Warn("watchdog notify socket unavailable; disabling", logx.String("task", t.Name()))
		t.SetEnabled(false)
	default:
		w.pings++
	}
	return concurrency.RunSame
}
