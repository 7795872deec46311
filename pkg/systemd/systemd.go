// Package systemd wraps the sd_notify protocol for Type=notify units.
// Every call is a no-op when the process is not run by systemd.
package systemd

import (
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

type Notifier struct {
	// send is daemon.SdNotify; replaced in tests.
	send func(unsetEnv bool, state string) (bool, error)

	interval time.Duration
	last     atomic.Int64
}

// NewNotifier reads the watchdog interval from the environment.
func NewNotifier() *Notifier {
	n := &Notifier{send: daemon.SdNotify}
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 {
		// Ping at half the interval systemd enforces.
		n.interval = d / 2
	}
	return n
}

// WatchdogInterval is zero when the unit has no WatchdogSec.
func (n *Notifier) WatchdogInterval() time.Duration { return n.interval }

func (n *Notifier) Ready() (bool, error) { return n.send(false, daemon.SdNotifyReady) }

func (n *Notifier) Stopping() (bool, error) { return n.send(false, daemon.SdNotifyStopping) }

func (n *Notifier) Status(s string) (bool, error) { return n.send(false, "STATUS="+s) }

// Heartbeat sends WATCHDOG=1 at most once per watchdog interval, so it is
// cheap to call on every recorder tick.
func (n *Notifier) Heartbeat() {
	if n.interval <= 0 {
		return
	}
	now := time.Now().UnixNano()
	last := n.last.Load()
	if now-last < int64(n.interval) || !n.last.CompareAndSwap(last, now) {
		return
	}
	_, _ = n.send(false, daemon.SdNotifyWatchdog)
}
