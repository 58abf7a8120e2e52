package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "alarmbot/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd. Outside a systemd unit
// (no NOTIFY_SOCKET) every call is a no-op.
type sdNotifier struct {
	log logx.Logger
}

func (n sdNotifier) notify(state string) {
	ok, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		n.log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
	case ok:
		n.log.Debug("systemd notified", logx.String("state", state))
	}
}

func (n sdNotifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n sdNotifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// Watchdog pings systemd at half the configured WatchdogSec until ctx ends.
// It returns at once when the watchdog is not enabled.
func (n sdNotifier) Watchdog(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := max(interval/2, time.Second)
	n.log.Info("systemd watchdog enabled", logx.Duration("every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				n.log.Warn("systemd watchdog ping failed", logx.Err(err))
			}
		}
	}
}
