// Package systemd reports service state to systemd over the notify socket.
//
// Every call is a no-op when the process was not started by systemd with
// Type=notify (NOTIFY_SOCKET unset).
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "outreach/pkg/logx"
)

func notify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// Ready tells systemd that startup finished.
func Ready() (bool, error) { return notify(daemon.SdNotifyReady) }

// Stopping tells systemd that shutdown began.
func Stopping() (bool, error) { return notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func Status(text string) (bool, error) { return notify("STATUS=" + text) }

// Watchdog pings the systemd watchdog at half the configured interval until
// ctx ends. It returns immediately when the watchdog is not enabled.
func Watchdog(ctx context.Context, log logx.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	tick := time.NewTicker(interval / 2)
	defer tick.Stop()
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			if _, err := notify(daemon.SdNotifyWatchdog); err != nil {
				log.Warn("watchdog notify failed", logx.Err(err))
			}
		}
	}
}
