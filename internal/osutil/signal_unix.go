//go:build !windows

package osutil

import (
	"os"
	"os/signal"
	"syscall"
)

// SignalNotify routes the signals the main loops care about to the supplied channel.
func SignalNotify(c chan os.Signal) {
	signal.Notify(c, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGUSR1)
}

// IsSignalUSR1 reports whether the signal is the report-without-reset trigger.
func IsSignalUSR1(s os.Signal) bool {
	return s == syscall.SIGUSR1
}
