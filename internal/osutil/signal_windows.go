//go:build windows

package osutil

import (
	"os"
)

// SignalNotify routes the signals the main loops care about to the supplied channel. Windows has
// none of the Unix signal repertoire so nothing is routed.
func SignalNotify(c chan os.Signal) {
}

// IsSignalUSR1 reports whether the signal is the report-without-reset trigger.
func IsSignalUSR1(s os.Signal) bool {
	return false
}
