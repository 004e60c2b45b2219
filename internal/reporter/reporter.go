/*
Package reporter defines the small interface the edgegate programs use to collect periodic status
from their long-lived components, plus a helper that emits those reports through the shared
logger.

Report() returns one or more newline-separated lines suitable for a log file. Empty lines are
dropped and no trailing newline is needed; single-line reporters can just return the line. The
reset flag tells the implementation to zero its counters after rendering so the next report covers
only the interval since this one.
*/
package reporter

import (
	"strings"

	"go.uber.org/zap"
)

// Reporter is implemented by components that can describe their recent activity.
type Reporter interface {

	// Name identifies the component. It is used as the log prefix for each report line.
	Name() string

	// Report renders the counters accrued since the last reset as printable lines. When
	// resetCounters is true the counters are zeroed after rendering. Implementations must
	// tolerate concurrent callers.
	Report(resetCounters bool) string
}

// Log writes each reporter's current report to the logger, one log entry per non-empty line,
// tagged with the reporter's name.
func Log(log *zap.Logger, resetCounters bool, reporters ...Reporter) {
	for _, rep := range reporters {
		for _, line := range strings.Split(rep.Report(resetCounters), "\n") {
			if len(strings.TrimSpace(line)) == 0 {
				continue
			}
			log.Info(line, zap.String("component", rep.Name()))
		}
	}
}
