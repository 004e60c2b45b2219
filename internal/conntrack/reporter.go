package conntrack

import (
	"fmt"
	"strings"
	"time"
)

// Name satisfies reporter.Reporter.
func (t *Tracker) Name() string {
	return fmt.Sprintf("Conn Track (%s)", t.name)
}

// Report satisfies reporter.Reporter. Durations cover connections that have closed; live
// connections contribute once they finish.
func (t *Tracker) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	errs := 0
	for _, n := range t.errorCounts {
		errs += n
	}

	s := fmt.Sprintf("curr=%d pk=%d closed=%d pkreq=%d errs=%d (%s) connFor=%0.1fs activeFor=%0.1fs",
		len(t.conns), t.peakConns, t.closedConns, t.peakReqs,
		errs, formatCounters("%d", "/", t.errorCounts[:]),
		t.connFor.Round(100*time.Millisecond).Seconds(),
		t.activeFor.Round(100*time.Millisecond).Seconds())

	if resetCounters {
		t.trackerStats = trackerStats{}
	}

	return s
}

func formatCounters(fmtString string, delim string, counters []int) string {
	res := make([]string, 0, len(counters))
	for _, v := range counters {
		res = append(res, fmt.Sprintf(fmtString, v))
	}

	return strings.Join(res, delim)
}
