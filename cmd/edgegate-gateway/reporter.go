package main

import (
	"fmt"
	"strings"
	"time"
)

func (t *server) addSuccessStats(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.successCount++
	t.totalLatency += latency
}

func (t *server) addFailureStats(gex gexInt) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failureCounters[gex]++
}

// Name satisfies reporter.Reporter.
func (t *server) Name() string {
	return fmt.Sprintf("Gateway (%s)", t.listenAddress)
}

// Report satisfies reporter.Reporter. It returns a one-line summary of inbound request counters
// accrued since the last reset.
func (t *server) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	errs := 0
	for _, n := range t.failureCounters {
		errs += n
	}
	al := 0.0 // Average latency of successful requests
	if t.successCount > 0 {
		al = t.totalLatency.Seconds() / float64(t.successCount)
	}

	s := fmt.Sprintf("req=%d ok=%d al=%0.3fs errs=%d (%s)",
		t.successCount+errs, t.successCount, al, errs,
		formatCounters("%d", " ", t.failureCounters[:]))

	if resetCounters {
		t.stats = stats{}
	}

	return s
}

// formatCounters returns a nice delimited list of a counter array. This is less error-prone than
// hard-coding one big ol' Sprintf string.
func formatCounters(fmtString string, delim string, counters []int) string {
	res := make([]string, 0, len(counters))
	for _, v := range counters {
		res = append(res, fmt.Sprintf(fmtString, v))
	}

	return strings.Join(res, delim)
}
