package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// dex = Dispatch Error indeX into the failure counter array
type dexInt int

const (
	dexCreateRequest dexInt = iota
	dexDoRequest
	dexReadBody

	dexArraySize // Used to size the stats array
)

// engineStats are the counters reported periodically by the owning program. All access is
// serialized by the Engine mutex.
type engineStats struct {
	submissions       int
	selectionFailures int
	localDispatches   int
	remoteDispatches  int
	successes         int
	totalLatency      time.Duration
	failures          [dexArraySize]int
}

// inflightCounter tracks how many dispatches are executing right now and the highest that figure
// has ever reached. It has its own mutex so workers never contend with stat resets.
type inflightCounter struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (t *inflightCounter) add() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current++
	if t.current > t.peak {
		t.peak = t.current
	}
}

func (t *inflightCounter) done() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current--
}

// Counts returns the current and peak dispatch concurrency.
func (t *inflightCounter) Counts() (current, peak int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.current, t.peak
}

func (t *Engine) addSubmission() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.submissions++
}

func (t *Engine) addSelectionFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.selectionFailures++
}

func (t *Engine) addDispatch(local bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if local {
		t.localDispatches++
	} else {
		t.remoteDispatches++
	}
}

func (t *Engine) addSuccess(latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.successes++
	t.totalLatency += latency
}

func (t *Engine) addFailure(dex dexInt) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures[dex]++
}

// InFlight returns the current and peak dispatch concurrency.
func (t *Engine) InFlight() (current, peak int) {
	return t.inflight.Counts()
}

// Name satisfies reporter.Reporter.
func (t *Engine) Name() string {
	return fmt.Sprintf("Dispatch Engine (%s)", t.config.Algorithm)
}

// Report satisfies reporter.Reporter. It returns a printable multi-line string of all counters
// accrued since the last reset.
func (t *Engine) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	al := 0.0 // Average latency
	if t.successes > 0 {
		al = t.totalLatency.Seconds() / float64(t.successes)
	}
	errs := 0
	for _, n := range t.failures {
		errs += n
	}
	current, peak := t.inflight.Counts()

	s := fmt.Sprintf("sub=%d nochoice=%d local=%d remote=%d ok=%d al=%0.3fs errs=%d (%s) Concurrency=%d/%d\n",
		t.submissions, t.selectionFailures, t.localDispatches, t.remoteDispatches,
		t.successes, al, errs, formatCounters("%d", " ", t.failures[:]), current, peak)

	if resetCounters {
		t.engineStats = engineStats{}
	}

	return s
}

// formatCounters returns a nice comma-separated list of a counter array with the supplied
// separator between each value.
func formatCounters(fmtString string, delim string, counters []int) string {
	res := make([]string, 0, len(counters))
	for _, v := range counters {
		res = append(res, fmt.Sprintf(fmtString, v))
	}

	return strings.Join(res, delim)
}
