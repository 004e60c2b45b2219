/*
Package throughput measures how busy the local node is. The Window accumulates the timestamps of
locally executed dispatches and answers "how many landed within the last period?". That count,
compared against the expected throughput, is the admission gate that decides whether the node
keeps work or sheds it to remote peers.

The window is append-mostly and shared by every in-flight dispatch, so appends and queries are
serialized behind a mutex. Counting keeps the timestamps sorted and binary searches for the cut
point; entries that have aged out of the queried period are compacted away at the same time since
they can never qualify again.
*/
package throughput

import (
	"sort"
	"sync"
	"time"
)

// Window is a sliding record of local dispatch times. The zero value is ready for use. Its
// lifetime matches the dispatch engine that owns it.
type Window struct {
	mu     sync.Mutex
	stamps []time.Time
	sorted bool
}

// Record appends one local-dispatch timestamp. Concurrent appends are safe and none are lost.
func (t *Window) Record(stamp time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Appends normally arrive in time order; only mark dirty when this one does not.
	if len(t.stamps) > 0 && stamp.Before(t.stamps[len(t.stamps)-1]) {
		t.sorted = false
	}
	t.stamps = append(t.stamps, stamp)
}

// Len returns the number of retained timestamps.
func (t *Window) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.stamps)
}

// Count returns how many recorded timestamps are strictly newer than now minus the period. As a
// side effect entries at or before that cut are dropped - they can never fall inside a later
// window with the same period.
func (t *Window) Count(now time.Time, period time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.sorted {
		sort.Slice(t.stamps, func(i, j int) bool { return t.stamps[i].Before(t.stamps[j]) })
		t.sorted = true
	}

	start := now.Add(-period)
	cut := sort.Search(len(t.stamps), func(i int) bool { return t.stamps[i].After(start) })
	count := len(t.stamps) - cut

	if cut > 0 { // Compact the aged-out prefix
		t.stamps = append(t.stamps[:0], t.stamps[cut:]...)
	}

	return count
}

// PreferRemote reports whether the local node is over its expected throughput and should shed the
// next task to a remote peer. The comparison is strictly greater - a node running exactly at
// expectation still keeps its work.
func (t *Window) PreferRemote(now time.Time, period time.Duration, expected int) bool {
	return t.Count(now, period) > expected
}
