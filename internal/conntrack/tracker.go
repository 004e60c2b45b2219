/*
Package conntrack accounts for the gateway's inbound client connections. It answers the
operational questions the periodic status report cares about: how many clients are connected right
now, what the peak was, how long connections live and how much of that lifetime is spent actively
carrying requests.

Wire it into an http.Server via ConnState and bracket each request handler with RequestAdd and
RequestDone:

	ct := conntrack.New("gateway")
	s := http.Server{ConnState: func(c net.Conn, state http.ConnState) {
	                                 ct.ConnState(c.RemoteAddr().String(), time.Now(), state)
	                             }}

and in the handler:

	ct.RequestAdd(r.RemoteAddr)
	defer ct.RequestDone(r.RemoteAddr)

The key only has to be unique per connection; the remote address/port the http package hands over
is exactly that. Bogus transitions are counted rather than panicked over - this is bookkeeping, not
protocol enforcement.
*/
package conntrack

import (
	"net/http"
	"sync"
	"time"
)

// tex = Tracker Error indeX into the error counter array
type texInt int

const (
	texUnknownConn     texInt = iota // State change for a connection never seen as New
	texUnknownReqConn                // Request bracketing on an unknown connection
	texReplacedConn                  // New arrived while the key was still live
	texNegativeReqs                  // More RequestDone than RequestAdd
	texClosedWithReqs                // Connection closed while requests were in flight
	texUnknownState                  // net/http grew a state this package predates

	texArraySize // Used to size the error array
)

type connection struct {
	openedAt    time.Time
	activeSince time.Time     // Zero when idle
	activeFor   time.Duration // Accumulated active time
	currentReqs int
	peakReqs    int
}

type trackerStats struct {
	peakConns   int
	peakReqs    int
	connFor     time.Duration // Summed connection lifetimes
	activeFor   time.Duration // Summed active portions of those lifetimes
	errorCounts [texArraySize]int
	closedConns int
}

// Tracker accumulates connection statistics for one listener. Construct with New.
type Tracker struct {
	name string

	mu    sync.Mutex
	conns map[string]*connection
	trackerStats
}

// New constructs a Tracker. The name identifies the listener in reports.
func New(name string) *Tracker {
	return &Tracker{name: name, conns: make(map[string]*connection)}
}

// ConnState applies one net/http connection state transition. It returns false when the
// transition did not make sense for the tracked state; the books are reconciled in favour of the
// new state either way so connections never dangle.
func (t *Tracker) ConnState(key string, now time.Time, state http.ConnState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, known := t.conns[key]

	if state == http.StateNew {
		t.conns[key] = &connection{openedAt: now} // Replaces any leftover entry
		if known {
			t.errorCounts[texReplacedConn]++
		}
		if len(t.conns) > t.peakConns {
			t.peakConns = len(t.conns)
		}
		return !known
	}

	if !known {
		t.errorCounts[texUnknownConn]++
		return false
	}

	switch state {
	case http.StateActive:
		conn.activeSince = now
		return true

	case http.StateIdle:
		if !conn.activeSince.IsZero() {
			conn.activeFor += now.Sub(conn.activeSince)
			conn.activeSince = time.Time{}
		}
		return true

	case http.StateHijacked, http.StateClosed:
		if !conn.activeSince.IsZero() {
			conn.activeFor += now.Sub(conn.activeSince)
		}
		t.connFor += now.Sub(conn.openedAt)
		t.activeFor += conn.activeFor
		t.closedConns++
		if conn.peakReqs > t.peakReqs {
			t.peakReqs = conn.peakReqs
		}
		delete(t.conns, key)
		if conn.currentReqs > 0 {
			t.errorCounts[texClosedWithReqs]++
			return false
		}
		return true
	}

	t.errorCounts[texUnknownState]++
	return false
}

// RequestAdd notes a request starting on the keyed connection.
func (t *Tracker) RequestAdd(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, known := t.conns[key]
	if !known {
		t.errorCounts[texUnknownReqConn]++
		return false
	}

	conn.currentReqs++
	if conn.currentReqs > conn.peakReqs {
		conn.peakReqs = conn.currentReqs
	}

	return true
}

// RequestDone undoes RequestAdd.
func (t *Tracker) RequestDone(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, known := t.conns[key]
	if !known {
		t.errorCounts[texUnknownReqConn]++
		return false
	}
	if conn.currentReqs <= 0 {
		t.errorCounts[texNegativeReqs]++
		return false
	}
	conn.currentReqs--

	return true
}

// Current returns the number of live connections.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.conns)
}
