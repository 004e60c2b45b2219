package registry

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/edgegate/edgegate/internal/constants"
)

// mapProber fakes reachability: addresses present in the map with a true value probe as available.
type mapProber struct {
	reachable map[string]bool
	delays    map[string]float64
	calls     int
}

func (t *mapProber) Probe(s *Server) ProbeResult {
	t.calls++
	r := ProbeResult{ObservedAt: time.Now()}
	if t.reachable[s.Address()] {
		r.Available = true
		r.Delay = t.delays[s.Address()]
	}
	s.AddProbe(r)

	return r
}

func newTestRegistry(reachable map[string]bool) (*Registry, *mapProber) {
	p := &mapProber{reachable: reachable, delays: make(map[string]float64)}

	return New(p, nil), p
}

func TestLoad(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	reg.Load(map[string]string{
		"LocalDevice": "127.0.0.1",
		"vagrant1":    "192.168.56.2",
		"vagrant2":    "192.168.56.2", // Same address - must collapse
	})

	if reg.Len() != 2 {
		t.Error("Expected duplicate addresses to collapse to 2 entries, got", reg.Len())
	}
	if !reg.Contains("127.0.0.1") || !reg.Contains("192.168.56.2") {
		t.Error("Loaded addresses should be present", reg.Addresses())
	}
	if reg.Contains("10.0.0.9") {
		t.Error("Never-loaded address should not be present")
	}
}

func TestRefreshPurgesAndAdmits(t *testing.T) {
	reg, p := newTestRegistry(map[string]bool{
		"127.0.0.1":  true,
		"10.0.0.2":   false, // Registered but has gone dark
		"10.0.0.3":   true,  // New and reachable
		"10.0.0.666": false, // New but unreachable
	})
	reg.Load(map[string]string{"A": "127.0.0.1", "B": "10.0.0.2"})

	reg.Refresh([]string{"10.0.0.3", "10.0.0.666"}, "test")

	if reg.Contains("10.0.0.2") {
		t.Error("Unreachable member should have been purged")
	}
	if !reg.Contains("10.0.0.3") {
		t.Error("Reachable candidate should have been admitted")
	}
	if reg.Contains("10.0.0.666") {
		t.Error("Unreachable candidate should never be admitted")
	}
	if !reg.Contains("127.0.0.1") {
		t.Error("Reachable member should have survived the refresh")
	}
	if p.calls != 4 {
		t.Error("Expected one probe per member plus one per candidate, got", p.calls)
	}
}

func TestRefreshIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(map[string]bool{"10.0.0.1": true, "10.0.0.2": true})

	reg.Refresh([]string{"10.0.0.1", "10.0.0.2"}, "test")
	first := reg.Addresses()
	reg.Refresh([]string{"10.0.0.1", "10.0.0.2"}, "test")
	second := reg.Addresses()

	if len(first) != 2 || len(second) != 2 {
		t.Fatal("Expected both refreshes to yield 2 servers", first, second)
	}
	for ix := range first {
		if first[ix] != second[ix] {
			t.Error("Refresh with a stable reachable list should be idempotent", first, second)
		}
	}
}

func TestAddRemove(t *testing.T) {
	reg, _ := newTestRegistry(map[string]bool{"10.0.0.5": true})

	if !reg.Add("10.0.0.5") {
		t.Error("Add of a reachable address should report success")
	}
	if reg.Add("10.0.0.6") {
		t.Error("Add of an unreachable address should report failure")
	}
	if reg.Len() != 1 {
		t.Fatal("Expected exactly one registered server, got", reg.Len())
	}

	if !reg.Remove("10.0.0.5") {
		t.Error("Remove of a present address should return true")
	}
	if reg.Remove("10.0.0.5") {
		t.Error("Second remove of the same address must be a no-op returning false")
	}
	if reg.Len() != 0 {
		t.Error("Registry should be empty after removal, got", reg.Len())
	}
}

func TestRemoveKeepsIndexConsistent(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	reg.Load(map[string]string{"a": "10.0.0.1", "b": "10.0.0.2", "c": "10.0.0.3"})

	reg.Remove("10.0.0.2")
	if reg.Len() != 2 {
		t.Fatal("Expected two servers after removal, got", reg.Len())
	}
	if !reg.Contains("10.0.0.1") || !reg.Contains("10.0.0.3") {
		t.Error("Remaining addresses should still be resolvable", reg.Addresses())
	}
	if !reg.Remove("10.0.0.3") {
		t.Error("Address indexed after the removed entry should still be removable")
	}
}

func TestSnapshotExcluding(t *testing.T) {
	reg, _ := newTestRegistry(nil)
	reg.Load(map[string]string{"A": "127.0.0.1", "B": "10.0.0.2"})

	snap := reg.SnapshotExcluding("127.0.0.1")
	if snap.Len() != 1 || !snap.Contains("10.0.0.2") {
		t.Fatal("Snapshot should hold everything bar the excluded address", snap.Addresses())
	}

	// Mutations of the snapshot must never reach the original

	snap.Remove("10.0.0.2")
	if !reg.Contains("10.0.0.2") {
		t.Error("Removing from the snapshot mutated the original registry")
	}

	// Probe appends on a snapshot server must not show up in the original's log

	orig := reg.Servers()[1]
	snap2 := reg.SnapshotExcluding("127.0.0.1")
	snap2.Servers()[0].AddProbe(ProbeResult{Available: true, Delay: 1, ObservedAt: time.Now()})
	if orig.ProbeCount() != 0 {
		t.Error("Snapshot server shares its probe log with the original")
	}
}

func TestProbeLogCapAndOrder(t *testing.T) {
	s := NewServer("x", "10.0.0.1")
	max := constants.Get().ProbeHistoryMax
	for ix := 0; ix < max+10; ix++ {
		s.AddProbe(ProbeResult{Available: true, Delay: float64(ix)})
	}
	if s.ProbeCount() != max {
		t.Error("Probe log should be capped at", max, "got", s.ProbeCount())
	}
	last, ok := s.LastProbe()
	if !ok {
		t.Fatal("LastProbe should succeed on a populated log")
	}
	if last.Delay != float64(max+9) {
		t.Error("LastProbe should return the most recent entry, got delay", last.Delay)
	}

	if _, ok := NewServer("y", "10.0.0.2").LastProbe(); ok {
		t.Error("LastProbe on a never-probed server should report false")
	}
}

// fixedClient returns a canned HTTP response for LoadFromURL tests.
type fixedClient struct {
	status int
	body   string
	err    error
}

func (t *fixedClient) Do(req *http.Request) (*http.Response, error) {
	if t.err != nil {
		return nil, t.err
	}

	return &http.Response{
		StatusCode: t.status,
		Status:     http.StatusText(t.status),
		Body:       io.NopCloser(bytes.NewBufferString(t.body)),
	}, nil
}

func TestLoadFromURL(t *testing.T) {
	reg, _ := newTestRegistry(map[string]bool{"127.0.0.1": true, "192.168.56.2": true})

	client := &fixedClient{status: http.StatusOK, body: `{"data": ["127.0.0.1", "192.168.56.2"]}`}
	err := reg.LoadFromURL("http://peer:5000/getserverlists", client)
	if err != nil {
		t.Fatal("Unexpected error from LoadFromURL", err)
	}
	if reg.Len() != 2 {
		t.Error("Expected both fetched addresses to register, got", reg.Addresses())
	}

	err = reg.LoadFromURL("http://peer:5000/getserverlists", &fixedClient{status: http.StatusNotFound})
	if err == nil {
		t.Error("Expected an error for a non-200 response")
	}

	err = reg.LoadFromURL("http://peer:5000/getserverlists",
		&fixedClient{status: http.StatusOK, body: `not json`})
	if err == nil {
		t.Error("Expected an error for an unparseable body")
	}
}
