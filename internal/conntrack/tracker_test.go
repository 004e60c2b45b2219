package conntrack

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestConnectionLifecycle(t *testing.T) {
	ct := New("test")
	now := time.Unix(100, 0)

	if !ct.ConnState("c1", now, http.StateNew) {
		t.Error("A fresh connection should be accepted")
	}
	if !ct.ConnState("c1", now.Add(time.Second), http.StateActive) {
		t.Error("Active on a known connection should be accepted")
	}
	if !ct.ConnState("c1", now.Add(3*time.Second), http.StateIdle) {
		t.Error("Idle after active should be accepted")
	}
	if !ct.ConnState("c1", now.Add(5*time.Second), http.StateClosed) {
		t.Error("Close of a known idle connection should be accepted")
	}
	if ct.Current() != 0 {
		t.Error("Closed connections should leave the map, current:", ct.Current())
	}

	rep := ct.Report(false)
	if !strings.Contains(rep, "connFor=5.0s") {
		t.Error("Expected a five second connection lifetime:", rep)
	}
	if !strings.Contains(rep, "activeFor=2.0s") {
		t.Error("Expected two seconds of active time:", rep)
	}
}

func TestPeaks(t *testing.T) {
	ct := New("test")
	now := time.Now()

	ct.ConnState("c1", now, http.StateNew)
	ct.ConnState("c2", now, http.StateNew)
	ct.ConnState("c3", now, http.StateNew)
	ct.ConnState("c2", now, http.StateClosed)
	ct.ConnState("c3", now, http.StateClosed)

	if ct.Current() != 1 {
		t.Error("Expected one live connection, got", ct.Current())
	}
	if !strings.Contains(ct.Report(false), "pk=3") {
		t.Error("Expected a peak of three:", ct.Report(false))
	}
}

func TestBogusTransitions(t *testing.T) {
	ct := New("test")
	now := time.Now()

	if ct.ConnState("ghost", now, http.StateActive) {
		t.Error("A state change for an unknown connection should be rejected")
	}
	if ct.RequestAdd("ghost") {
		t.Error("A request on an unknown connection should be rejected")
	}

	ct.ConnState("c1", now, http.StateNew)
	if ct.ConnState("c1", now, http.StateNew) { // Key reused while live
		t.Error("A replacing New should be reported as a reconciliation")
	}
	if ct.RequestDone("c1") {
		t.Error("RequestDone without RequestAdd should be rejected")
	}

	rep := ct.Report(true)
	if !strings.Contains(rep, "errs=4") {
		t.Error("Expected four accounting errors:", rep)
	}
	if !strings.Contains(ct.Report(false), "errs=0") {
		t.Error("Reset should zero the error counters")
	}
}

func TestRequestBracketing(t *testing.T) {
	ct := New("test")
	now := time.Now()

	ct.ConnState("c1", now, http.StateNew)
	ct.RequestAdd("c1")
	ct.RequestAdd("c1")
	ct.RequestDone("c1")
	ct.RequestDone("c1")
	if !ct.ConnState("c1", now, http.StateClosed) {
		t.Error("Closing with no requests in flight should be clean")
	}
	if !strings.Contains(ct.Report(false), "pkreq=2") {
		t.Error("Expected a per-connection request peak of two:", ct.Report(false))
	}

	ct.ConnState("c2", now, http.StateNew)
	ct.RequestAdd("c2")
	if ct.ConnState("c2", now, http.StateClosed) {
		t.Error("Closing with a request in flight should be reported")
	}
}
