package throughput

import (
	"sync"
	"testing"
	"time"
)

func TestCount(t *testing.T) {
	var w Window
	now := time.Unix(100, 0)

	if w.Count(now, time.Second) != 0 {
		t.Error("Empty window should count zero")
	}

	w.Record(now.Add(-2 * time.Second))        // Aged out
	w.Record(now.Add(-time.Second))            // Exactly on the cut - excluded (strictly newer)
	w.Record(now.Add(-500 * time.Millisecond)) // In
	w.Record(now.Add(-time.Millisecond))       // In

	if got := w.Count(now, time.Second); got != 2 {
		t.Error("Expected 2 qualifying timestamps, got", got)
	}
}

func TestCountCompacts(t *testing.T) {
	var w Window
	now := time.Unix(100, 0)
	for ix := 0; ix < 10; ix++ {
		w.Record(now.Add(time.Duration(-ix) * time.Minute))
	}

	w.Count(now, time.Second)
	if w.Len() != 1 { // Only the entry at 'now' survives
		t.Error("Aged-out entries should be compacted, retained:", w.Len())
	}
}

func TestCountMonotonic(t *testing.T) {
	var w Window
	now := time.Unix(100, 0)

	prev := 0
	for ix := 0; ix < 30; ix++ {
		w.Record(now.Add(time.Duration(ix) * time.Millisecond))
		got := w.Count(now.Add(40*time.Millisecond), time.Second)
		if got < prev {
			t.Fatal("Count must be non-decreasing as qualifying records accrue", prev, got)
		}
		if got < 0 {
			t.Fatal("Count must never be negative")
		}
		prev = got
	}
}

func TestUnsortedAppends(t *testing.T) {
	var w Window
	now := time.Unix(100, 0)

	// Out of order appends - concurrent dispatches make no ordering promise
	w.Record(now.Add(-time.Millisecond))
	w.Record(now.Add(-3 * time.Second))
	w.Record(now.Add(-2 * time.Millisecond))

	if got := w.Count(now, time.Second); got != 2 {
		t.Error("Count over unsorted appends should still be correct, got", got)
	}
}

func TestPreferRemote(t *testing.T) {
	var w Window
	now := time.Unix(100, 0)
	period := time.Second
	expected := 5

	for ix := 0; ix < expected; ix++ {
		w.Record(now)
	}
	if w.PreferRemote(now, period, expected) {
		t.Error("At exactly the expected throughput the node keeps its work")
	}

	w.Record(now)
	if !w.PreferRemote(now, period, expected) {
		t.Error("One dispatch over expectation should flip the gate to remote")
	}

	// Enough wall clock passes that the recorded burst ages out and the gate flips back

	later := now.Add(2 * time.Second)
	if w.PreferRemote(later, period, expected) {
		t.Error("Gate should flip back once the burst leaves the window")
	}
}

func TestConcurrentRecord(t *testing.T) {
	var w Window
	now := time.Now()

	var wg sync.WaitGroup
	workers, each := 8, 100
	for ix := 0; ix < workers; ix++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				w.Record(now)
			}
		}()
	}
	wg.Wait()

	if w.Len() != workers*each {
		t.Error("Concurrent appends lost entries:", w.Len(), "of", workers*each)
	}
	if got := w.Count(now.Add(time.Millisecond), time.Second); got != workers*each {
		t.Error("All concurrent appends should qualify, got", got)
	}
}
