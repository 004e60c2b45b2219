package engine

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edgegate/edgegate/internal/registry"
	"github.com/edgegate/edgegate/internal/selector"
)

// mockClient stands in for the outbound http.Client. It records every requested URL and returns a
// canned response, error, or blocks until released.
type mockClient struct {
	mu     sync.Mutex
	urls   []string
	status int
	body   string
	err    error
	block  chan struct{} // When non-nil Do waits here before answering
}

func (t *mockClient) Do(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.urls = append(t.urls, req.URL.String())
	block := t.block
	t.mu.Unlock()

	if block != nil {
		<-block
	}
	if t.err != nil {
		return nil, t.err
	}

	return &http.Response{
		StatusCode: t.status,
		Status:     http.StatusText(t.status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(t.body)),
	}, nil
}

func (t *mockClient) requested() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]string{}, t.urls...)
}

// allUpProber answers every probe as available with a constant delay.
type allUpProber struct{}

func (t *allUpProber) Probe(s *registry.Server) registry.ProbeResult {
	r := registry.ProbeResult{Available: true, Delay: 1.0, ObservedAt: time.Now()}
	s.AddProbe(r)

	return r
}

func loadedRegistry(p registry.Prober, addrs ...string) *registry.Registry {
	reg := registry.New(p, nil)
	m := make(map[string]string, len(addrs))
	for ix, a := range addrs {
		m[string(rune('a'+ix))] = a
	}
	reg.Load(m)

	return reg
}

func TestNewValidation(t *testing.T) {
	prb := &allUpProber{}
	reg := registry.New(prb, nil)

	if _, err := New(Config{Algorithm: selector.RandomAlgorithm}, nil, prb, nil, nil); err == nil {
		t.Error("Expected construction without a registry to fail")
	}
	if _, err := New(Config{Algorithm: "bogus"}, reg, prb, nil, nil); err == nil {
		t.Error("Expected construction with a bogus algorithm to fail")
	}
	if _, err := New(Config{Algorithm: selector.RandomAlgorithm, MaxWorkers: -1}, reg, prb, nil, nil); err == nil {
		t.Error("Expected a negative worker ceiling to fail")
	}
	if _, err := New(Config{Algorithm: selector.RandomAlgorithm, ThroughputPeriod: -time.Second},
		reg, prb, nil, nil); err == nil {
		t.Error("Expected a negative throughput period to fail")
	}

	eng, err := New(Config{Algorithm: selector.RandomAlgorithm}, reg, prb, nil, nil)
	if err != nil {
		t.Fatal("Unexpected error with a zero-value config", err)
	}
	if eng.config.MaxWorkers != 20 || eng.config.ExpectedThroughput != 25 ||
		eng.config.ThroughputPeriod != time.Second {
		t.Error("Zero config values should take system defaults", eng.config)
	}
}

func TestSubmitEmptyRegistry(t *testing.T) {
	prb := &allUpProber{}
	eng, err := New(Config{Algorithm: selector.RandomAlgorithm}, registry.New(prb, nil), prb,
		&mockClient{status: 200}, nil)
	if err != nil {
		t.Fatal("Unexpected error when setting up for test", err)
	}

	pending, addr, err := eng.Submit("hello", 5000, "")
	if err == nil {
		t.Fatal("Expected a selection failure over an empty registry")
	}
	if !errors.Is(err, ErrNoServerChosen) {
		t.Error("Selection failure must wrap ErrNoServerChosen, got", err)
	}
	if pending != nil || addr != "" {
		t.Error("Nothing should be dispatched on selection failure", pending, addr)
	}
}

func TestSubmitExplicitAddress(t *testing.T) {
	prb := &allUpProber{}
	client := &mockClient{status: 200, body: "ack"}

	// An empty registry proves the explicit address bypasses selection entirely

	eng, err := New(Config{Algorithm: selector.MinLatencyAlgorithm, ConsiderThroughput: true},
		registry.New(prb, nil), prb, client, nil)
	if err != nil {
		t.Fatal("Unexpected error when setting up for test", err)
	}

	pending, addr, err := eng.Submit("square/4", 7777, "10.0.0.9")
	if err != nil {
		t.Fatal("Explicit submission must not fail selection", err)
	}
	if addr != "10.0.0.9" {
		t.Error("Expected the explicit address to be chosen, got", addr)
	}

	resp, err := pending.Result()
	if err != nil {
		t.Fatal("Unexpected dispatch error", err)
	}
	if resp.StatusCode != 200 || string(resp.Body) != "ack" {
		t.Error("Response should carry the status and body", resp.StatusCode, string(resp.Body))
	}

	urls := client.requested()
	if len(urls) != 1 || urls[0] != "http://10.0.0.9:7777/square/4" {
		t.Error("Unexpected outbound URL", urls)
	}
}

func TestDispatchErrorOnHandleOnly(t *testing.T) {
	prb := &allUpProber{}
	client := &mockClient{err: errors.New("connection refused")}
	eng, err := New(Config{Algorithm: selector.RandomAlgorithm},
		loadedRegistry(prb, "10.0.0.1"), prb, client, nil)
	if err != nil {
		t.Fatal("Unexpected error when setting up for test", err)
	}

	pending, addr, err := eng.Submit("hello", 5000, "")
	if err != nil {
		t.Fatal("A reachable submission must not fail, dispatch errors belong to the handle", err)
	}
	if addr != "10.0.0.1" {
		t.Error("Expected the sole member to be chosen, got", addr)
	}

	if _, err = pending.Result(); err == nil {
		t.Error("Expected the network failure to surface on the handle")
	}
}

func TestThroughputGate(t *testing.T) {
	prb := &allUpProber{}
	client := &mockClient{status: 200}
	eng, err := New(Config{
		Algorithm:          selector.RandomAlgorithm,
		ConsiderThroughput: true,
		ThroughputPeriod:   time.Hour, // Nothing ages out during the test
		ExpectedThroughput: 2,
	}, loadedRegistry(prb, "127.0.0.1", "10.0.0.2"), prb, client, nil)
	if err != nil {
		t.Fatal("Unexpected error when setting up for test", err)
	}

	// Each Result() is awaited so the window records before the next choice is made. The first
	// three submissions run locally (window count 0, 1, 2 - none over the expectation of 2);
	// after that the gate sheds to the remote member.

	var chosen []string
	for ix := 0; ix < 5; ix++ {
		pending, addr, err := eng.Submit("offloading/3", 5000, "")
		if err != nil {
			t.Fatal("Unexpected submission failure at", ix, err)
		}
		if _, err = pending.Result(); err != nil {
			t.Fatal("Unexpected dispatch failure at", ix, err)
		}
		chosen = append(chosen, addr)
	}

	want := []string{"127.0.0.1", "127.0.0.1", "127.0.0.1", "10.0.0.2", "10.0.0.2"}
	for ix, addr := range want {
		if chosen[ix] != addr {
			t.Fatal("Gate chose the wrong servers", chosen)
		}
	}

	if got := eng.Throughput(); got != 3 {
		t.Error("Expected three local dispatches in the window, got", got)
	}
}

func TestThroughputGateNoRemotes(t *testing.T) {
	prb := &allUpProber{}
	client := &mockClient{status: 200}
	eng, err := New(Config{
		Algorithm:          selector.RandomAlgorithm,
		ConsiderThroughput: true,
		ThroughputPeriod:   time.Hour,
		ExpectedThroughput: 1,
	}, loadedRegistry(prb, "127.0.0.1"), prb, client, nil)
	if err != nil {
		t.Fatal("Unexpected error when setting up for test", err)
	}

	for ix := 0; ix < 2; ix++ {
		pending, _, err := eng.Submit("hello", 5000, "")
		if err != nil {
			t.Fatal("Under-threshold submissions must run locally", ix, err)
		}
		pending.Result()
	}

	// Over the threshold with loopback as the only member there is nowhere to shed to

	_, _, err = eng.Submit("hello", 5000, "")
	if !errors.Is(err, ErrNoServerChosen) {
		t.Error("Expected ErrNoServerChosen with no remote candidates, got", err)
	}
}

func TestWorkerPoolCeiling(t *testing.T) {
	prb := &allUpProber{}
	client := &mockClient{status: 200, block: make(chan struct{})}
	eng, err := New(Config{Algorithm: selector.RandomAlgorithm, MaxWorkers: 2},
		loadedRegistry(prb, "10.0.0.1"), prb, client, nil)
	if err != nil {
		t.Fatal("Unexpected error when setting up for test", err)
	}

	var handles []*Pending
	for ix := 0; ix < 4; ix++ {
		pending, _, err := eng.Submit("hello", 5000, "")
		if err != nil {
			t.Fatal("Submit must never block or fail on a full pool", err)
		}
		handles = append(handles, pending)
	}

	// Wait for the pool to saturate, then confirm it never exceeds the ceiling

	deadline := time.Now().Add(2 * time.Second)
	for {
		if current, _ := eng.InFlight(); current == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Pool never reached its ceiling")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond) // Give excess work a chance to (wrongly) start
	if current, _ := eng.InFlight(); current != 2 {
		t.Fatal("Pool exceeded its ceiling of 2, in flight:", current)
	}

	close(client.block)
	for _, pending := range handles {
		if _, err := pending.Result(); err != nil {
			t.Error("Unexpected dispatch failure after release", err)
		}
	}

	if _, peak := eng.InFlight(); peak != 2 {
		t.Error("Expected a peak concurrency of 2, got", peak)
	}
}

func TestReport(t *testing.T) {
	prb := &allUpProber{}
	client := &mockClient{status: 200}
	eng, err := New(Config{Algorithm: selector.MinLatencyAlgorithm},
		loadedRegistry(prb, "10.0.0.1"), prb, client, nil)
	if err != nil {
		t.Fatal("Unexpected error when setting up for test", err)
	}

	if !strings.Contains(eng.Name(), "minimum-latency") {
		t.Error("Name should identify the configured algorithm, got", eng.Name())
	}

	pending, _, _ := eng.Submit("hello", 5000, "")
	pending.Result()
	eng.Submit("hello", 5000, "") // Completion not awaited, still counts as a submission
	time.Sleep(50 * time.Millisecond)

	rep := eng.Report(true)
	if !strings.Contains(rep, "sub=2") {
		t.Error("Report should show two submissions:", rep)
	}
	if !strings.Contains(rep, "ok=") || !strings.Contains(rep, "Concurrency=") {
		t.Error("Report is missing counters:", rep)
	}

	rep = eng.Report(false)
	if !strings.Contains(rep, "sub=0") {
		t.Error("Reset should zero the submission counter:", rep)
	}
}
