package prober

import (
	"net"
	"testing"
	"time"

	"github.com/edgegate/edgegate/internal/registry"
)

// testListener opens a loopback TCP listener and returns its address and port.
func testListener(t *testing.T) (net.Listener, string, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("Could not open test listener", err)
	}
	host, port, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		t.Fatal("Could not split listener address", err)
	}

	return l, host, port
}

func TestProbeTCPSuccess(t *testing.T) {
	l, host, port := testListener(t)
	defer l.Close()
	go func() { // Accept and discard so the connect completes cleanly
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	p := New(Config{DisableICMP: true, TCPPort: port, Timeout: time.Second}, nil)
	s := registry.NewServer("local", host)
	r := p.Probe(s)

	if !r.Available {
		t.Error("Probe of a listening port should be available")
	}
	if r.Delay < 0 {
		t.Error("Measured delay should never be negative", r.Delay)
	}
	if r.ObservedAt.IsZero() {
		t.Error("Probe result should carry an observation time")
	}
	if s.ProbeCount() != 1 {
		t.Error("Probe should append exactly one result to the server log, got", s.ProbeCount())
	}
}

func TestProbeTCPRefused(t *testing.T) {
	l, host, port := testListener(t)
	l.Close() // Port is now known-free so the connect is refused

	p := New(Config{DisableICMP: true, TCPPort: port, Timeout: time.Second}, nil)
	s := registry.NewServer("dead", host)
	r := p.Probe(s)

	if r.Available {
		t.Error("Probe of a closed port should be unavailable")
	}
	if r.Delay != 0 {
		t.Error("Unavailable result must carry a zero delay, got", r.Delay)
	}
	if s.ProbeCount() != 1 {
		t.Error("Failed probes are still appended to the server log, got", s.ProbeCount())
	}
}

func TestProbeUnknownHost(t *testing.T) {
	p := New(Config{DisableICMP: true, Timeout: time.Second}, nil)
	s := registry.NewServer("nowhere", "host.invalid")
	r := p.Probe(s)

	if r.Available {
		t.Error("Probe of an unresolvable host should be unavailable")
	}
	if r.Delay != 0 {
		t.Error("Unavailable result must carry a zero delay, got", r.Delay)
	}
}

func TestConfigDefaults(t *testing.T) {
	p := New(Config{}, nil)
	if p.config.Timeout == 0 {
		t.Error("Zero timeout should have been defaulted")
	}
	if len(p.config.TCPPort) == 0 {
		t.Error("Empty TCP port should have been defaulted")
	}
}
