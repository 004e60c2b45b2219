/*
Package prober measures the reachability and network delay of a single candidate server. It is the
sole producer of registry.ProbeResult values.

Two measurement modes exist. The preferred mode is an ICMP echo over an unprivileged datagram
socket, which gives the truest equivalent of a ping round trip. Not every environment grants those
sockets (on Linux they are gated by the net.ipv4.ping_group_range sysctl) so when the socket cannot
be opened the prober falls back to timing a TCP connect against a nominated port.

A probe either succeeds with a measured delay or fails - unknown host and timeout both collapse to
an unavailable result with a zero delay. There are no retries; a failed probe is terminal for that
attempt and callers decide what failure means.
*/
package prober

import (
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/edgegate/edgegate/internal/constants"
	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/metrics"
	"github.com/edgegate/edgegate/internal/registry"

	"go.uber.org/zap"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

const protocolICMP = 1 // IANA protocol number for ICMPv4, as wanted by icmp.ParseMessage

// Config defines the public parameters of a Pinger. Zero values take system defaults.
type Config struct {
	Timeout     time.Duration // Upper bound on a single probe
	TCPPort     string        // Port dialled by the TCP fallback
	DisableICMP bool          // Skip ICMP entirely and go straight to TCP connect
}

// Pinger issues probes and records their results. It implements registry.Prober. Safe for
// concurrent use - minimum-latency selection fans out one probe per server.
type Pinger struct {
	config Config
	log    *zap.Logger
	seq    uint32 // ICMP echo sequence, atomically incremented
}

// New constructs a Pinger, filling defaulted config values from the system constants.
func New(config Config, log *zap.Logger) *Pinger {
	consts := constants.Get()
	if config.Timeout == 0 {
		config.Timeout = consts.ProbeTimeout
	}
	if len(config.TCPPort) == 0 {
		config.TCPPort = consts.ProbeTCPPort
	}

	return &Pinger{config: config, log: logging.Or(log)}
}

// Probe issues one reachability/delay measurement against the server, appends the result to the
// server's probe log and returns it. The call blocks for up to the configured timeout.
func (t *Pinger) Probe(server *registry.Server) registry.ProbeResult {
	start := time.Now()
	ok := t.reachable(server.Address())

	r := registry.ProbeResult{ObservedAt: time.Now()}
	if ok {
		r.Available = true
		r.Delay = float64(time.Since(start).Microseconds()) / 1000.0 // Milliseconds
	}
	server.AddProbe(r)
	metrics.RecordProbe(ok)

	if ok {
		t.log.Info("Probe succeeded",
			zap.String("server", server.Address()), zap.Float64("delayMillis", r.Delay))
	} else {
		t.log.Info("Probe failed", zap.String("server", server.Address()))
	}

	return r
}

// reachable runs the preferred measurement with fallback. Only a socket-setup problem triggers the
// fallback; an ICMP timeout or unknown host is a legitimate negative answer.
func (t *Pinger) reachable(address string) bool {
	if !t.config.DisableICMP {
		ok, setupErr := t.icmpEcho(address)
		if setupErr == nil {
			return ok
		}
		t.log.Debug("ICMP socket unavailable, falling back to TCP connect", zap.Error(setupErr))
	}

	return t.tcpConnect(address)
}

// icmpEcho sends a single echo request and waits for any echo reply from the target. The returned
// error is non-nil only when the datagram ICMP socket could not be opened, in which case the
// caller should try another measurement mode.
func (t *Pinger) icmpEcho(address string) (bool, error) {
	dst, err := net.ResolveIPAddr("ip4", address)
	if err != nil {
		return false, nil // Unknown host is an answer, not a setup failure
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return false, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(t.config.Timeout)); err != nil {
		return false, err
	}

	seq := int(atomic.AddUint32(&t.seq, 1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  seq,
			Data: []byte("edgegate probe"),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false, err
	}

	// Datagram ICMP sockets want a UDP address even though no UDP is involved.

	if _, err := conn.WriteTo(wire, &net.UDPAddr{IP: dst.IP}); err != nil {
		return false, nil
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return false, nil // Deadline expired - target is unreachable as far as we care
		}
		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil {
			continue
		}
		if reply.Type == ipv4.ICMPTypeEchoReply {
			return true, nil
		}
	}
}

// tcpConnect times a plain TCP connect against the fallback port. A completed handshake counts as
// reachable regardless of what the far end does next.
func (t *Pinger) tcpConnect(address string) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, t.config.TCPPort), t.config.Timeout)
	if err != nil {
		return false
	}
	conn.Close()

	return true
}
