/*
Package registry holds the pool of candidate servers that tasks can be offloaded to, together with
each server's probe history. The Registry is the only shared mutable collection in edgegate so all
access is mutex protected and selection code that needs a stable view works on a snapshot rather
than the live collection.

Servers are value-like: identity is the address alone. Two entries with the same address are the
same server regardless of the name they were registered under, and the registry never holds two
entries with the same address.

Membership is reachability gated. Refresh() re-probes every current member and purges the ones that
fail, then probes each incoming candidate and admits only the reachable ones. An unreachable
candidate is silently excluded - that is an expected outcome, not an error.
*/
package registry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/constants"
	"github.com/edgegate/edgegate/internal/logging"

	"go.uber.org/zap"
)

// ProbeResult records the outcome of a single reachability/delay measurement. Results are
// immutable once appended to a server's log. An unavailable result always carries a zero delay as
// there is no meaningful measurement to report.
type ProbeResult struct {
	Available  bool
	Delay      float64 // Milliseconds. Zero when Available is false.
	ObservedAt time.Time
}

// Server is one candidate machine. The name is a human label carried for logging; equality is
// defined solely by the address. A server owns an ordered, append-only log of probe results which
// is capped so a long-lived process does not accumulate history without bound.
type Server struct {
	name    string
	address string

	mu     sync.Mutex // Protects probes
	probes []ProbeResult
}

// NewServer constructs a server entry. Name is purely descriptive.
func NewServer(name, address string) *Server {
	return &Server{name: name, address: address}
}

// Name returns the label the server was registered under.
func (t *Server) Name() string {
	return t.name
}

// Address returns the identity of the server.
func (t *Server) Address() string {
	return t.address
}

func (t *Server) String() string {
	return fmt.Sprintf("Server(%s, %s)", t.name, t.address)
}

// AddProbe appends a result to the probe log. The oldest entry is dropped once the log reaches the
// configured cap.
func (t *Server) AddProbe(r ProbeResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if max := constants.Get().ProbeHistoryMax; len(t.probes) >= max {
		t.probes = t.probes[len(t.probes)-max+1:]
	}
	t.probes = append(t.probes, r)
}

// LastProbe returns the most recently appended probe result. The bool is false if the server has
// never been probed.
func (t *Server) LastProbe() (ProbeResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.probes) == 0 {
		return ProbeResult{}, false
	}

	return t.probes[len(t.probes)-1], true
}

// ProbeCount returns the current length of the probe log.
func (t *Server) ProbeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.probes)
}

// clone returns an independent copy of the server including its probe history. Mutating the clone
// never affects the original.
func (t *Server) clone() *Server {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := &Server{name: t.name, address: t.address}
	n.probes = append(n.probes, t.probes...)

	return n
}

// Prober issues a single reachability/delay measurement against a server and appends the result to
// the server's probe log. A probe may block for up to its configured timeout and is never retried;
// one failure is terminal for that attempt. The interface is defined here, on the consumer side,
// so that the registry and selector do not depend on a concrete probing implementation.
type Prober interface {
	Probe(server *Server) ProbeResult
}

// HTTPClientDo is the one http.Client method used by LoadFromURL. It exists so tests can supply a
// mock client - http.Client is a struct, not an interface, so it cannot be substituted directly.
type HTTPClientDo interface {
	Do(*http.Request) (*http.Response, error)
}

// Registry is an ordered collection of unique servers. The zero value is not usable; construct
// with New() and populate with Load(), Refresh() or Add().
type Registry struct {
	prober Prober
	log    *zap.Logger

	mu        sync.RWMutex // Protects everything below
	servers   []*Server
	byAddress map[string]int // Address back to servers index
}

// New constructs an empty registry. The prober is used by every reachability-gated mutation. A nil
// logger means no logging.
func New(prober Prober, log *zap.Logger) *Registry {
	return &Registry{
		prober:    prober,
		log:       logging.Or(log),
		byAddress: make(map[string]int),
	}
}

// Load populates the registry from a static name to address mapping, typically the configuration
// file's server list. Entries are added in name order so loading is deterministic. Duplicate
// addresses collapse to the first name encountered. Load does not probe - startup membership is
// taken on trust and corrected by the first Refresh.
func (t *Registry) Load(serverMap map[string]string) {
	names := make([]string, 0, len(serverMap))
	for name := range serverMap {
		names = append(names, name)
	}
	sort.Strings(names)

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, name := range names {
		t.addLocked(NewServer(name, serverMap[name]))
	}

	t.log.Info("Loaded server list", zap.Int("count", len(t.servers)))
}

// addLocked appends a server if its address is not already present. Callers must hold the write
// lock.
func (t *Registry) addLocked(s *Server) bool {
	if _, ok := t.byAddress[s.address]; ok {
		return false
	}
	t.byAddress[s.address] = len(t.servers)
	t.servers = append(t.servers, s)

	return true
}

// reindexLocked rebuilds the address index after entries have been removed.
func (t *Registry) reindexLocked() {
	t.byAddress = make(map[string]int, len(t.servers))
	for ix, s := range t.servers {
		t.byAddress[s.address] = ix
	}
}

// Len returns the number of registered servers.
func (t *Registry) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.servers)
}

// Contains reports whether an address is currently registered.
func (t *Registry) Contains(address string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.byAddress[address]

	return ok
}

// Servers returns a copy of the membership slice in registration order. The pointed-to servers are
// shared - callers treat them as read-only apart from probe appends, which servers self-protect.
func (t *Registry) Servers() []*Server {
	t.mu.RLock()
	defer t.mu.RUnlock()

	servers := make([]*Server, len(t.servers))
	copy(servers, t.servers)

	return servers
}

// Addresses returns the registered addresses. They are unique by construction; order follows
// registration order.
func (t *Registry) Addresses() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	addrs := make([]string, 0, len(t.servers))
	for _, s := range t.servers {
		addrs = append(addrs, s.address)
	}

	return addrs
}

// Refresh replaces membership with the reachability-gated union of current members and incoming
// candidates: current members that fail a fresh probe are purged - even if the incoming list never
// mentions them - and each new candidate is admitted only if its probe succeeds. Duplicates
// collapse by address. The sourceLabel becomes the registered name of admitted candidates.
func (t *Registry) Refresh(addresses []string, sourceLabel string) {
	t.log.Info("Refreshing server list",
		zap.Strings("candidates", addresses), zap.String("source", sourceLabel))

	// Probe outside the registry lock; probes block and selection reads should not stall
	// behind them.

	kept := make([]*Server, 0, len(t.servers))
	for _, s := range t.Servers() {
		if r := t.prober.Probe(s); r.Available {
			kept = append(kept, s)
		} else {
			t.log.Info("Dropping unreachable server", zap.String("address", s.address))
		}
	}

	incoming := make([]*Server, 0, len(addresses))
	for _, addr := range addresses {
		s := NewServer(sourceLabel, addr)
		if r := t.prober.Probe(s); r.Available {
			incoming = append(incoming, s)
		} else {
			t.log.Info("Excluding unreachable candidate", zap.String("address", addr))
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.servers = t.servers[:0]
	t.byAddress = make(map[string]int)
	for _, s := range kept {
		t.addLocked(s)
	}
	for _, s := range incoming {
		t.addLocked(s)
	}

	t.log.Info("Server list refreshed", zap.Int("count", len(t.servers)))
}

// Add is sugar over Refresh with a singleton candidate list. It returns true if the address ended
// up registered - either newly admitted or already present and still reachable.
func (t *Registry) Add(address string) bool {
	t.Refresh([]string{address}, constants.Get().AddedServerName)

	return t.Contains(address)
}

// Remove deletes the entry whose address matches exactly. Removing an absent address is a
// tolerated no-op returning false, mirroring Refresh's silent tolerance of absent members; callers
// that must know can test the return value.
func (t *Registry) Remove(address string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	ix, ok := t.byAddress[address]
	if !ok {
		return false
	}

	t.servers = append(t.servers[:ix], t.servers[ix+1:]...)
	t.reindexLocked()
	t.log.Info("Removed server", zap.String("address", address))

	return true
}

// SnapshotExcluding returns an independent deep copy of the registry with one address removed.
// The copy shares no mutable state with the original so a selection pass over the snapshot can
// never be corrupted by a concurrent Refresh, and mutations of the snapshot never leak back.
func (t *Registry) SnapshotExcluding(address string) *Registry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := New(t.prober, t.log)
	for _, s := range t.servers {
		if s.address == address {
			continue
		}
		n.addLocked(s.clone())
	}

	return n
}

// serverListReply matches the JSON body served by a peer gateway's server-list route.
type serverListReply struct {
	Data []string `json:"data"`
}

// LoadFromURL fetches a peer's address list - a JSON object of the form {"data": ["a", "b"]} - and
// refreshes membership from it. Used to bootstrap one gateway off another.
func (t *Registry) LoadFromURL(url string, client HTTPClientDo) error {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("registry: fetch server list from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registry: fetch server list from %s: unexpected status %s", url, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("registry: read server list body: %w", err)
	}

	var reply serverListReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return fmt.Errorf("registry: parse server list body: %w", err)
	}

	t.Refresh(reply.Data, "AddedFromRemote")

	return nil
}
