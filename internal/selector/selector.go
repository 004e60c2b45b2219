/*
Package selector picks one server out of a registry. There is a closed set of selection algorithms
- this is a deliberate design point. Only two algorithms exist, new ones are rare and deliberate
additions, so the algorithm is a tagged variant dispatching to fixed strategies rather than an open
map of arbitrary callables.

The 'random' algorithm picks a uniformly random member and never probes.

The 'minimum-latency' algorithm probes every registered server concurrently - one probe per server,
no partial results - waits for the full fan-in and then returns the available server with the
strictly smallest measured delay. Ties go to the earlier-registered server. If no server is
available the selection legitimately yields nothing; callers must treat that as an ordinary
failure-to-select outcome, not an error.

Resolution of a configured algorithm name happens once, at construction, via ParseAlgorithm. An
unknown name is a configuration error and the process should refuse to start rather than degrade.
*/
package selector

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/registry"

	"go.uber.org/zap"
)

// Algorithm names one of the fixed selection strategies.
type Algorithm string

const (
	RandomAlgorithm     Algorithm = "random"          // Uniform pick, no probing
	MinLatencyAlgorithm Algorithm = "minimum-latency" // Probe everyone, pick the fastest
)

// ParseAlgorithm resolves a configured name to an Algorithm. Unknown names are a fatal
// configuration error for callers - there is no per-request fallback.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(name) {
	case RandomAlgorithm:
		return RandomAlgorithm, nil
	case MinLatencyAlgorithm:
		return MinLatencyAlgorithm, nil
	}

	return "", fmt.Errorf("selector: unknown selection algorithm %q (have %q, %q)",
		name, RandomAlgorithm, MinLatencyAlgorithm)
}

// Selector applies one fixed algorithm to whichever registry it is handed. It holds no registry
// reference of its own so the same Selector serves both the live registry and the
// exclude-loopback snapshots the admission gate creates.
type Selector struct {
	algorithm Algorithm
	prober    registry.Prober
	log       *zap.Logger
}

// New constructs a Selector. The prober is only exercised by the minimum-latency algorithm but is
// required regardless so that switching algorithms is purely a config change.
func New(algorithm Algorithm, prober registry.Prober, log *zap.Logger) (*Selector, error) {
	if _, err := ParseAlgorithm(string(algorithm)); err != nil {
		return nil, err
	}
	if prober == nil {
		return nil, fmt.Errorf("selector: prober must not be nil")
	}

	return &Selector{algorithm: algorithm, prober: prober, log: logging.Or(log)}, nil
}

// Algorithm returns the strategy this selector dispatches to.
func (t *Selector) Algorithm() Algorithm {
	return t.algorithm
}

// Pick selects one server from the registry. The bool is false when no server could be chosen -
// empty registry, or every candidate unavailable under minimum-latency.
func (t *Selector) Pick(reg *registry.Registry) (*registry.Server, bool) {
	var chosen *registry.Server
	var ok bool
	switch t.algorithm {
	case MinLatencyAlgorithm:
		chosen, ok = t.pickMinLatency(reg)
	default:
		chosen, ok = t.pickRandom(reg)
	}

	if ok {
		t.log.Info("Chose server", zap.String("algorithm", string(t.algorithm)),
			zap.String("server", chosen.Address()))
	} else {
		t.log.Info("Failed to choose a server", zap.String("algorithm", string(t.algorithm)))
	}

	return chosen, ok
}

// pickRandom returns a uniformly random member. Only an empty registry fails.
func (t *Selector) pickRandom(reg *registry.Registry) (*registry.Server, bool) {
	servers := reg.Servers()
	if len(servers) == 0 {
		return nil, false
	}

	return servers[rand.Intn(len(servers))], true
}

// pickMinLatency probes every server concurrently, waits for all probes to complete and scans the
// freshest results in registration order. The comparison is strict so equal delays leave the
// earlier server in place.
func (t *Selector) pickMinLatency(reg *registry.Registry) (*registry.Server, bool) {
	servers := reg.Servers()
	if len(servers) == 0 {
		return nil, false
	}

	// Fan out one probe per server and wait for the full fan-in. No per-probe timeout beyond
	// what the prober itself enforces, and no partial results.

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(s *registry.Server) {
			defer wg.Done()
			t.prober.Probe(s)
		}(s)
	}
	wg.Wait()

	var best *registry.Server
	var bestDelay float64
	for _, s := range servers {
		r, probed := s.LastProbe()
		if !probed || !r.Available {
			continue
		}
		if best == nil || r.Delay < bestDelay {
			best = s
			bestDelay = r.Delay
		}
	}

	if best == nil {
		return nil, false
	}

	return best, true
}
