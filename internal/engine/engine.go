/*
Package engine is the decision layer of the offloading gateway. Given an opaque task and the
registry of candidate servers it decides where the task runs, hands the outbound call to a bounded
worker pool and immediately returns a Pending handle together with the chosen address. The caller
decides when - or whether - to wait on the handle.

The decision has three tiers:

 1. An explicit address supplied with the submission is authoritative. It bypasses both the
    admission gate and the selection policy.

 2. If throughput-aware admission is enabled and the loopback address is registered, the engine
    compares the recent local dispatch rate against the expected throughput. Over the threshold it
    selects from a registry snapshot with loopback excluded; at or under it the local server is
    chosen directly without consulting the policy.

 3. Otherwise the configured selection policy runs over the full registry.

Selection can legitimately fail - empty registry, every candidate unavailable, or no remote
candidates behind the gate. That surfaces as ErrNoServerChosen from Submit, never as a dispatch.
Network failure during the outbound call itself surfaces only on the Pending handle; nothing is
retried.

Typical usage:

    eng, err := engine.New(engine.Config{Algorithm: selector.MinLatencyAlgorithm}, reg, prb, nil, log)
    ...
    pending, addr, err := eng.Submit("SCIDE/SCManager?action=ping", 18000, "")
    if err != nil {
        // nothing dispatched
    }
    resp, err := pending.Result() // blocks until the worker finishes
*/
package engine

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/constants"
	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/metrics"
	"github.com/edgegate/edgegate/internal/registry"
	"github.com/edgegate/edgegate/internal/selector"
	"github.com/edgegate/edgegate/internal/throughput"

	"go.uber.org/zap"
)

// ErrNoServerChosen is returned by Submit when selection yields no server: the registry is empty,
// every candidate is unavailable, or the admission gate excluded the only member. Callers match it
// with errors.Is.
var ErrNoServerChosen = errors.New("engine: no server chosen")

// HTTPClientDo is the one http.Client method the engine uses for outbound calls. It exists so
// tests can supply a mock client - http.Client is a struct, not an interface, so it cannot be
// substituted directly.
type HTTPClientDo interface {
	Do(*http.Request) (*http.Response, error)
}

// Config defines the public engine parameters. Zero values take the system defaults.
type Config struct {
	Algorithm          selector.Algorithm // Selection policy; resolved at construction
	MaxWorkers         int                // Dispatch pool ceiling (default 20)
	ConsiderThroughput bool               // Enable the local-vs-remote admission gate
	ThroughputPeriod   time.Duration      // Window the gate counts over (default 1s)
	ExpectedThroughput int                // Local dispatches per period before shedding (default 25)
}

// Response is the raw outcome of one outbound call: status plus the fully read body. No schema is
// imposed beyond that.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// Pending is the handle returned by Submit for a dispatch that is executing - or queued to
// execute - on the worker pool.
type Pending struct {
	done chan struct{}
	resp *Response
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// complete records the outcome and releases waiters. Called exactly once, by the worker.
func (t *Pending) complete(resp *Response, err error) {
	t.resp = resp
	t.err = err
	close(t.done)
}

// Done returns a channel that closes when the dispatch has finished, for callers that want to
// select rather than block.
func (t *Pending) Done() <-chan struct{} {
	return t.done
}

// Result blocks until the dispatch finishes and returns its outcome. A network failure during the
// outbound call appears here and nowhere else.
func (t *Pending) Result() (*Response, error) {
	<-t.done

	return t.resp, t.err
}

// dispatchRecord is the ephemeral (server, task, port) tuple handed to a worker. It exists only
// for the duration of one dispatch.
type dispatchRecord struct {
	server  *registry.Server
	task    string
	port    int
	pending *Pending
}

// Engine ties selection to concurrent execution. Construct with New; the zero value is unusable.
type Engine struct {
	consts     constants.Constants
	config     Config
	reg        *registry.Registry
	sel        *selector.Selector
	httpClient HTTPClientDo
	log        *zap.Logger

	window   *throughput.Window
	slots    chan struct{} // Counting semaphore bounding concurrent outbound calls
	inflight inflightCounter

	mu sync.RWMutex // Protects everything below
	engineStats
}

// New constructs the engine. An unrecognized algorithm name or negative worker count is a fatal
// configuration error - the process should refuse to start rather than degrade silently. A nil
// httpClient means http.DefaultClient.
func New(config Config, reg *registry.Registry, prb registry.Prober,
	httpClient HTTPClientDo, log *zap.Logger) (*Engine, error) {

	if reg == nil {
		return nil, fmt.Errorf("engine: registry must not be nil")
	}
	if config.MaxWorkers < 0 {
		return nil, fmt.Errorf("engine: MaxWorkers is negative: %d", config.MaxWorkers)
	}
	if config.ThroughputPeriod < 0 {
		return nil, fmt.Errorf("engine: ThroughputPeriod is negative: %d", config.ThroughputPeriod)
	}

	t := &Engine{
		consts:     constants.Get(),
		config:     config,
		reg:        reg,
		httpClient: httpClient,
		log:        logging.Or(log),
		window:     &throughput.Window{},
	}

	// Set config defaults

	if t.config.MaxWorkers == 0 {
		t.config.MaxWorkers = t.consts.DefaultMaxWorkers
	}
	if t.config.ThroughputPeriod == 0 {
		t.config.ThroughputPeriod = t.consts.DefaultThroughputPeriod
	}
	if t.config.ExpectedThroughput == 0 {
		t.config.ExpectedThroughput = t.consts.DefaultExpectedThroughput
	}
	if t.httpClient == nil {
		t.httpClient = http.DefaultClient
	}

	var err error
	t.sel, err = selector.New(t.config.Algorithm, prb, t.log)
	if err != nil {
		return nil, err
	}

	t.slots = make(chan struct{}, t.config.MaxWorkers)

	t.log.Info("Initialized dispatch engine",
		zap.String("algorithm", string(t.config.Algorithm)),
		zap.Int("maxWorkers", t.config.MaxWorkers),
		zap.Bool("considerThroughput", t.config.ConsiderThroughput),
		zap.Duration("throughputPeriod", t.config.ThroughputPeriod),
		zap.Int("expectedThroughput", t.config.ExpectedThroughput))

	return t, nil
}

// Submit offloads one task. If address is non-empty it is used verbatim as the target; otherwise
// the engine chooses. On success the dispatch is queued for asynchronous execution and Submit
// returns the Pending handle plus the chosen address without blocking. On selection failure
// nothing is dispatched and the error wraps ErrNoServerChosen.
func (t *Engine) Submit(task string, port int, address string) (*Pending, string, error) {
	t.addSubmission()

	var server *registry.Server
	if len(address) > 0 { // An explicit target is authoritative
		server = registry.NewServer(t.consts.ChosenServerName, address)
	} else {
		var ok bool
		server, ok = t.choose()
		if !ok {
			t.addSelectionFailure()
			metrics.SelectionFailuresTotal.Inc()
			t.log.Info("Failed to submit task, no server chosen", zap.String("task", task))
			return nil, "", fmt.Errorf("submit %q: %w", task, ErrNoServerChosen)
		}
	}

	rec := dispatchRecord{server: server, task: task, port: port, pending: newPending()}
	t.log.Info("Submitting task to worker pool",
		zap.String("task", task), zap.Int("port", port), zap.String("server", server.Address()))

	// The slot is acquired inside the goroutine so Submit never blocks; excess work queues on
	// the semaphore while the pool ceiling holds.

	go func() {
		t.slots <- struct{}{}
		defer func() { <-t.slots }()
		t.execute(rec)
	}()

	return rec.pending, server.Address(), nil
}

// choose picks the target for a submission with no explicit address. The bool is false when no
// server could be chosen.
func (t *Engine) choose() (*registry.Server, bool) {
	loopback := t.consts.LoopbackAddress

	if t.config.ConsiderThroughput && t.reg.Contains(loopback) {
		if t.window.PreferRemote(time.Now(), t.config.ThroughputPeriod, t.config.ExpectedThroughput) {
			t.log.Info("Local throughput over expectation, choosing a remote server")
			snap := t.reg.SnapshotExcluding(loopback)
			if snap.Len() == 0 {
				return nil, false
			}
			return t.sel.Pick(snap)
		}

		// Under the threshold the local device executes directly; the policy is not consulted.

		t.log.Info("Local throughput within expectation, choosing the local device")
		return registry.NewServer(t.consts.LocalServerName, loopback), true
	}

	return t.sel.Pick(t.reg)
}

// execute runs inside a worker slot. A dispatch aimed at the loopback address is what feeds the
// throughput window - only locally executed work counts toward local throughput.
func (t *Engine) execute(rec dispatchRecord) {
	t.inflight.add()
	defer t.inflight.done()

	start := time.Now()
	local := rec.server.Address() == t.consts.LoopbackAddress
	if local {
		t.window.Record(start)
	}
	t.addDispatch(local)

	url := fmt.Sprintf("http://%s:%d/%s", rec.server.Address(), rec.port, rec.task)
	t.log.Info("Calling remote server", zap.String("url", url))

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.addFailure(dexCreateRequest)
		metrics.RecordDispatch(rec.server.Address(), false, time.Since(start).Seconds())
		rec.pending.complete(nil, err)
		return
	}
	req.Header.Set(t.consts.UserAgentHeader,
		t.consts.PackageName+"/"+t.consts.Version+" ("+t.consts.PackageURL+")")

	resp, err := t.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		t.addFailure(dexDoRequest)
		metrics.RecordDispatch(rec.server.Address(), false, elapsed.Seconds())
		rec.pending.complete(nil, err)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.addFailure(dexReadBody)
		metrics.RecordDispatch(rec.server.Address(), false, elapsed.Seconds())
		rec.pending.complete(nil, fmt.Errorf("engine: read response body: %w", err))
		return
	}

	t.addSuccess(elapsed)
	metrics.RecordDispatch(rec.server.Address(), true, elapsed.Seconds())
	rec.pending.complete(&Response{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}, nil)
}

// Throughput returns the count of locally executed dispatches within the configured period.
func (t *Engine) Throughput() int {
	count := t.window.Count(time.Now(), t.config.ThroughputPeriod)
	metrics.LocalThroughput.Set(float64(count))

	return count
}

// ListAddresses returns the registry's current membership.
func (t *Engine) ListAddresses() []string {
	return t.reg.Addresses()
}

// RefreshServers runs a reachability-gated refresh of the registry from the given address list.
func (t *Engine) RefreshServers(addresses []string, label string) {
	t.reg.Refresh(addresses, label)
}
