package main

/*

This module is the inbound face of the gateway. Each API request maps onto at most one engine
submission: the handler builds the task path, submits it, waits for the dispatch to finish and
relays the outcome as a JSON envelope that also carries the chosen server, the elapsed time and the
current local throughput. Clients of a gateway see synchronous request/response semantics even
though the engine underneath is fully asynchronous - the concurrency ceiling lives in the engine's
worker pool, not here.

Registry management routes (/addserver, /removeserver, /listservers) act directly on the registry
rather than going through the engine since no dispatch is involved. /getserverlists exists for
peer gateways: its output is exactly the shape registry.LoadFromURL consumes, so gateways can
daisy-chain their inventories.

*/

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/conntrack"
	"github.com/edgegate/edgegate/internal/engine"
	"github.com/edgegate/edgegate/internal/registry"
	"github.com/edgegate/edgegate/internal/taskpath"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const ( // gex = Gateway Error indeX into failureCounters
	gexBadRequest gexInt = iota // Unparseable number or empty address
	gexRateLimited
	gexNoServerChosen
	gexDispatchFailed

	gexArraySize
)

type gexInt int

type stats struct {
	successCount    int           // Requests that ran to completion without error
	totalLatency    time.Duration // Duration of all successful requests
	failureCounters [gexArraySize]int
}

type server struct {
	listenAddress string
	eng           *engine.Engine
	reg           *registry.Registry
	taskPort      int
	limiter       *rate.Limiter // nil when inbound requests are unlimited
	tracker       *conntrack.Tracker
	log           *zap.Logger

	httpServer *http.Server

	mu sync.RWMutex // Protects everything below - everything above is read-only or self-protected
	stats
}

// apiReply is the JSON envelope every route answers with. Data carries the route-specific payload;
// the rest describes how the gateway handled the request.
type apiReply struct {
	Data       any     `json:"data"`
	Server     string  `json:"server,omitempty"`
	StatusCode int     `json:"status_code"`
	Time       float64 `json:"time"` // Wall seconds spent handling the request
	Throughput int     `json:"throughput"`
}

// start opens the listen socket and serves until stop. Startup errors arrive on errorChan. The
// listener is opened synchronously so the caller knows privileged ports are bound before it
// constrains the process.
func (t *server) start(errorChan chan error, wg *sync.WaitGroup) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", t.wrap(t.handleHello))
	mux.HandleFunc("GET /square/{num}", t.wrap(t.handleSquare))
	mux.HandleFunc("GET /offload/{num}", t.wrap(t.handleOffload))
	mux.HandleFunc("GET /"+consts.ServerListPath, t.wrap(t.handleServerList))
	mux.HandleFunc("GET /listservers", t.wrap(t.handleListServers))
	mux.HandleFunc("GET /addserver/{addr}", t.wrap(t.handleAddServer))
	mux.HandleFunc("GET /removeserver/{addr}", t.wrap(t.handleRemoveServer))
	mux.HandleFunc("GET /contract/ping", t.wrap(t.handleContractPing))
	mux.HandleFunc("GET /contract/list", t.wrap(t.handleContractList))
	mux.HandleFunc("GET /contract/exec", t.wrap(t.handleContractExec))
	mux.Handle("GET /metrics", promhttp.Handler())

	t.httpServer = &http.Server{
		Addr:    t.listenAddress,
		Handler: mux,
		ConnState: func(c net.Conn, state http.ConnState) {
			t.tracker.ConnState(c.RemoteAddr().String(), time.Now(), state)
		},
	}

	listener, err := net.Listen("tcp", t.listenAddress)
	if err != nil {
		errorChan <- err
		return
	}

	wg.Add(1)
	go func() {
		err := t.httpServer.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			errorChan <- err
		}
		wg.Done()
	}()
}

// stop performs an orderly shutdown of the listen socket and in-flight requests.
func (t *server) stop() {
	if t.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.httpServer.Shutdown(ctx)
	}
}

// wrap applies the rate limiter and per-connection request accounting around a route handler.
func (t *server) wrap(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if t.limiter != nil && !t.limiter.Allow() {
			t.addFailureStats(gexRateLimited)
			http.Error(w, "request rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		t.tracker.RequestAdd(r.RemoteAddr)
		defer t.tracker.RequestDone(r.RemoteAddr)

		handler(w, r)
	}
}

// reply renders the envelope. Encoding can only fail once headers are out so a failure is logged
// rather than re-rendered.
func (t *server) reply(w http.ResponseWriter, httpStatus int, rep apiReply) {
	w.Header().Set("Content-Type", consts.ContentTypeJSON)
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		t.log.Warn("Failed to encode reply", zap.Error(err))
	}
}

// dispatch submits one task, waits for the outcome and renders it. This is the shared tail of
// every route that offloads work.
func (t *server) dispatch(w http.ResponseWriter, task string) {
	started := time.Now()

	pending, addr, err := t.eng.Submit(task, t.taskPort, "")
	if err != nil {
		t.addFailureStats(gexNoServerChosen)
		t.reply(w, http.StatusServiceUnavailable, apiReply{
			Data:       err.Error(),
			StatusCode: http.StatusServiceUnavailable,
			Time:       time.Since(started).Seconds(),
			Throughput: t.eng.Throughput(),
		})
		return
	}

	resp, err := pending.Result()
	elapsed := time.Since(started)
	if err != nil {
		t.addFailureStats(gexDispatchFailed)
		t.reply(w, http.StatusBadGateway, apiReply{
			Data:       err.Error(),
			Server:     addr,
			StatusCode: http.StatusBadGateway,
			Time:       elapsed.Seconds(),
			Throughput: t.eng.Throughput(),
		})
		return
	}

	t.addSuccessStats(elapsed)
	t.reply(w, http.StatusOK, apiReply{
		Data:       string(resp.Body),
		Server:     addr,
		StatusCode: resp.StatusCode,
		Time:       elapsed.Seconds(),
		Throughput: t.eng.Throughput(),
	})
}

func (t *server) handleHello(w http.ResponseWriter, r *http.Request) {
	t.addSuccessStats(0)
	t.reply(w, http.StatusOK, apiReply{
		Data:       "Hello from " + consts.GatewayProgramName + " " + consts.Version,
		StatusCode: http.StatusOK,
		Throughput: t.eng.Throughput(),
	})
}

func (t *server) handleSquare(w http.ResponseWriter, r *http.Request) {
	num, err := strconv.Atoi(r.PathValue("num"))
	if err != nil {
		t.addFailureStats(gexBadRequest)
		http.Error(w, "square: not a number: "+r.PathValue("num"), http.StatusBadRequest)
		return
	}
	t.dispatch(w, taskpath.Square(num))
}

func (t *server) handleOffload(w http.ResponseWriter, r *http.Request) {
	num, err := strconv.Atoi(r.PathValue("num"))
	if err != nil {
		t.addFailureStats(gexBadRequest)
		http.Error(w, "offload: not a number: "+r.PathValue("num"), http.StatusBadRequest)
		return
	}
	t.dispatch(w, taskpath.Offload(num))
}

// handleServerList serves the import format consumed by peer gateways.
func (t *server) handleServerList(w http.ResponseWriter, r *http.Request) {
	t.addSuccessStats(0)
	t.reply(w, http.StatusOK, apiReply{
		Data:       t.reg.Addresses(),
		StatusCode: http.StatusOK,
		Throughput: t.eng.Throughput(),
	})
}

func (t *server) handleListServers(w http.ResponseWriter, r *http.Request) {
	members := make(map[string]string)
	for _, s := range t.reg.Servers() {
		members[s.Name()] = s.Address()
	}
	t.addSuccessStats(0)
	t.reply(w, http.StatusOK, apiReply{
		Data:       members,
		StatusCode: http.StatusOK,
		Throughput: t.eng.Throughput(),
	})
}

// handleAddServer admits the address if it probes as reachable. The reply says which way it went
// rather than erroring since an unreachable peer is an expected condition, not a client mistake.
func (t *server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if len(addr) == 0 {
		t.addFailureStats(gexBadRequest)
		http.Error(w, "addserver: empty address", http.StatusBadRequest)
		return
	}

	admitted := t.reg.Add(addr)
	outcome := "added"
	if !admitted {
		outcome = "not reachable, not added"
	}
	t.addSuccessStats(0)
	t.reply(w, http.StatusOK, apiReply{
		Data:       addr + ": " + outcome,
		StatusCode: http.StatusOK,
		Throughput: t.eng.Throughput(),
	})
}

func (t *server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if len(addr) == 0 {
		t.addFailureStats(gexBadRequest)
		http.Error(w, "removeserver: empty address", http.StatusBadRequest)
		return
	}

	outcome := "removed"
	if !t.reg.Remove(addr) {
		outcome = "was not registered"
	}
	t.addSuccessStats(0)
	t.reply(w, http.StatusOK, apiReply{
		Data:       addr + ": " + outcome,
		StatusCode: http.StatusOK,
		Throughput: t.eng.Throughput(),
	})
}

func (t *server) handleContractPing(w http.ResponseWriter, r *http.Request) {
	t.dispatch(w, taskpath.ContractPing())
}

func (t *server) handleContractList(w http.ResponseWriter, r *http.Request) {
	t.dispatch(w, taskpath.ContractList())
}

func (t *server) handleContractExec(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	contract := q.Get("contract")
	function := q.Get("function")
	if len(contract) == 0 || len(function) == 0 {
		t.addFailureStats(gexBadRequest)
		http.Error(w, "contract/exec: contract and function query parameters are required",
			http.StatusBadRequest)
		return
	}
	t.dispatch(w, taskpath.ContractExecute(contract, function, q.Get("arg")))
}
