package main

/*

The worker's handlers are deliberately dumb: every task is a GET, every answer is a small plain
text body, and nothing here knows it is part of an offloading mesh. The square and busywork tasks
mirror what gateways dispatch; the SCIDE routes are a minimal stand-in for a smart-contract engine
so contract dispatches can be exercised without deploying one.

*/

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edgegate/edgegate/internal/conntrack"

	"go.uber.org/zap"
)

const ( // wex = Worker Error indeX into failureCounters
	wexBadRequest wexInt = iota
	wexBadAction

	wexArraySize
)

type wexInt int

type stats struct {
	successCount    int
	failureCounters [wexArraySize]int
}

type server struct {
	listenAddress string
	tracker       *conntrack.Tracker
	log           *zap.Logger

	httpServer *http.Server

	mu sync.RWMutex
	stats
}

func newServer(listenAddress string, log *zap.Logger) *server {
	return &server{
		listenAddress: listenAddress,
		tracker:       conntrack.New(listenAddress),
		log:           log,
	}
}

func (t *server) start(errorChan chan error, wg *sync.WaitGroup) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", t.track(t.handleHello))
	mux.HandleFunc("GET /square/{num}", t.track(t.handleSquare))
	mux.HandleFunc("GET /offloading/{num}", t.track(t.handleOffloading))
	mux.HandleFunc("GET /getserverlists", t.track(t.handleServerList))
	mux.HandleFunc("GET /SCIDE/SCManager", t.track(t.handleContract))

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

func (t *server) stop() {
	if t.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.httpServer.Shutdown(ctx)
	}
}

func (t *server) track(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t.tracker.RequestAdd(r.RemoteAddr)
		defer t.tracker.RequestDone(r.RemoteAddr)

		handler(w, r)
	}
}

func (t *server) handleHello(w http.ResponseWriter, r *http.Request) {
	t.addSuccessStats()
	fmt.Fprintln(w, "Hello from", consts.WorkerProgramName, consts.Version)
}

func (t *server) handleSquare(w http.ResponseWriter, r *http.Request) {
	num, err := strconv.Atoi(r.PathValue("num"))
	if err != nil {
		t.addFailureStats(wexBadRequest)
		http.Error(w, "square: not a number: "+r.PathValue("num"), http.StatusBadRequest)
		return
	}
	t.addSuccessStats()
	fmt.Fprintln(w, num*num)
}

// handleOffloading burns a deterministic amount of CPU so offloaded work is observable in
// latency, then answers with the accumulated sum.
func (t *server) handleOffloading(w http.ResponseWriter, r *http.Request) {
	num, err := strconv.Atoi(r.PathValue("num"))
	if err != nil || num < 0 {
		t.addFailureStats(wexBadRequest)
		http.Error(w, "offloading: not a non-negative number: "+r.PathValue("num"),
			http.StatusBadRequest)
		return
	}

	sum := 0
	for ix := 0; ix < num*1000; ix++ {
		sum += ix % (num + 1)
	}
	t.addSuccessStats()
	fmt.Fprintln(w, sum)
}

// handleServerList answers in the shape a gateway's peer import consumes. A worker knows no peers
// so the list is always empty.
func (t *server) handleServerList(w http.ResponseWriter, r *http.Request) {
	t.addSuccessStats()
	w.Header().Set("Content-Type", consts.ContentTypeJSON)
	fmt.Fprintln(w, `{"data": []}`)
}

// handleContract is a stand-in contract manager. Only ping and listContracts answer usefully.
func (t *server) handleContract(w http.ResponseWriter, r *http.Request) {
	switch action := r.URL.Query().Get("action"); action {
	case "ping":
		t.addSuccessStats()
		fmt.Fprintln(w, "pong")

	case "listContracts":
		t.addSuccessStats()
		fmt.Fprintln(w, "[]")

	default:
		t.addFailureStats(wexBadAction)
		http.Error(w, "SCManager: unsupported action: "+action, http.StatusNotImplemented)
	}
}

func (t *server) addSuccessStats() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.successCount++
}

func (t *server) addFailureStats(wex wexInt) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failureCounters[wex]++
}

// Name satisfies reporter.Reporter.
func (t *server) Name() string {
	return fmt.Sprintf("Worker (%s)", t.listenAddress)
}

// Report satisfies reporter.Reporter.
func (t *server) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	errs := 0
	counters := make([]string, 0, len(t.failureCounters))
	for _, n := range t.failureCounters {
		errs += n
		counters = append(counters, strconv.Itoa(n))
	}

	s := fmt.Sprintf("req=%d ok=%d errs=%d (%s)",
		t.successCount+errs, t.successCount, errs, strings.Join(counters, " "))

	if resetCounters {
		t.stats = stats{}
	}

	return s
}
