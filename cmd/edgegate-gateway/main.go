// accept task requests over HTTP and offload each to the best server in the registry
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"runtime/pprof"
	"strings"
	"sync"
	"syscall"
	"time"

	yamlconfig "github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/conntrack"
	"github.com/edgegate/edgegate/internal/constants"
	"github.com/edgegate/edgegate/internal/engine"
	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/osutil"
	"github.com/edgegate/edgegate/internal/prober"
	"github.com/edgegate/edgegate/internal/registry"
	"github.com/edgegate/edgegate/internal/reporter"
	"github.com/edgegate/edgegate/internal/selector"

	"github.com/google/gops/agent"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

// Program-wide variables
var (
	consts = constants.Get()
	cfg    *config

	stdout io.Writer // All I/O goes via these writers
	stderr io.Writer

	startTime   = time.Now()
	stopChannel chan os.Signal
	flagSet     *flag.FlagSet

	// Record state transitions thru main under a mutex as tests poll from other go-routines
	mainMu                   sync.Mutex
	mainStarted, mainStopped bool
)

func setMainStarted() {
	mainMu.Lock()
	defer mainMu.Unlock()
	mainStarted = true
}

func setMainStopped() {
	mainMu.Lock()
	defer mainMu.Unlock()
	mainStopped = true
}

func isMainStarted() bool {
	mainMu.Lock()
	defer mainMu.Unlock()
	return mainStarted
}

func isMainStopped() bool {
	mainMu.Lock()
	defer mainMu.Unlock()
	return mainStopped
}

//////////////////////////////////////////////////////////////////////

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.GatewayProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

func stopMain() {
	stopChannel <- syscall.SIGINT
}

//////////////////////////////////////////////////////////////////////
// main wrappers make it easy for test programs
//////////////////////////////////////////////////////////////////////

// mainInit resets everything such that mainExecute() can be called multiple times in one program
// execution. stopChannel is buffered as the reader may disappear if there is a fatal error and
// multiple writers may try and write to the channel and we don't want those writers to stall
// forever.
func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
	mainMu.Lock()
	mainStarted = false
	mainStopped = false
	mainMu.Unlock()
	stopChannel = make(chan os.Signal, 4) // All reasonable signals cause us to quit or stats report
	osutil.SignalNotify(stopChannel)
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	err := parseCommandLine(args)
	if err != nil {
		return 1 // Error already printed by the flag package
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.GatewayProgramName, "Version:", consts.Version)
		return 0
	}

	// Note which flags were given explicitly then merge the YAML file underneath them

	setFlags := make(map[string]bool)
	flagSet.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	if len(cfg.configFile) > 0 {
		fileCfg, err := yamlconfig.Load(cfg.configFile)
		if err != nil {
			return fatal(err)
		}
		mergeFileConfig(fileCfg, setFlags)
	}

	// Validate decision settings. The engine validates these too but checking here lets the error
	// message refer back to the command-line options.

	algorithm, err := selector.ParseAlgorithm(cfg.algorithm)
	if err != nil {
		return fatal("--algorithm", err)
	}
	if cfg.maxWorkers < 1 {
		return fatal("Maximum dispatch workers must be greater than zero (-w)")
	}
	if cfg.taskPort < 1 || cfg.taskPort > 65535 {
		return fatal("Task port must be between 1 and 65535 (-p)")
	}
	if cfg.requestRate < 0 {
		return fatal("--request-rate cannot be negative")
	}

	log, err := logging.New(cfg.logLevel)
	if err != nil {
		return fatal("--log-level", err)
	}
	defer log.Sync()

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fatal(err)
		}
		defer agent.Close()
	}

	var reporters []reporter.Reporter // Keep track of all reportable routines
	var servers []*server             // Keep track of all servers so we can shut them down

	// Seed the registry. Seeded servers are trusted as-is; imported and runtime-added servers
	// are admitted via reachability probes.

	prb := prober.New(prober.Config{
		Timeout:     cfg.probeTimeout,
		TCPPort:     cfg.probeTCPPort,
		DisableICMP: cfg.noICMP,
	}, log)

	reg := registry.New(prb, log)
	reg.Load(cfg.servers.Map())

	// Outbound HTTP client shared by dispatches and peer imports. http2 is enabled for task
	// servers that can speak it; plain HTTP/1 targets are unaffected.

	client := &http.Client{Timeout: cfg.requestTimeout}
	tr := &http.Transport{MaxConnsPerHost: cfg.maxWorkers}
	if err := http2.ConfigureTransport(tr); err != nil {
		return fatal(err)
	}
	client.Transport = tr

	if len(cfg.importURL) > 0 {
		if err := reg.LoadFromURL(cfg.importURL, client); err != nil {
			return fatal("--import-url", err)
		}
	}

	eng, err := engine.New(engine.Config{
		Algorithm:          algorithm,
		MaxWorkers:         cfg.maxWorkers,
		ConsiderThroughput: cfg.considerThroughput,
		ThroughputPeriod:   cfg.throughputPeriod,
		ExpectedThroughput: cfg.expectedThroughput,
	}, reg, prb, client, log)
	if err != nil {
		return fatal(err)
	}
	reporters = append(reporters, eng)

	var limiter *rate.Limiter
	if cfg.requestRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.requestRate), cfg.requestRate)
	}

	if cfg.listenAddresses.NArg() == 0 { // Use wildcard if none supplied
		cfg.listenAddresses.Set("")
	}

	// Start CPU profiling now that most error checking is complete

	if len(cfg.cpuprofile) > 0 {
		f, err := os.Create(cfg.cpuprofile)
		if err != nil {
			return fatal(err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	// Memory profile is triggered at the end of the program but we open the output file and
	// hold it open prior to any possible chroot/setuid/setgid action.

	var memProfileFile *os.File
	if len(cfg.memprofile) > 0 {
		memProfileFile, err = os.Create(cfg.memprofile)
		if err != nil {
			return fatal(err)
		}
		defer memProfileFile.Close()
	}

	if cfg.verbose {
		fmt.Fprintln(stdout, consts.GatewayProgramName, consts.Version,
			"Starting:", cfg.servers.String())
	}

	errorChannel := make(chan error, cfg.listenAddresses.NArg())
	wg := &sync.WaitGroup{} // Wait on all servers

	for _, addr := range cfg.listenAddresses.Args() {
		ip := net.ParseIP(addr) // We have to wrap unadorned ipv6 addresses so we can append port
		if ip != nil && ip.To4() == nil {
			addr = "[" + addr + "]" // It's naked, so wrap it
		}

		// If addr is neither v4addr:port, [v6addr]:port or host:port, append the default port
		if !(strings.LastIndex(addr, ":") > strings.LastIndex(addr, "]")) {
			addr = fmt.Sprintf("%s:%s", addr, consts.HTTPDefaultPort)
		}

		s := &server{
			listenAddress: addr,
			eng:           eng,
			reg:           reg,
			taskPort:      cfg.taskPort,
			limiter:       limiter,
			tracker:       conntrack.New(addr),
			log:           log,
		}
		s.start(errorChannel, wg)
		if cfg.verbose {
			fmt.Fprintln(stdout, "Starting", s.Name())
		}

		reporters = append(reporters, s, s.tracker)
		servers = append(servers, s)
	}

	// Constrain the process via setuid/setgid/chroot. This is a no-op call if all parameters
	// are empty strings. The listen sockets are already bound so privileges are safe to shed.

	err = osutil.Constrain(cfg.setuidName, cfg.setgidName, cfg.chrootDir)
	if err != nil {
		return fatal(err)
	}
	if cfg.verbose {
		fmt.Fprintf(stdout, "Constraints: %s\n", osutil.ConstraintReport())
	}

	log.Info("Gateway running",
		zap.String("version", consts.Version),
		zap.Int("servers", reg.Len()),
		zap.String("algorithm", string(algorithm)))

	// Loop forever giving periodic status reports and checking for a termination event.

	setMainStarted() // Tell testers that we're up and running
	nextStatusIn := nextInterval(time.Now(), cfg.statusInterval)

Running:
	for {
		select {
		case s := <-stopChannel:
			if osutil.IsSignalUSR1(s) {
				statusReport("User1", false, reporters)
				break
			}
			if cfg.verbose {
				fmt.Fprintln(stdout, "\nSignal", s)
			}
			break Running // All signals bar USR1 cause loop exit

		case err := <-errorChannel:
			return fatal(err) // No cleanup if we got a server startup error

		case <-time.After(nextStatusIn):
			if cfg.verbose {
				statusReport("Status", true, reporters)
			}
			nextStatusIn = nextInterval(time.Now(), cfg.statusInterval)
		}
	}

	for _, s := range servers {
		s.stop()
	}

	setMainStopped()
	wg.Wait() // Wait for all servers to shut down

	if cfg.verbose {
		statusReport("Status", true, reporters) // One last report prior to exiting
		fmt.Fprintln(stdout, consts.GatewayProgramName, consts.Version, "Exiting after", uptime())
	}

	// Memory profile is written at the end of the program

	if memProfileFile != nil {
		runtime.GC() // get up-to-date statistics
		err := pprof.WriteHeapProfile(memProfileFile)
		if err != nil {
			return fatal(err)
		}
	}

	return 0
}

// mergeFileConfig applies YAML values for every setting the command line left untouched.
// Server entries merge by name with -s flags winning on a clash.
func mergeFileConfig(fileCfg *yamlconfig.Config, setFlags map[string]bool) {
	if len(fileCfg.Gateway.ListenAddress) > 0 && cfg.listenAddresses.NArg() == 0 {
		cfg.listenAddresses.Set(fileCfg.Gateway.ListenAddress)
	}
	if len(fileCfg.Gateway.LogLevel) > 0 && !setFlags["log-level"] {
		cfg.logLevel = fileCfg.Gateway.LogLevel
	}
	if fileCfg.Gateway.RequestRate > 0 && !setFlags["request-rate"] {
		cfg.requestRate = fileCfg.Gateway.RequestRate
	}

	if len(fileCfg.Decision.Algorithm) > 0 && !setFlags["algorithm"] {
		cfg.algorithm = fileCfg.Decision.Algorithm
	}
	if fileCfg.Decision.MaxWorkers > 0 && !setFlags["w"] {
		cfg.maxWorkers = fileCfg.Decision.MaxWorkers
	}
	if fileCfg.Decision.ConsiderThroughput && !setFlags["consider-throughput"] {
		cfg.considerThroughput = true
	}
	if fileCfg.Decision.ThroughputPeriod > 0 && !setFlags["throughput-period"] {
		cfg.throughputPeriod = fileCfg.Decision.ThroughputPeriod
	}
	if fileCfg.Decision.ExpectedThroughput > 0 && !setFlags["expected-throughput"] {
		cfg.expectedThroughput = fileCfg.Decision.ExpectedThroughput
	}

	if fileCfg.TaskPort > 0 && !setFlags["p"] {
		cfg.taskPort = fileCfg.TaskPort
	}

	flagServers := cfg.servers.Map()
	for name, addr := range fileCfg.Servers {
		if _, clash := flagServers[name]; !clash {
			cfg.servers.Set(name + "=" + addr)
		}
	}
}

// nextInterval calculates the duration to the modulo interval next time. If now is 00:01:17 and
// interval is 30s then return is 13s which is the duration to the next modulo of 00:01:30.
func nextInterval(now time.Time, interval time.Duration) time.Duration {
	return now.Truncate(interval).Add(interval).Sub(now)
}

// uptime calculates how long this server has been running and returns a print-friendly and
// granularity-appropriate representation of that duration.
func uptime() string {
	return time.Since(startTime).Truncate(time.Second).String()
}

// statusReport prints stats about the gateway and all known reporters
func statusReport(what string, resetCounters bool, reporters []reporter.Reporter) {
	fmt.Fprintln(stdout, "Status Up:", consts.GatewayProgramName, consts.Version, uptime())
	for _, r := range reporters {
		reps := strings.Split(r.Report(resetCounters), "\n")
		for _, s := range reps {
			if len(s) > 0 {
				fmt.Fprintf(stdout, "%s %s: %s\n", what, r.Name(), s)
			}
		}
	}
}
