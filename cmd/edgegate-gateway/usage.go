package main

import (
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/edgegate/edgegate/internal/selector"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.GatewayProgramName}} -- a task-offloading gateway for edge and fog deployments

SYNOPSIS
          {{.GatewayProgramName}} [options] [-s name=address]...

DESCRIPTION
          {{.GatewayProgramName}} accepts task requests over HTTP and decides, per request, which
          member of its server registry should execute the task: the local device or one of its
          peers. The chosen server is called with a plain HTTP GET and the result is relayed back
          to the original client.

          The registry is seeded from repeated -s name=address options, a YAML file (-f) or
          imported from a peer gateway (--import-url). Registered servers are admitted only after
          a reachability probe; probes prefer ICMP echo and fall back to a TCP connect when raw
          sockets are unavailable.

          Which server wins is governed by the selection policy (--algorithm). "random" picks
          uniformly from the registry; "minimum-latency" probes every member concurrently and
          picks the fastest responder. Independently of the policy, --consider-throughput enables
          an admission gate: while the local device has executed no more than the expected number
          of tasks within the sliding period it keeps new work, and beyond that new work is shed
          to remote members.

          Task execution is asynchronous on a bounded worker pool so a burst of inbound requests
          never stalls the accept loop. The pool ceiling is set with -w.

INVOCATION
          A gateway fronting its own device plus two peers:

              $ {{.GatewayProgramName}} -v -s LocalDevice=127.0.0.1 \
                        -s EdgeOne=192.168.1.20 -s EdgeTwo=192.168.1.21 \
                        --consider-throughput --algorithm minimum-latency

          Then offload work through it:

              $ curl http://127.0.0.1:{{.HTTPDefaultPort}}/square/12

          Registry membership can be changed while running via /addserver/{address} and
          /removeserver/{address}, inspected via /listservers, and exported to peer gateways via
          /{{.ServerListPath}}. Prometheus metrics are served on /metrics.

OPTIONS
          [-hv] [-f config.yaml]
          [-A listen Address[:port] ...]

          [-s name=address ...] [--import-url URL]
          [-p task-port] [-i status-report-interval] [-t request timeout]

          [--algorithm name] [-w max-workers]              **decision
          [--consider-throughput]                             controls**
          [--throughput-period duration]
          [--expected-throughput count]

          [--probe-timeout duration] [--probe-tcp-port port] [--no-icmp]

          [--log-level level] [--request-rate per-second]

          [--gops] [--cpu-profile file] [--mem-profile file]

          [--user userName] [--group groupName] [--chroot directory]

          [--version]

`

//////////////////////////////////////////////////////////////////////

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err) // We've messed up our template
	}
	err = tmpl.Execute(out, consts)
	if err != nil {
		panic(err) // We've messed up our template
	}
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.verbose, "v", false, "Verbose status and stats - otherwise only errors are output")

	flagSet.StringVar(&cfg.configFile, "f", "", "`path` to a YAML config file merged under the flags")
	flagSet.Var(&cfg.listenAddresses, "A",
		"Listen `address` for inbound API requests (default :"+consts.HTTPDefaultPort+")")
	flagSet.StringVar(&cfg.logLevel, "log-level", "info", "Minimum zap log `level`")

	flagSet.Var(&cfg.servers, "s", "Registry seed `name=address` (can be repeated)")
	flagSet.StringVar(&cfg.importURL, "import-url", "", "Peer gateway `URL` to import servers from")
	flagSet.IntVar(&cfg.taskPort, "p", consts.TaskDefaultPort, "Downstream task server `port`")
	flagSet.IntVar(&cfg.requestRate, "request-rate", 0,
		"Maximum inbound `requests` per second (0 = unlimited)")
	flagSet.DurationVar(&cfg.statusInterval, "i", time.Minute*15, "Periodic Status Report `interval`")
	flagSet.DurationVar(&cfg.requestTimeout, "t", time.Second*15, "Outbound dispatch `timeout`")

	// Decision options

	flagSet.StringVar(&cfg.algorithm, "algorithm", string(selector.RandomAlgorithm),
		"Selection `policy`: random or minimum-latency")
	flagSet.IntVar(&cfg.maxWorkers, "w", consts.DefaultMaxWorkers, "Maximum `concurrent` dispatch workers")
	flagSet.BoolVar(&cfg.considerThroughput, "consider-throughput", false,
		"Shed work to remote servers when local throughput exceeds expectation")
	flagSet.DurationVar(&cfg.throughputPeriod, "throughput-period", consts.DefaultThroughputPeriod,
		"Sliding `window` over which local throughput is counted")
	flagSet.IntVar(&cfg.expectedThroughput, "expected-throughput", consts.DefaultExpectedThroughput,
		"Local dispatches per window `count` before shedding starts")

	// Probe options

	flagSet.DurationVar(&cfg.probeTimeout, "probe-timeout", consts.ProbeTimeout,
		"Upper bound `duration` for one reachability probe")
	flagSet.StringVar(&cfg.probeTCPPort, "probe-tcp-port", consts.ProbeTCPPort,
		"`port` dialled by the TCP fallback probe")
	flagSet.BoolVar(&cfg.noICMP, "no-icmp", false, "Probe with TCP connects only, never ICMP echo")

	// gops go pprof settings

	flagSet.BoolVar(&cfg.gops, "gops", false, "Start github.com/google/gops agent")
	flagSet.StringVar(&cfg.cpuprofile, "cpu-profile", "", "write cpu profile to `file`")
	flagSet.StringVar(&cfg.memprofile, "mem-profile", "", "write mem profile to `file`")

	// Process Constraint parameters

	flagSet.StringVar(&cfg.setuidName, "user", "", "setuid `username` to constrain process after start-up")
	flagSet.StringVar(&cfg.setgidName, "group", "", "setgid `groupname` to constrain process after start-up")
	flagSet.StringVar(&cfg.chrootDir, "chroot", "", "chroot `directory` to constrain process after start-up")

	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
}
