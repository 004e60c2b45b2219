// probe server reachability the same way an edgegate gateway does
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/edgegate/edgegate/internal/constants"
	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/prober"
	"github.com/edgegate/edgegate/internal/registry"
)

// Program-wide variables
var (
	consts = constants.Get()
	cfg    *config

	stdout io.Writer
	stderr io.Writer

	flagSet *flag.FlagSet
)

//////////////////////////////////////////////////////////////////////

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.ProbeProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

//////////////////////////////////////////////////////////////////////
// main is a wrapper for mainExecute() so tests can call mainExecute()
//////////////////////////////////////////////////////////////////////

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
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
		fmt.Fprintln(stdout, consts.ProbeProgramName, "Version:", consts.Version)
		return 0
	}

	if cfg.repeatCount < 1 {
		return fatal("Repeat count (-r) must be GE one, not", cfg.repeatCount)
	}
	if flagSet.NArg() < 1 {
		return fatal("Require at least one address on the command line. Consider -h")
	}

	log, err := logging.New(cfg.logLevel)
	if err != nil {
		return fatal("--log-level", err)
	}
	defer log.Sync()

	prb := prober.New(prober.Config{
		Timeout:     cfg.probeTimeout,
		TCPPort:     cfg.probeTCPPort,
		DisableICMP: cfg.noICMP,
	}, log)

	// Probe each address the requested number of times. Probes write to a chan so the parallel
	// mode can reap and print the outputs without interleaving.

	type target struct {
		address string
		out     chan string
		ok      chan bool
	}

	var targets []target
	for _, address := range flagSet.Args() {
		for rx := 0; rx < cfg.repeatCount; rx++ {
			targets = append(targets, target{address, make(chan string, 1), make(chan bool, 1)})
		}
	}

	run := func(tg target) {
		buf := &bytes.Buffer{}
		srv := registry.NewServer(consts.ProbeProgramName, tg.address)
		result := prb.Probe(srv)
		if result.Available {
			fmt.Fprintf(buf, "%s: %0.3fms\n", tg.address, result.Delay)
		} else {
			fmt.Fprintf(buf, "%s: unavailable\n", tg.address)
		}
		tg.out <- buf.String()
		tg.ok <- result.Available
	}

	if cfg.parallel {
		for _, tg := range targets {
			go run(tg)
		}
	}

	allAvailable := true
	for _, tg := range targets {
		if !cfg.parallel {
			run(tg)
		}
		fmt.Fprint(stdout, <-tg.out)
		if !<-tg.ok {
			allAvailable = false
		}
	}

	if !allAvailable {
		return 1
	}

	return 0
}
