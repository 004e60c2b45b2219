package main

import (
	"fmt"
	"io"
	"text/template"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.ProbeProgramName}} -- a server reachability probe

SYNOPSIS
          {{.ProbeProgramName}} [options] address...

DESCRIPTION
          {{.ProbeProgramName}} probes each address exactly as {{.GatewayProgramName}} does when
          deciding registry admission and minimum-latency selection: an ICMP echo where raw
          sockets permit, otherwise a TCP connect to the fallback port. Each probe prints the
          address and the measured round trip in milliseconds, or "unavailable".

          The primary purpose of {{.ProbeProgramName}} is to diagnose why a gateway did or did not
          admit a server. It purposely uses the same packages as {{.GatewayProgramName}}.

EXAMPLES
            $ {{.ProbeProgramName}} 192.168.1.20 192.168.1.21

            $ {{.ProbeProgramName}} --no-icmp --probe-tcp-port {{.TaskDefaultPort}} 192.168.1.20

OPTIONS
          [-h] [-r repeat count] [--parallel]

          [--probe-timeout duration] [--probe-tcp-port port] [--no-icmp]

          [--log-level level]

          [--version]

`

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
// arguments.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.StringVar(&cfg.logLevel, "log-level", "error", "Minimum zap log `level`")
	flagSet.BoolVar(&cfg.parallel, "parallel", false, "Issue all probes in parallel")
	flagSet.IntVar(&cfg.repeatCount, "r", 1, "Probe `repeat` count per address")
	flagSet.DurationVar(&cfg.probeTimeout, "probe-timeout", consts.ProbeTimeout,
		"Upper bound `duration` for one probe")
	flagSet.StringVar(&cfg.probeTCPPort, "probe-tcp-port", consts.ProbeTCPPort,
		"`port` dialled by the TCP fallback probe")
	flagSet.BoolVar(&cfg.noICMP, "no-icmp", false, "Probe with TCP connects only, never ICMP echo")
	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
}
