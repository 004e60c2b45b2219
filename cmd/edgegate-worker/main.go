// execute offloaded tasks on behalf of an edgegate gateway
package main

import (
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"text/template"
	"time"

	"github.com/edgegate/edgegate/internal/constants"
	"github.com/edgegate/edgegate/internal/flagutil"
	"github.com/edgegate/edgegate/internal/logging"
	"github.com/edgegate/edgegate/internal/osutil"
	"github.com/edgegate/edgegate/internal/reporter"

	"github.com/google/gops/agent"
	"go.uber.org/zap"
)

const usageMessageTemplate = `
NAME
          {{.WorkerProgramName}} -- a task server for edgegate gateways

SYNOPSIS
          {{.WorkerProgramName}} [options]

DESCRIPTION
          {{.WorkerProgramName}} executes the tasks an edgegate gateway offloads: squaring numbers,
          synthetic busy-work and a minimal smart-contract manager endpoint. Every task arrives as
          a plain HTTP GET and answers with a plain text body, which is exactly the contract the
          gateway's dispatch engine assumes.

          Run one worker per device that should be offloadable, listening on the task port the
          gateways dispatch to (default {{.TaskDefaultPort}}).

OPTIONS
          [-hv] [-A listen Address[:port] ...] [-i status-report-interval]
          [--log-level level] [--gops]
          [--user userName] [--group groupName] [--chroot directory]
          [--version]

`

type config struct {
	gops    bool
	help    bool
	verbose bool
	version bool

	listenAddresses flagutil.StringValue
	logLevel        string
	statusInterval  time.Duration

	setuidName, setgidName, chrootDir string
}

// Program-wide variables
var (
	consts = constants.Get()
	cfg    *config

	stdout io.Writer
	stderr io.Writer

	startTime   = time.Now()
	stopChannel chan os.Signal
	flagSet     *flag.FlagSet

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
	fmt.Fprint(stderr, "Fatal: ", consts.WorkerProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

func stopMain() {
	stopChannel <- syscall.SIGINT
}

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
	mainMu.Lock()
	mainStarted = false
	mainStopped = false
	mainMu.Unlock()
	stopChannel = make(chan os.Signal, 4)
	osutil.SignalNotify(stopChannel)
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

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

func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.verbose, "v", false, "Verbose status and stats - otherwise only errors are output")
	flagSet.Var(&cfg.listenAddresses, "A",
		"Listen `address` for inbound task requests (default :"+fmt.Sprintf("%d", consts.TaskDefaultPort)+")")
	flagSet.StringVar(&cfg.logLevel, "log-level", "info", "Minimum zap log `level`")
	flagSet.DurationVar(&cfg.statusInterval, "i", time.Minute*15, "Periodic Status Report `interval`")
	flagSet.BoolVar(&cfg.gops, "gops", false, "Start github.com/google/gops agent")
	flagSet.StringVar(&cfg.setuidName, "user", "", "setuid `username` to constrain process after start-up")
	flagSet.StringVar(&cfg.setgidName, "group", "", "setgid `groupname` to constrain process after start-up")
	flagSet.StringVar(&cfg.chrootDir, "chroot", "", "chroot `directory` to constrain process after start-up")
	flagSet.BoolVar(&cfg.version, "version", false, "Print version and exit")

	return flagSet.Parse(args[1:])
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
		fmt.Fprintln(stdout, consts.WorkerProgramName, "Version:", consts.Version)
		return 0
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

	if cfg.listenAddresses.NArg() == 0 { // Use wildcard if none supplied
		cfg.listenAddresses.Set("")
	}

	var reporters []reporter.Reporter
	var servers []*server

	errorChannel := make(chan error, cfg.listenAddresses.NArg())
	wg := &sync.WaitGroup{}

	for _, addr := range cfg.listenAddresses.Args() {
		ip := net.ParseIP(addr)
		if ip != nil && ip.To4() == nil {
			addr = "[" + addr + "]"
		}
		if !(strings.LastIndex(addr, ":") > strings.LastIndex(addr, "]")) {
			addr = fmt.Sprintf("%s:%d", addr, consts.TaskDefaultPort)
		}

		s := newServer(addr, log)
		s.start(errorChannel, wg)
		if cfg.verbose {
			fmt.Fprintln(stdout, "Starting", s.Name())
		}
		reporters = append(reporters, s, s.tracker)
		servers = append(servers, s)
	}

	err = osutil.Constrain(cfg.setuidName, cfg.setgidName, cfg.chrootDir)
	if err != nil {
		return fatal(err)
	}

	log.Info("Worker running", zap.String("version", consts.Version))

	setMainStarted()
	nextStatusIn := nextInterval(time.Now(), cfg.statusInterval)

Running:
	for {
		select {
		case s := <-stopChannel:
			if osutil.IsSignalUSR1(s) {
				reporter.Log(log, false, reporters...)
				break
			}
			break Running

		case err := <-errorChannel:
			return fatal(err)

		case <-time.After(nextStatusIn):
			if cfg.verbose {
				reporter.Log(log, true, reporters...)
			}
			nextStatusIn = nextInterval(time.Now(), cfg.statusInterval)
		}
	}

	for _, s := range servers {
		s.stop()
	}

	setMainStopped()
	wg.Wait()

	if cfg.verbose {
		reporter.Log(log, true, reporters...)
		fmt.Fprintln(stdout, consts.WorkerProgramName, consts.Version, "Exiting after",
			time.Since(startTime).Truncate(time.Second).String())
	}

	return 0
}

// nextInterval calculates the duration to the modulo interval next time.
func nextInterval(now time.Time, interval time.Duration) time.Duration {
	return now.Truncate(interval).Add(interval).Sub(now)
}
