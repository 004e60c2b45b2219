package main

import (
	"time"

	"github.com/edgegate/edgegate/internal/flagutil"
)

type config struct {
	gops    bool
	help    bool
	verbose bool
	version bool

	configFile      string               // Optional YAML file merged under the flags
	listenAddresses flagutil.StringValue // Listen addresses for inbound API requests
	logLevel        string

	servers        flagutil.NamedAddrValue // Registry seed as name=address pairs
	importURL      string                  // Peer gateway URL to import further servers from
	taskPort       int                     // Port the task servers listen on
	requestRate    int                     // Inbound requests per second (0 = unlimited)
	statusInterval time.Duration
	requestTimeout time.Duration // Outbound dispatch timeout

	algorithm          string // Selection policy name
	maxWorkers         int    // Dispatch pool ceiling
	considerThroughput bool   // Enable the local-vs-remote admission gate
	throughputPeriod   time.Duration
	expectedThroughput int

	probeTimeout time.Duration // Reachability probe settings
	probeTCPPort string
	noICMP       bool // Skip ICMP and probe with TCP connects only

	cpuprofile, memprofile string

	setuidName, setgidName, chrootDir string // Process constraint settings
}
