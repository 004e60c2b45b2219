/*
Package constants provides common values used across all edgegate packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other modules when they call Get().

Typically usage:

    consts := constants.Get()
    fmt.Println("I am", consts.GatewayProgramName)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

import (
	"time"
)

// Constants contains the system-wide constants
type Constants struct {
	GatewayProgramName string // Package related constants
	WorkerProgramName  string
	ProbeProgramName   string
	Version            string
	PackageName        string
	PackageURL         string

	UserAgentHeader string // Place in every outbound request
	ContentTypeJSON string
	HTTPDefaultPort string // Gateway listen port if none given
	TaskDefaultPort int    // Downstream task port if none given
	ServerListPath  string // Peer route that returns the address list
	ContractPrefix  string // URL prefix of the smart-contract engine

	LocalServerName  string // Registry name given to the loopback entry
	LoopbackAddress  string // The address that marks local execution
	AddedServerName  string // Registry name given to addresses learned at runtime
	ChosenServerName string // Registry name given to explicit submission targets

	DefaultMaxWorkers         int           // Dispatch pool ceiling
	DefaultThroughputPeriod   time.Duration // Window over which local throughput is counted
	DefaultExpectedThroughput int           // Local dispatches per period before shedding

	ProbeTimeout    time.Duration // Upper bound on a single reachability probe
	ProbeTCPPort    string        // Port dialled by the TCP fallback probe
	ProbeHistoryMax int           // Per-server probe log cap
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		GatewayProgramName: "edgegate-gateway",
		WorkerProgramName:  "edgegate-worker",
		ProbeProgramName:   "edgegate-probe",
		Version:            "v0.1.0",
		PackageName:        "edgegate",
		PackageURL:         "https://github.com/edgegate/edgegate",

		UserAgentHeader: "User-Agent",
		ContentTypeJSON: "application/json",
		HTTPDefaultPort: "5000",
		TaskDefaultPort: 5000,
		ServerListPath:  "getserverlists",
		ContractPrefix:  "SCIDE/",

		LocalServerName:  "LocalDevice",
		LoopbackAddress:  "127.0.0.1",
		AddedServerName:  "AddedAtRuntime",
		ChosenServerName: "UserSpecified",

		DefaultMaxWorkers:         20,
		DefaultThroughputPeriod:   time.Second,
		DefaultExpectedThroughput: 25,

		ProbeTimeout:    time.Second * 3,
		ProbeTCPPort:    "80",
		ProbeHistoryMax: 1024,
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the Constant struct. Return by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
