/*
Package taskpath builds the relative URL paths understood by the downstream task servers. A task
is nothing more than a path appended to "http://address:port/", so these helpers are the one place
that knows the path grammar; everything else passes the resulting strings around opaquely.
*/
package taskpath

import (
	"fmt"
	"net/url"

	"github.com/edgegate/edgegate/internal/constants"
)

// Hello is the trivial liveness task served at the root path.
func Hello() string {
	return ""
}

// Square asks the task server to square a number.
func Square(n int) string {
	return fmt.Sprintf("square/%d", n)
}

// Offload asks the task server to run its synthetic busy-work task on a number.
func Offload(n int) string {
	return fmt.Sprintf("offloading/%d", n)
}

// ServerList asks a peer gateway for its current server address list.
func ServerList() string {
	return constants.Get().ServerListPath
}

// ContractPing checks that the smart-contract engine behind a task server is answering.
func ContractPing() string {
	return constants.Get().ContractPrefix + "SCManager?action=ping"
}

// ContractList asks the smart-contract engine for the contracts it has loaded.
func ContractList() string {
	return constants.Get().ContractPrefix + "SCManager?action=listContracts"
}

// ContractExecute invokes one function of a named contract. The argument is query-escaped as it
// commonly carries JSON.
func ContractExecute(contract, function, arg string) string {
	v := url.Values{}
	v.Set("action", "executeContract")
	v.Set("contractID", contract)
	v.Set("operation", function)
	if len(arg) > 0 {
		v.Set("arg", arg)
	}

	return constants.Get().ContractPrefix + "SCManager?" + v.Encode()
}
