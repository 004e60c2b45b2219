// Package flagutil provides additional support around the flag package for options that can occur
// multiple times on the command line.
//
// StringValue collects plain repeated strings:
//
//	var probes flagutil.StringValue
//	flagSet.Var(&probes, "probe", "Address to probe (can be repeated)")
//	addrs := probes.Args()
//
// NamedAddrValue collects repeated name=address pairs into a map, as used for seeding the server
// registry:
//
//	var servers flagutil.NamedAddrValue
//	flagSet.Var(&servers, "s", "Server as name=address (can be repeated)")
//	inventory := servers.Map()
package flagutil

import (
	"fmt"
	"sort"
	"strings"
)

// StringValue is the type provided to flag.Var()
type StringValue struct {
	strings []string
}

// Set appends a string to the internal array - it is called by the flag package for each occurrence
// of the corresponding option on the command line. Part of the flag.Value interface.
func (t *StringValue) Set(s string) error {
	t.strings = append(t.strings, s)

	return nil
}

// String returns a space separated string of all the arguments provided by Set. Part of the
// flag.Value interface.
func (t *StringValue) String() string {
	return strings.Join(t.strings, " ")
}

// Args returns a copy of the array of strings returned by Set. You can safely modify this
// array without fear of changing the internal data.
func (t *StringValue) Args() []string {
	return append([]string{}, t.strings...)
}

// NArg returns the number of strings created by Set
func (t *StringValue) NArg() int {
	return len(t.strings)
}

// NamedAddrValue is the type provided to flag.Var() for repeated name=address options. A repeated
// name silently replaces the earlier address, matching normal last-one-wins flag behaviour.
type NamedAddrValue struct {
	addrs map[string]string
}

// Set splits one name=address occurrence and stores it. Part of the flag.Value interface.
func (t *NamedAddrValue) Set(s string) error {
	name, addr, found := strings.Cut(s, "=")
	if !found || len(name) == 0 || len(addr) == 0 {
		return fmt.Errorf("expected name=address, got %q", s)
	}
	if t.addrs == nil {
		t.addrs = make(map[string]string)
	}
	t.addrs[name] = addr

	return nil
}

// String renders the collected pairs in name order. Part of the flag.Value interface.
func (t *NamedAddrValue) String() string {
	names := make([]string, 0, len(t.addrs))
	for name := range t.addrs {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+t.addrs[name])
	}

	return strings.Join(pairs, " ")
}

// Map returns a copy of the collected pairs. You can safely modify the returned map.
func (t *NamedAddrValue) Map() map[string]string {
	m := make(map[string]string, len(t.addrs))
	for name, addr := range t.addrs {
		m[name] = addr
	}

	return m
}

// NArg returns the number of distinct names created by Set
func (t *NamedAddrValue) NArg() int {
	return len(t.addrs)
}
