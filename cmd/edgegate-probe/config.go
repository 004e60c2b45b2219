package main

import (
	"time"
)

type config struct {
	help    bool
	version bool

	logLevel    string
	parallel    bool
	repeatCount int

	probeTimeout time.Duration
	probeTCPPort string
	noICMP       bool
}
