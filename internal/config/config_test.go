package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
gateway:
  listen_addr: ":5000"
  log_level: debug
  request_rate: 100

decision:
  algorithm: minimum-latency
  max_workers: 8
  consider_throughput: true
  throughput_period: 2s
  expected_throughput: 40

servers:
  LocalDevice: 127.0.0.1
  EdgeOne: 10.0.0.2

task_port: 18000
`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edgegate.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal("Unexpected error when setting up for test", err)
	}

	return path
}

func TestLoad(t *testing.T) {
	c, err := Load(writeFile(t, sample))
	if err != nil {
		t.Fatal("Expected the sample config to load", err)
	}

	if c.Gateway.ListenAddress != ":5000" || c.Gateway.LogLevel != "debug" || c.Gateway.RequestRate != 100 {
		t.Error("Gateway section mis-parsed", c.Gateway)
	}
	if c.Decision.Algorithm != "minimum-latency" || c.Decision.MaxWorkers != 8 {
		t.Error("Decision section mis-parsed", c.Decision)
	}
	if !c.Decision.ConsiderThroughput || c.Decision.ThroughputPeriod != 2*time.Second ||
		c.Decision.ExpectedThroughput != 40 {
		t.Error("Throughput settings mis-parsed", c.Decision)
	}
	if len(c.Servers) != 2 || c.Servers["EdgeOne"] != "10.0.0.2" {
		t.Error("Server inventory mis-parsed", c.Servers)
	}
	if c.TaskPort != 18000 {
		t.Error("Task port mis-parsed", c.TaskPort)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/no/such/edgegate.yaml"); err == nil {
		t.Error("Expected a missing config file to fail")
	}
}

func TestLoadMalformed(t *testing.T) {
	if _, err := Load(writeFile(t, "gateway: [not, a, map")); err == nil {
		t.Error("Expected malformed YAML to fail")
	}
}
