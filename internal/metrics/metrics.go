// Package metrics registers the Prometheus instruments shared by the edgegate packages. The
// gateway exposes them on /metrics; library code records through the helper functions so callers
// never touch label plumbing directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchesTotal counts completed dispatches by chosen server and outcome.
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgegate_dispatches_total",
			Help: "Total number of task dispatches by target server and outcome",
		},
		[]string{"server", "outcome"},
	)

	// DispatchDuration tracks the wall time of the outbound call in seconds.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgegate_dispatch_duration_seconds",
			Help:    "Duration of outbound task calls in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10},
		},
		[]string{"server"},
	)

	// SelectionFailuresTotal counts submissions that found no server to run on.
	SelectionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgegate_selection_failures_total",
			Help: "Total number of submissions for which no server could be chosen",
		},
	)

	// ProbesTotal counts reachability probes by outcome.
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgegate_probes_total",
			Help: "Total number of reachability probes by outcome",
		},
		[]string{"outcome"},
	)

	// LocalThroughput is the most recently computed count of local dispatches in the configured
	// period.
	LocalThroughput = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgegate_local_throughput",
			Help: "Locally executed dispatches within the configured throughput period",
		},
	)
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeUp    = "up"
	OutcomeDown  = "down"
)

// RecordDispatch notes one completed outbound call.
func RecordDispatch(server string, ok bool, seconds float64) {
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeError
	}
	DispatchesTotal.WithLabelValues(server, outcome).Inc()
	DispatchDuration.WithLabelValues(server).Observe(seconds)
}

// RecordProbe notes one reachability probe.
func RecordProbe(available bool) {
	outcome := OutcomeUp
	if !available {
		outcome = OutcomeDown
	}
	ProbesTotal.WithLabelValues(outcome).Inc()
}
