// Package metrics exposes Prometheus collectors for the execution plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ExecutionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowforge",
		Subsystem: "engine",
		Name:      "executions_started_total",
		Help:      "Flow executions started, by trigger type.",
	}, []string{"trigger"})

	ExecutionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowforge",
		Subsystem: "engine",
		Name:      "executions_finished_total",
		Help:      "Flow executions finished, by terminal status.",
	}, []string{"status"})

	ExecutionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flowforge",
		Subsystem: "engine",
		Name:      "execution_duration_seconds",
		Help:      "Wall-clock duration of finished executions.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	NodeRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowforge",
		Subsystem: "engine",
		Name:      "node_runs_total",
		Help:      "Node executions, by node type and outcome.",
	}, []string{"type", "outcome"})

	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowforge",
		Subsystem: "providers",
		Name:      "calls_total",
		Help:      "Outbound provider calls, by provider and outcome.",
	}, []string{"provider", "outcome"})

	VerificationProbes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowforge",
		Subsystem: "verification",
		Name:      "probes_total",
		Help:      "Integration verification probes, by resulting status.",
	}, []string{"status"})

	BusEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowforge",
		Subsystem: "bus",
		Name:      "events_total",
		Help:      "Events fanned out to subscribers, by kind.",
	}, []string{"kind"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
