// Package metrics holds the Prometheus collectors for routing and dispatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	EventsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botmetrics",
			Name:      "events_routed_total",
			Help:      "Inbound events handled by the router, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	EventsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botmetrics",
			Name:      "events_recorded_total",
			Help:      "Canonical events persisted, by event type and provider.",
		},
		[]string{"event_type", "provider"},
	)

	JobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "botmetrics",
			Name:      "jobs_submitted_total",
			Help:      "Jobs submitted to the task queue, by job and result.",
		},
		[]string{"job", "result"},
	)

	IngestQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "botmetrics",
			Name:      "ingest_queue_depth",
			Help:      "Routed events waiting for a worker.",
		},
	)
)

// Outcomes for EventsRouted.
const (
	OutcomeRouted   = "routed"
	OutcomeNoTenant = "no_tenant"
	OutcomeNoop     = "noop"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Results for JobsSubmitted.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)

// Registry returns a registry holding the botmetrics collectors plus the
// Go runtime and process collectors.
func Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		EventsRouted,
		EventsRecorded,
		JobsSubmitted,
		IngestQueueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
