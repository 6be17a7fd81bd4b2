// Package metrics defines the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "aem"

var (
	// DeepLinksTotal counts ingested deep links by result (stored, test, invalid).
	DeepLinksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "deeplinks_total",
		Help:      "Deep links handled by the reporter",
	}, []string{"result"})

	// EventsTotal counts recorded events by outcome (attributed, updated, ignored).
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "events_total",
		Help:      "In-app events recorded by the reporter",
	}, []string{"outcome"})

	// RefreshTotal counts configuration fetches by result (ok, error).
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "config_refresh_total",
		Help:      "Configuration refresh requests sent to the graph API",
	}, []string{"result"})

	// AggregationBatches counts aggregation submissions by result (ok, error).
	AggregationBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "aggregation_batches_total",
		Help:      "Aggregation batches submitted",
	}, []string{"result"})

	// AggregationReports counts individual conversion reports in successful batches.
	AggregationReports = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "aggregation_reports_total",
		Help:      "Conversion reports delivered in successful batches",
	})

	// Invocations is the number of invocations currently held.
	Invocations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "invocations",
		Help:      "Invocations currently held by the reporter",
	})

	// Configurations is the number of configurations currently held.
	Configurations = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "configurations",
		Help:      "Configurations currently held by the reporter",
	})

	// PersistErrors counts failed writes of reporter state.
	PersistErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reporter",
		Name:      "persist_errors_total",
		Help:      "Failed writes of reporter state to the durable store",
	})

	// HTTPRequestDuration measures local API latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle local API requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// HTTPRequestsTotal counts local API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total local API requests",
	}, []string{"method", "path", "code"})
)
