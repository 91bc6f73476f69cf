// Package observability exposes the Prometheus metrics of the engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_fetch_requests_total",
			Help: "Viewport fetch requests by outcome.",
		},
		[]string{"outcome"},
	)

	remoteLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_index_latency_seconds",
			Help:    "Latency of remote token index queries.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"source"},
	)

	coldOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coldstore_op_duration_seconds",
			Help:    "Duration of cold store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op", "status"},
	)

	tokensEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokens_evicted_total",
			Help: "Tokens evicted from the hot store.",
		},
	)

	cleanupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleanup_runs_total",
			Help: "Eviction passes by outcome.",
		},
		[]string{"outcome"},
	)

	hotStoreTokens = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hot_store_tokens",
			Help: "Tokens currently held in the hot store.",
		},
	)

	coldPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coldstore_pruned_total",
			Help: "Cold store records deleted by age-based pruning.",
		},
	)

	invalidationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Token invalidation events consumed, by op and status.",
		},
		[]string{"op", "status"},
	)
)

func ObserveFetch(outcome string) {
	fetchRequestsTotal.WithLabelValues(outcome).Inc()
}

func ObserveRemoteLatency(source string, seconds float64) {
	remoteLatencySeconds.WithLabelValues(source).Observe(seconds)
}

func ObserveColdOp(op string, err error, seconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	coldOpSeconds.WithLabelValues(op, status).Observe(seconds)
}

func AddEvicted(n int) {
	if n > 0 {
		tokensEvictedTotal.Add(float64(n))
	}
}

func ObserveCleanup(outcome string) {
	cleanupRunsTotal.WithLabelValues(outcome).Inc()
}

func SetHotStoreTokens(n int) {
	hotStoreTokens.Set(float64(n))
}

func AddColdPruned(n int) {
	if n > 0 {
		coldPrunedTotal.Add(float64(n))
	}
}

func ObserveInvalidation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	invalidationEventsTotal.WithLabelValues(op, status).Inc()
}
