// Package metrics provides Prometheus instrumentation for the resilience
// daemon. All metric collectors are registered via the Init function and
// exposed through the Handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BreakerStateChanges counts circuit breaker transitions by breaker and edge.
	BreakerStateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_breaker_state_changes_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)

	// BreakerState tracks the current state per breaker
	// (0=closed, 1=open, 2=half-open).
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resilience_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker"},
	)

	// BreakerRejections counts calls rejected by an open breaker without
	// reaching the guarded operation.
	BreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_breaker_rejections_total",
			Help: "Total calls rejected while the breaker was open",
		},
		[]string{"breaker"},
	)

	// BreakerCallDuration observes guarded call latency by breaker and outcome.
	BreakerCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "resilience_breaker_call_duration_seconds",
			Help:    "Guarded call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"breaker", "outcome"},
	)

	// RateLimitHits counts rate limit rejections on the ops API.
	RateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resilience_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
	)

	// AuthFailures counts admin API authentication failures by reason.
	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_auth_failures_total",
			Help: "Total authentication failures",
		},
		[]string{"reason"},
	)

	// UpstreamFetches counts decision service fetches by upstream and outcome.
	UpstreamFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resilience_upstream_fetches_total",
			Help: "Total upstream decision service fetches",
		},
		[]string{"upstream", "outcome"},
	)
)

// Init registers all metric collectors with the default Prometheus registry.
// Must be called once at startup before handling requests.
func Init() {
	prometheus.MustRegister(
		BreakerStateChanges,
		BreakerState,
		BreakerRejections,
		BreakerCallDuration,
		RateLimitHits,
		AuthFailures,
		UpstreamFetches,
	)
}

// Handler returns an http.Handler that serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
