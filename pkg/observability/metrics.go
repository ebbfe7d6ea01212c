// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the gatewarden admission pipeline.
package observability

import "github.com/prometheus/client_golang/prometheus"

// AdmissionBuckets defines histogram buckets suited for admission-path
// latencies, ranging from 1ms to 10s. The pipeline itself is cheap; the
// tail covers slow policy lookups and store round trips.
var AdmissionBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and tenant.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "tenant"},
	)

	// RequestDuration records HTTP request duration in seconds by method and tenant.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gatewarden_request_duration_seconds",
			Help:    "Request duration",
			Buckets: AdmissionBuckets,
		},
		[]string{"method", "tenant"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter,
	// by tenant and route group.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"tenant", "route_group"},
	)

	// RateLimitDegradedTotal counts admissions decided while the shared
	// store was unreachable.
	RateLimitDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gatewarden_ratelimit_degraded_total",
			Help: "Admissions decided without the shared store",
		},
	)

	// AuthFailuresTotal counts denied authentication attempts by strategy.
	AuthFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_auth_failures_total",
			Help: "Denied authentication attempts",
		},
		[]string{"strategy"},
	)

	// SessionsActive tracks sessions created minus sessions destroyed.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gatewarden_sessions_active",
			Help: "Approximate live sessions",
		},
	)

	// StoreErrorsTotal counts shared-store failures by key namespace
	// ("rl", "session", "revoked_token").
	StoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_store_errors_total",
			Help: "Shared store errors",
		},
		[]string{"namespace"},
	)

	// PolicyLookupsTotal counts tenant policy fetches by kind and outcome.
	PolicyLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatewarden_policy_lookups_total",
			Help: "Tenant policy lookups",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		RateLimitRejectedTotal,
		RateLimitDegradedTotal,
		AuthFailuresTotal,
		SessionsActive,
		StoreErrorsTotal,
		PolicyLookupsTotal,
	)
}
