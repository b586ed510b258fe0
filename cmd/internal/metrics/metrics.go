// Package metrics exposes Prometheus instrumentation for the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AuthRequests counts protocol operations by name and outcome
	// ("ok", "denied", "invalid", "error").
	AuthRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "till_auth_requests_total",
		Help: "Authentication operations by outcome.",
	}, []string{"op", "outcome"})

	// RevokedPruned counts revocation records removed by the sweeper.
	RevokedPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "till_revoked_tokens_pruned_total",
		Help: "Expired revocation records removed by the background sweeper.",
	})

	// HTTPDuration observes request latency per route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "till_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
