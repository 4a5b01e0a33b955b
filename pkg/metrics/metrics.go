// Package metrics exposes the Prometheus registry the other packages register
// into. Metrics are declared with promauto next to the code that updates them;
// this package only serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer used by promauto in every package.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back what Registry holds.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics reference
//
// Requests (pkg/client):
//   - pokeapi_requests_total{status} (Counter)
//   - pokeapi_request_duration_seconds{source} (Histogram): source is "cache" or "api"
//   - pokeapi_errors_total{class} (Counter)
//   - pokeapi_circuit_breaker_state (Gauge): 0 closed, 1 half-open, 2 open
//
// Cache (pkg/cache):
//   - pokeapi_cache_hits_total, pokeapi_cache_misses_total (Counter)
//   - pokeapi_cache_stored_bytes_total (Counter)
//   - pokeapi_cache_errors_total{operation} (Counter)
//
// Pacing (pkg/ratelimit):
//   - pokeapi_rate_limit_remaining (Gauge): -1 until the API reports a value
//   - pokeapi_rate_limit_pauses_total (Counter)
//   - pokeapi_rate_limit_wait_seconds (Histogram)
//
// Retrieval (pkg/retrieval):
//   - pokeapi_retrieval_in_flight (Gauge)
//   - pokeapi_retrieval_results_total{outcome} (Counter)
//   - pokeapi_retrieval_duration_seconds (Histogram)
//   - pokeapi_retries_total{error_class}, pokeapi_retry_exhausted_total{error_class} (Counter)
//   - pokeapi_retry_backoff_seconds{error_class} (Histogram)
//
// Pipeline (pkg/pipeline):
//   - pokestats_runs_total{result} (Counter)
//   - pokestats_last_run_entities (Gauge)
//
// Lookup (pkg/lookup):
//   - pokestats_lookups_total{outcome} (Counter)
//
// Example queries:
//
//	# Cache hit rate
//	sum(rate(pokeapi_cache_hits_total[5m])) /
//	(sum(rate(pokeapi_cache_hits_total[5m])) + sum(rate(pokeapi_cache_misses_total[5m])))
//
//	# Retry pressure by class
//	sum by (error_class) (rate(pokeapi_retries_total[5m]))
//
//	# P95 API latency
//	histogram_quantile(0.95, rate(pokeapi_request_duration_seconds_bucket{source="api"}[5m]))
