// Package metrics provides the Prometheus registry and HTTP exposition for the
// gallery warmer. Metrics are defined in their owning packages (cache, quota,
// flickr, fetcher, queue, pagination, warmer) via promauto so each package
// stays self-contained; this package documents them and serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all package metrics are attached to.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics HTTP handler for Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache (pkg/cache):
//   - gallery_cache_hits_total{layer} (Counter): hits by layer ("memo", "backend")
//   - gallery_cache_misses_total (Counter): misses after both layers
//   - gallery_cache_negative_hits_total (Counter): hits on not-found entries
//   - gallery_cache_errors_total{operation} (Counter): backend failures
//   - gallery_cache_clears_total (Counter): global version bumps
//
// Quota (pkg/quota):
//   - gallery_quota_count (Gauge): calls made in the current hour window
//   - gallery_quota_calls_total (Counter): dispatched upstream calls
//   - gallery_quota_blocked_total (Counter): calls refused at the cap
//
// Upstream (pkg/flickr):
//   - gallery_flickr_requests_total{method, status} (Counter)
//   - gallery_flickr_request_duration_seconds{method} (Histogram)
//   - gallery_flickr_errors_total{class} (Counter)
//   - gallery_flickr_retries_total{error_class} (Counter)
//   - gallery_flickr_retry_exhausted_total{error_class} (Counter)
//   - gallery_flickr_breaker_state (Gauge): 0 closed, 1 half-open, 2 open
//
// Fetcher (pkg/fetcher):
//   - gallery_fetch_outcomes_total{kind, outcome} (Counter):
//     outcome is found, not_found, rate_limited, cached, negative_cached, backoff
//
// Queue (pkg/queue):
//   - gallery_queue_results_total{job_type, result} (Counter)
//
// Pagination (pkg/pagination):
//   - gallery_aggregate_outcomes_total{kind, state} (Counter)
//   - gallery_aggregate_pages_total{kind} (Counter)
//
// Warmer (pkg/warmer):
//   - gallery_warmer_cycles_total (Counter)
//   - gallery_warmer_jobs_total{job_type, result} (Counter)
//   - gallery_warmer_cycle_duration_seconds (Histogram)
//   - gallery_warmer_next_run_timestamp_seconds (Gauge)
//
// Example Prometheus Queries:
//
//   # Share of the hourly budget in use
//   gallery_quota_count / 3550
//
//   # Cache hit rate
//   sum(rate(gallery_cache_hits_total[5m])) /
//   (sum(rate(gallery_cache_hits_total[5m])) + rate(gallery_cache_misses_total[5m]))
//
//   # Rate-limited fetches
//   sum by (kind) (rate(gallery_fetch_outcomes_total{outcome="rate_limited"}[15m]))
