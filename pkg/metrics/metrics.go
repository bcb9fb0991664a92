// Package metrics provides the Prometheus registry used by the gallery.
// All metrics are defined in their respective packages (cache, fetcher,
// pagination, client, ratelimit, gallery) to keep packages independent.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package's promauto collectors use.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler exposing Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - gallery_cache_hits_total (Counter): Cache lookups that found an image
//   - gallery_cache_misses_total (Counter): Cache lookups that found nothing
//   - gallery_cache_evictions_total{reason} (Counter): Evictions by reason (capacity, cost)
//   - gallery_cache_items{cache} (Gauge): Current number of cached images per cache
//   - gallery_cache_cost_bytes{cache} (Gauge): Current summed cost (width*height*4)
//
// Image Metrics (pkg/fetcher):
//   - gallery_image_loads_total{result} (Counter): Loads by result (hit, fetched, failed, shared)
//   - gallery_image_fetch_duration_seconds (Histogram): Image GET duration
//
// Pagination Metrics (pkg/pagination):
//   - gallery_page_fetches_total{result} (Counter): Page fetches by result (success, failed, stale, dropped)
//   - gallery_records_filtered_total (Counter): Records dropped for lacking an image id
//   - gallery_page_fetch_duration_seconds (Histogram): Page fetch duration
//
// Session Metrics (pkg/gallery):
//   - gallery_sessions_active (Gauge): Sessions started and not yet ended
//   - gallery_sessions_total (Counter): Sessions created
//
// Request Metrics (pkg/client):
//   - gallery_http_requests_total{host, status} (Counter): Outbound requests by host and status
//   - gallery_http_request_duration_seconds{host} (Histogram): Outbound request duration
//   - gallery_http_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Retry Metrics (pkg/client, only when retries are enabled):
//   - gallery_http_retries_total{error_class} (Counter): Retry attempts by error class
//   - gallery_http_retry_backoff_seconds{error_class} (Histogram): Backoff duration
//   - gallery_http_retry_exhausted_total{error_class} (Counter): Requests that exhausted retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - gallery_rate_limit_remaining (Gauge): Requests remaining in the current window
//   - gallery_rate_limit_blocks_total (Counter): Requests blocked at the critical threshold
//   - gallery_rate_limit_throttles_total (Counter): Requests delayed at the warning threshold
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(gallery_cache_hits_total[5m])) /
//   (sum(rate(gallery_cache_hits_total[5m])) + sum(rate(gallery_cache_misses_total[5m])))
//
//   # Cache Budget Usage
//   gallery_cache_cost_bytes / (100 * 1024 * 1024)
//
//   # Image Failure Rate
//   rate(gallery_image_loads_total{result="failed"}[5m])
//
//   # Share of records without images
//   rate(gallery_records_filtered_total[1h])
//
//   # P95 Page Latency
//   histogram_quantile(0.95, rate(gallery_page_fetch_duration_seconds_bucket[5m]))
