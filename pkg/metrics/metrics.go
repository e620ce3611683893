// Package metrics exposes the Prometheus registry the exporter reports to.
// Metrics are defined in their respective packages and registered via
// promauto on the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every transfix metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics served by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Progress (pkg/progress):
//   - transfix_progress{counter} (Gauge): Run counters (days, discovered jobs, export units, failed, skipped)
//   - transfix_run_running (Gauge): 1 while a run is active
//   - transfix_runs_finished_total{status} (Counter): Finished runs by final status
//   - transfix_cancellations_total (Counter): Cancellation requests during a run
//   - transfix_export_run_duration_seconds{status} (Histogram): Run duration (pkg/export)
//
// Enumeration (pkg/enumerate, pkg/store):
//   - transfix_days_fetched_total (Counter): Day listings fetched
//   - transfix_detail_batch_size (Histogram): Ids per detail request
//   - transfix_store_requests_total{operation, status} (Counter): Archive API requests
//   - transfix_store_request_duration_seconds{operation} (Histogram): Archive API latency
//   - transfix_store_records_total{source} (Counter): Records served from cache or API
//
// Workers (pkg/pool, pkg/enrich):
//   - transfix_pool_units_total{outcome} (Counter): Units by outcome (ok, failed, skipped)
//   - transfix_pool_unit_duration_seconds (Histogram): Time per unit
//   - transfix_pool_active_workers (Gauge): Running workers
//   - transfix_enrich_total{mode, status} (Counter): Enrichment calls
//   - transfix_enrich_duration_seconds{mode} (Histogram): Enrichment latency
//
// Requests (pkg/client):
//   - transfix_requests_total{operation, status} (Counter): Requests by operation and HTTP status
//   - transfix_request_duration_seconds{operation} (Histogram): Request duration
//   - transfix_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - transfix_retries_total{error_class} (Counter): Retry attempts
//   - transfix_retry_backoff_seconds{error_class} (Histogram): Backoff duration
//   - transfix_retry_exhausted_total{error_class} (Counter): Requests that exhausted retries
//   - transfix_payload_bytes_total (Counter): Downloaded payload bytes
//
// Rate limit (pkg/ratelimit):
//   - transfix_rate_limit_remaining (Gauge): Remaining request budget
//   - transfix_rate_limit_blocks_total (Counter): Requests held until the budget reset
//   - transfix_rate_limit_throttles_total (Counter): Requests delayed on a low budget
//
// Cache (pkg/cache):
//   - transfix_cache_hits_total{kind} (Counter): Cache hits for jobs and days
//   - transfix_cache_misses_total{kind} (Counter): Cache misses
//   - transfix_cache_size_bytes (Gauge): Bytes written to the cache
//   - transfix_cache_errors_total{operation} (Counter): Cache operation errors
//
// Archive (pkg/archive):
//   - transfix_archive_entries_total (Counter): Entries written
//   - transfix_archive_entry_errors_total (Counter): Entries that failed to write
//   - transfix_archive_bytes_total (Counter): Uncompressed bytes written
//   - transfix_archive_uploads_total{status} (Counter): Archive uploads
//
// Example Prometheus Queries:
//
//   # Export progress
//   transfix_progress{counter="processed_export_units"} / transfix_progress{counter="total_export_units"}
//
//   # Unit failure rate
//   rate(transfix_pool_units_total{outcome="failed"}[5m]) / rate(transfix_pool_units_total[5m])
//
//   # P95 download latency
//   histogram_quantile(0.95, rate(transfix_request_duration_seconds_bucket{operation="payload"}[5m]))
