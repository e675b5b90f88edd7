// Package metrics provides the centralized Prometheus metrics reference for
// the ingestion pipeline. Metrics are defined in their respective packages
// (ratelimit, crm, cache) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the pipeline.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Rate Limit Metrics (pkg/ratelimit):
//   - crm_limiter_active (Gauge): In-flight calls admitted by the limiter
//   - crm_limiter_queued (Gauge): Calls waiting in the pending queue
//   - crm_limiter_admissions_total (Counter): Calls admitted through the limiter
//   - crm_limiter_wait_seconds (Histogram): Time spent waiting out the start interval
//   - crm_limiter_cancelled_total (Counter): Calls abandoned before admission
//
// Request Metrics (pkg/crm):
//   - crm_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - crm_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - crm_errors_total{class} (Counter): Errors by class (client, server, network, decode)
//
// Cache Metrics (pkg/cache):
//   - crm_cache_hits_total (Counter): Aggregate gets served from cache
//   - crm_cache_misses_total (Counter): Aggregate gets that recomputed the pipeline
//   - crm_cache_recompute_failures_total (Counter): Failed recomputations
//   - crm_cache_errors_total{operation} (Counter): Cache store operation errors
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(crm_cache_hits_total[5m])) /
//   (sum(rate(crm_cache_hits_total[5m])) + sum(rate(crm_cache_misses_total[5m])))
//
//   # Limiter saturation
//   crm_limiter_queued > 0
//
//   # Request Error Rate
//   rate(crm_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(crm_request_duration_seconds_bucket[5m]))
