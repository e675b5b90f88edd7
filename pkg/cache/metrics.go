package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks gets served from a fresh cached entry.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_cache_hits_total",
			Help: "Total number of aggregate gets served from cache",
		},
	)

	// CacheMisses tracks gets that triggered a recomputation.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_cache_misses_total",
			Help: "Total number of aggregate gets that recomputed the pipeline",
		},
	)

	// RecomputeFailures tracks recomputations that surfaced an error.
	RecomputeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_cache_recompute_failures_total",
			Help: "Total number of failed aggregate recomputations",
		},
	)

	// CacheErrors tracks store operation errors.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_cache_errors_total",
			Help: "Total number of cache store operation errors",
		},
		[]string{"operation"}, // "load", "save", "clear"
	)
)
