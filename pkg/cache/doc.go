// Package cache memoizes the computed per-owner aggregate behind a fixed
// freshness window.
//
// The cache holds exactly one entry, the aggregate for the whole fetch
// universe. A get within the TTL serves the stored payload and tags it as
// cache-served; a get outside it runs the full pipeline synchronously and
// replaces the entry. A failed recomputation never overwrites the stale
// entry, so later callers can retry independently.
//
// Concurrent gets that both observe a stale entry are allowed to both
// recompute; whichever write lands last wins. That is a cost concern only,
// since the aggregation engine is deterministic.
//
// Two stores back the cache:
//
//   - MemoryStore: mutex-guarded in-process entry, the default.
//   - RedisStore: one JSON value in Redis, for dashboards running more
//     than one replica against the same CRM account.
//
// # Basic Usage
//
//	store := cache.NewMemoryStore()
//	c := cache.New(store, time.Hour, func(ctx context.Context) ([]aggregate.Accumulator, error) {
//		return pipe.FetchAggregates(ctx, sink)
//	})
//
//	result, err := c.Get(ctx)
//	if err != nil {
//		// total pipeline failure; any stale entry was preserved
//	}
//	_ = result.FromCache // true when served within the TTL
//
// # Metrics
//
// The cache exports Prometheus metrics:
//
//   - crm_cache_hits_total - Gets served from a fresh entry
//   - crm_cache_misses_total - Gets that triggered recomputation
//   - crm_cache_recompute_failures_total - Recomputations that failed
//   - crm_cache_errors_total{operation} - Store operation errors
package cache
