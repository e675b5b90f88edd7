package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gcsops/crm-pipeline/pkg/aggregate"
)

// ComputeFunc runs the full ingestion pipeline and returns the fresh
// aggregate.
type ComputeFunc func(ctx context.Context) ([]aggregate.Accumulator, error)

// Result is what callers of Get receive.
type Result struct {
	Payload    []aggregate.Accumulator `json:"payload"`
	ComputedAt time.Time               `json:"computed_at"`
	FromCache  bool                    `json:"from_cache"`
}

// Cache is the memoizing front door over the pipeline. There is deliberately
// no lock around recomputation: concurrent stale gets may both recompute and
// the last write wins.
type Cache struct {
	store   Store
	ttl     time.Duration
	compute ComputeFunc
	logger  zerolog.Logger
}

// New creates a cache over the given store. ttl is the freshness window;
// a non-positive ttl disables serving from cache entirely.
func New(store Store, ttl time.Duration, compute ComputeFunc) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		compute: compute,
		logger:  log.With().Str("component", "result-cache").Logger(),
	}
}

// Get serves the cached aggregate when it is fresh, otherwise recomputes it
// synchronously. On recomputation failure the stored entry is left untouched
// and the failure is surfaced to this caller only.
func (c *Cache) Get(ctx context.Context) (Result, error) {
	entry, err := c.store.Load(ctx)
	if err != nil && !errors.Is(err, ErrNoEntry) {
		// A broken store reads as a miss; the pipeline still runs.
		c.logger.Warn().Err(err).Msg("Cache load failed; treating as miss")
	}

	if entry != nil && c.ttl > 0 && time.Since(entry.ComputedAt) < c.ttl {
		CacheHits.Inc()
		c.logger.Debug().
			Time("computed_at", entry.ComputedAt).
			Bool("cache_hit", true).
			Msg("Serving aggregate from cache")
		return Result{
			Payload:    entry.Payload,
			ComputedAt: entry.ComputedAt,
			FromCache:  true,
		}, nil
	}

	CacheMisses.Inc()
	c.logger.Info().Msg("Cache stale or empty; recomputing aggregate")

	payload, err := c.compute(ctx)
	if err != nil {
		RecomputeFailures.Inc()
		return Result{}, fmt.Errorf("recompute aggregate: %w", err)
	}

	computedAt := time.Now()
	if err := c.store.Save(ctx, &Entry{Payload: payload, ComputedAt: computedAt}); err != nil {
		// The fresh result is still served; only memoization is lost.
		c.logger.Warn().Err(err).Msg("Cache save failed")
	}

	return Result{
		Payload:    payload,
		ComputedAt: computedAt,
		FromCache:  false,
	}, nil
}

// Invalidate drops the stored entry so the next Get recomputes.
func (c *Cache) Invalidate(ctx context.Context) error {
	return c.store.Clear(ctx)
}
