package fetch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/gcsops/crm-pipeline/pkg/progress"
)

// WorkFunc processes one unit of work and returns its partial result list.
type WorkFunc[T, R any] func(ctx context.Context, item T) ([]R, error)

// Distribute partitions items into contiguous slices of ceil(N/workers) and
// runs one worker per slice. Within a worker items are processed strictly in
// partition order; across workers processing is fully concurrent. A failing
// item is logged and skipped. The returned slice is the concatenation of all
// workers' partial results, available only once every slice is exhausted;
// ordering across workers is not significant and callers establish final
// order with an explicit sort. The second return value counts failed items.
//
// tracker, when non-nil, is incremented once per finished item (success or
// failure) from whichever worker finishes it.
func Distribute[T, R any](ctx context.Context, items []T, workers int, work WorkFunc[T, R], tracker *progress.Tracker) ([]R, int) {
	if len(items) == 0 {
		return nil, 0
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	chunk := (len(items) + workers - 1) / workers
	partials := make([][]R, workers)
	var failed atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if lo >= len(items) {
			break
		}
		if hi > len(items) {
			hi = len(items)
		}

		wg.Add(1)
		go func(workerID int, slice []T) {
			defer wg.Done()
			for _, item := range slice {
				if ctx.Err() != nil {
					log.Debug().
						Int("worker_id", workerID).
						Msg("Worker stopping (context cancelled)")
					return
				}

				results, err := work(ctx, item)
				if err != nil {
					failed.Add(1)
					log.Warn().
						Err(err).
						Int("worker_id", workerID).
						Msg("Work item failed; continuing with next item")
				}
				// Partial results from a failed item are still kept.
				partials[workerID] = append(partials[workerID], results...)

				if tracker != nil {
					tracker.Increment()
				}
			}
		}(w, items[lo:hi])
	}
	wg.Wait()

	var combined []R
	for _, part := range partials {
		combined = append(combined, part...)
	}

	if n := failed.Load(); n > 0 {
		log.Warn().
			Int64("failed_items", n).
			Int("total_items", len(items)).
			Msg("Distribution finished with failed items")
	}

	return combined, int(failed.Load())
}
