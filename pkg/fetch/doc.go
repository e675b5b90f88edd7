// Package fetch drives paginated CRM resources to completion and spreads
// per-owner and per-deal fetch work across a bounded worker pool.
//
// The pager walks one logical resource with limit/offset requests until the
// collection is exhausted, preferring the API's authoritative meta.total over
// the short-page heuristic when it is available.
//
// The distributor partitions a unit-of-work list into contiguous slices, one
// per worker. Within a worker items run strictly sequentially; across workers
// everything is concurrent, bounded only by the shared rate limiter sitting
// under the CRM client. A failing item is logged and skipped, never aborting
// the rest of the slice.
//
// Example usage:
//
//	deals, failed := fetch.Distribute(ctx, ownerIDs, 20, func(ctx context.Context, owner string) ([]crm.Deal, error) {
//		return fetch.Pages(ctx, "deals", 50, func(ctx context.Context, limit, offset int) ([]crm.Deal, int, error) {
//			return client.ListDeals(ctx, owner, limit, offset)
//		}, nil)
//	}, tracker)
package fetch
