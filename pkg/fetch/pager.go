package fetch

import (
	"context"

	"github.com/rs/zerolog/log"
)

// PageFunc fetches one page of a resource at the given offset. It returns
// the page's records and the authoritative collection total when the API
// provides one (0 when it does not).
type PageFunc[T any] func(ctx context.Context, limit, offset int) ([]T, int, error)

// PageHook is invoked after each successfully fetched page with the running
// record count and the known total (0 if unknown). Used for progress events.
type PageHook func(fetched, total int)

// Pages drives one paginated resource to completion starting at offset 0.
// See PagesFrom.
func Pages[T any](ctx context.Context, resource string, limit int, fn PageFunc[T], onPage PageHook) ([]T, error) {
	return PagesFrom(ctx, resource, limit, 0, fn, onPage)
}

// PagesFrom repeatedly fetches pages of size limit beginning at startOffset
// until the collection is exhausted. When a page reports an authoritative
// total, the loop stops once that many records are accumulated. A page
// shorter than limit always signals the end, whether or not a total was
// reported (without one, a collection sized at an exact multiple of limit
// costs one trailing empty fetch).
//
// A page failure ends this fetch without retry: the records accumulated so
// far are returned together with the error, and the caller decides whether
// the partial result is usable. Sibling fetchers are unaffected.
func PagesFrom[T any](ctx context.Context, resource string, limit, startOffset int, fn PageFunc[T], onPage PageHook) ([]T, error) {
	var records []T
	offset := startOffset
	knownTotal := 0

	for {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		page, total, err := fn(ctx, limit, offset)
		if err != nil {
			log.Warn().
				Err(err).
				Str("resource", resource).
				Int("offset", offset).
				Int("fetched", len(records)).
				Msg("Page fetch failed; keeping partial results")
			return records, err
		}

		records = append(records, page...)
		if total > 0 {
			knownTotal = total
		}

		log.Debug().
			Str("resource", resource).
			Int("offset", offset).
			Int("count", len(page)).
			Int("fetched", len(records)).
			Msg("Page fetched")

		if onPage != nil {
			onPage(len(records), knownTotal)
		}

		if knownTotal > 0 && len(records) >= knownTotal {
			return records, nil
		}
		// A short page ends the collection even while a reported total claims
		// more records; the collection may have shrunk between pages or the
		// upstream count may be wrong. Trusting the total alone would keep
		// fetching empty pages forever.
		if len(page) < limit {
			return records, nil
		}

		offset += limit
	}
}
