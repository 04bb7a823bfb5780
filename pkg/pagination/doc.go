// Package pagination aggregates every page of an album or photostream into
// one cached Collection, resumably.
//
// Flickr list methods return at most 500 photos per page, so large
// collections take several calls. The aggregator walks the pages through the
// metadata fetcher (which owns the cache, quota and backoff rules) and stops
// when:
//
//   - every page is fetched: the collection is cached with the standard TTL,
//     the per-photo sizes and stats carried by the pages are harvested, and
//     any snapshot is deleted (complete);
//   - a page is rate limited: progress so far is saved (rate_limited);
//   - the wall-clock budget of the invocation runs out: progress is saved
//     with the next page to fetch (partial).
//
// Saved progress is a PartialAggregate snapshot with a short TTL; the next
// FetchAll resumes from its resume page. A snapshot that expires simply
// forces a clean start from page 1.
//
// Example usage:
//
//	agg := pagination.New(fetch, cacheManager, pagination.DefaultConfig())
//	out, err := agg.FetchAll(ctx, resource.AlbumRef("12345678@N02", "72157..."))
//	if out.State == pagination.StatePartial {
//		// requeue; the next call continues at out.ResumePage
//	}
package pagination
