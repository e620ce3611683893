// Package store talks to the remote job archive: day listings, detail
// resolution and the list of days that have jobs.
//
// HTTPStore issues single-shot requests; failures surface to the enumerator,
// which aborts the run. Every request is gated by the shared rate limit
// tracker and feeds the budget headers back into it.
//
// CachedStore decorates any RecordStore with the Redis cache so that a
// re-run over the same range resolves known jobs without remote calls.
package store
