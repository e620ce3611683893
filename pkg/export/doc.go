// Package export runs one export: it enumerates units from the remote
// archive, processes them on the worker pool and streams the results into
// the archive sink.
//
// Example usage:
//
//	exp := export.New(store, httpClient, enricher, sink, state, export.DefaultConfig())
//	summary, err := exp.Run(ctx)
//
// Per-unit failures are recorded in errors.jsonl and never fail the run.
// Enumeration and archive errors fail the run; the archive is still
// finalized with everything collected so far. A cancelled run finishes the
// units in flight and is finalized the same way.
package export
