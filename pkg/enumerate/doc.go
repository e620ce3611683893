// Package enumerate walks the remote archive day by day and feeds export
// units into a bridge channel.
//
// For every day the enumerator fetches the day's record stubs, filters them,
// and accumulates them into a work batch. Whenever the batch reaches the
// configured size, the first BatchSize identifiers are resolved with one
// detail request, expanded into export units and pushed one by one. After the
// last day the remainder is flushed and the channel is closed.
//
// With Config.JobIDs set no day is listed: the ids are resolved in the same
// batches, in the given order, with duplicates dropped.
//
// Example usage:
//
//	e := enumerate.New(store, state, enumerate.Config{
//		From:      from,
//		To:        to,
//		Predicate: job.TypeIn("upscale"),
//		BatchSize: 50,
//	})
//	ch := bridge.New[job.Unit]()
//	go func() { err = e.Run(ctx, ch) }()
//
// Fetch failures are not retried here: they abort enumeration and are
// returned wrapped in ErrEnumeration.
package enumerate
