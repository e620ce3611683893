// Package pool runs the fixed-size worker pool that turns export units into
// enriched results.
//
// All workers receive from one shared unit channel, so every unit is
// processed by exactly one worker. Each worker owns its output channel and
// closes it when it exits.
//
// Example usage:
//
//	p := pool.New(httpClient, enricher, state, pool.DefaultConfig())
//	outs := p.Start(ctx, bridge.Stream(ctx))
//	for res := range pool.Merge(outs...) {
//		// archive res
//	}
//
// A worker stops pulling new units once the run's cancellation flag is set;
// the unit it is processing is finished and emitted. Per-unit failures are
// emitted as failed results and never stop a worker. Units without a
// payload are skipped with a warning.
package pool
