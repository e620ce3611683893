// Package bridge adapts a push-driven producer to a pull-driven consumer.
//
// A producer calls Push whenever it has a value and Close once it is done.
// The single consumer ranges over the channel returned by Stream, which
// yields every pushed value exactly once, in push order, and closes after
// Close has been recorded and all pending values have been delivered.
//
// Example usage:
//
//	ch := bridge.New[job.Unit]()
//	go func() {
//		defer ch.Close()
//		for _, u := range units {
//			_ = ch.Push(u)
//		}
//	}()
//	for u := range ch.Stream(ctx) {
//		handle(u)
//	}
//
// The mailbox is unbounded: Push never waits for the consumer. The output
// channel returned by Stream may be shared by several receivers; a channel
// receive hands each value to exactly one of them.
package bridge
