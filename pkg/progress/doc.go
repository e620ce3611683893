// Package progress holds the shared export run state: counters, the running
// flag, the final status and the cooperative cancellation flag.
//
// One State is shared by pointer between the enumerator, the worker pool and
// any observers. Every mutation publishes a Snapshot to subscribers
// immediately. Observers that fall behind only ever see the most recent
// snapshot; writers never block on them.
//
// Cancellation is a flag, not a context. Components poll Cancelled() at their
// defined checkpoints (before each day, before each detail fetch, before each
// unit). In-flight network requests are governed by their own context.
package progress
