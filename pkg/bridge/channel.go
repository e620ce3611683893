package bridge

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Push after Close, or after the consumer
	// abandoned the stream.
	ErrClosed = errors.New("bridge: push on closed channel")
)

// Channel is an unbounded mailbox with a close/drain protocol.
type Channel[T any] struct {
	mu      sync.Mutex
	pending []T
	closed  bool
	stopped bool

	notify   chan struct{} // next-push wait handle, 1-slot
	closedCh chan struct{} // closed wait handle
	done     chan struct{}

	start sync.Once
	out   chan T
}

// New creates an empty channel.
func New[T any]() *Channel[T] {
	return &Channel[T]{
		notify:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
		done:     make(chan struct{}),
		out:      make(chan T),
	}
}

// Push enqueues v and wakes the consumer if it is waiting.
func (c *Channel[T]) Push(v T) error {
	c.mu.Lock()
	if c.closed || c.stopped {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending = append(c.pending, v)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
		// a wake-up is already armed
	}
	return nil
}

// Close records that no more values will be pushed. It is idempotent.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.closedCh)
}

// Len returns the number of values pushed but not yet handed to the stream.
func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Done is closed once the stream goroutine has exited, either after the
// final drain or because the consumer's context was cancelled.
func (c *Channel[T]) Done() <-chan struct{} {
	return c.done
}

// Stream returns the consumer side. Only the first call starts the drain;
// later calls return the same channel. Cancelling ctx abandons the stream:
// the output closes and further pushes fail with ErrClosed.
func (c *Channel[T]) Stream(ctx context.Context) <-chan T {
	c.start.Do(func() {
		go c.drain(ctx)
	})
	return c.out
}

func (c *Channel[T]) drain(ctx context.Context) {
	defer close(c.done)
	defer close(c.out)

	for {
		select {
		case <-c.notify:
			if !c.yieldPending(ctx) {
				c.stop()
				return
			}
		case <-c.closedCh:
			// A push may have landed between the last wake-up and Close.
			// Pushes after Close are rejected, so this drain is final.
			if !c.yieldPending(ctx) {
				c.stop()
			}
			return
		case <-ctx.Done():
			c.stop()
			return
		}
	}
}

// yieldPending swaps the pending slice out under the lock and yields the
// swapped batch. It never yields from the live slice.
func (c *Channel[T]) yieldPending(ctx context.Context) bool {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, v := range batch {
		select {
		case c.out <- v:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (c *Channel[T]) stop() {
	c.mu.Lock()
	c.stopped = true
	c.pending = nil
	c.mu.Unlock()
}
