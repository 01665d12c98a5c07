package channel

import (
	"context"
	"sync"
)

// Future is a single-assignment result container. It is settled at most
// once, by exactly one of Resolve or Reject; Await blocks until then.
// Settlement does not require anyone to be awaiting.
type Future[T any] struct {
	done chan struct{}

	mu      sync.Mutex
	settled bool
	value   T
	err     error
}

// NewFuture creates an unsettled future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve settles the future with a value. It reports false if the
// future was already settled, in which case the value is discarded.
func (f *Future[T]) Resolve(value T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.settled = true
	f.value = value
	close(f.done)
	return true
}

// Reject settles the future with an error. It reports false if the
// future was already settled.
func (f *Future[T]) Reject(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.settled = true
	f.err = err
	close(f.done)
	return true
}

// Settled reports whether the future has been resolved or rejected.
func (f *Future[T]) Settled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settled
}

// Await blocks until the future settles or ctx is done. The channel
// never settles a future on its own after shutdown; callers wanting a
// timeout pass a deadline ctx.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
