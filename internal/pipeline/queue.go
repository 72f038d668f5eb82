package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Queue is a fixed capacity FIFO between two stages. When full, Push discards
// the oldest item so the consumer always sees the most recent frames.
type Queue[T any] struct {
	items   chan T
	pushMu  sync.Mutex // serializes producers so the evict-and-retry in Push is atomic
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity items.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{items: make(chan T, capacity)}
}

// Push enqueues item without blocking. It returns the evicted item and true
// when the queue was full.
func (q *Queue[T]) Push(item T) (evicted T, dropped bool) {
	q.pushMu.Lock()
	defer q.pushMu.Unlock()

	for {
		select {
		case q.items <- item:
			return evicted, dropped
		default:
		}
		select {
		case old := <-q.items:
			evicted, dropped = old, true
			q.dropped.Add(1)
		default:
			// Consumer drained it in between, retry the send.
		}
	}
}

// Pop blocks until an item is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// PopTimeout waits at most d for an item. ok is false on timeout or cancellation.
func (q *Queue[T]) PopTimeout(ctx context.Context, d time.Duration) (item T, ok bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case item = <-q.items:
		return item, true
	case <-timer.C:
	case <-ctx.Done():
	}
	return item, false
}

// TryPop returns an item if one is immediately available.
func (q *Queue[T]) TryPop() (item T, ok bool) {
	select {
	case item = <-q.items:
		return item, true
	default:
		return item, false
	}
}

// Drain discards everything currently queued and returns how many items were removed.
func (q *Queue[T]) Drain() int {
	n := 0
	for {
		if _, ok := q.TryPop(); !ok {
			return n
		}
		n++
	}
}

func (q *Queue[T]) Len() int {
	return len(q.items)
}

func (q *Queue[T]) Cap() int {
	return cap(q.items)
}

// Dropped returns the number of items evicted since creation.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}
