package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/h0tk3y/dkvs/cond"
)

// ErrClosed is returned by Pop after Close once the queue is drained
var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO queue safe for concurrent use
type Queue[T any] struct {
	mut    sync.Mutex
	cond   *cond.Cond
	items  []T
	closed bool
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = cond.NewCond(&q.mut)
	return q
}

// Push appends to the back, items pushed after Close are dropped
func (q *Queue[T]) Push(items ...T) {
	q.mut.Lock()
	defer q.mut.Unlock()

	if q.closed {
		return
	}
	q.items = append(q.items, items...)
	q.cond.Broadcast()
}

// PushFront puts an item back to the head, used when a write has failed
func (q *Queue[T]) PushFront(item T) {
	q.mut.Lock()
	defer q.mut.Unlock()

	if q.closed {
		return
	}
	q.items = append([]T{item}, q.items...)
	q.cond.Broadcast()
}

// Pop blocks until an item is available, ctx is cancelled or the queue is closed and empty
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	q.mut.Lock()
	defer q.mut.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			var empty T
			return empty, ErrClosed
		}
		if err := q.cond.Wait(ctx); err != nil {
			var empty T
			return empty, err
		}
	}

	item := q.items[0]
	var empty T
	q.items[0] = empty
	q.items = q.items[1:]
	return item, nil
}

// RemoveIf drops every item for which fn returns true, returns the number of removed items
func (q *Queue[T]) RemoveIf(fn func(T) bool) int {
	q.mut.Lock()
	defer q.mut.Unlock()

	kept := make([]T, 0, len(q.items))
	for _, item := range q.items {
		if fn(item) {
			continue
		}
		kept = append(kept, item)
	}
	removed := len(q.items) - len(kept)
	q.items = kept
	return removed
}

func (q *Queue[T]) Len() int {
	q.mut.Lock()
	defer q.mut.Unlock()
	return len(q.items)
}

// Close wakes up every waiting Pop, remaining items can still be popped
func (q *Queue[T]) Close() {
	q.mut.Lock()
	defer q.mut.Unlock()

	q.closed = true
	q.cond.Broadcast()
}
