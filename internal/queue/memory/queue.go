// Package memory provides the in-process queue used between pipeline stages.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/SF-300/vigilant-disco/internal/queue"
)

// Queue is a slice-backed FIFO. It is unbounded unless configured with a
// capacity, in which case the configured policy governs full pushes.
type Queue[T any] struct {
	cfg queue.Config

	mu      sync.Mutex
	items   []T
	closed  bool
	changed chan struct{}
	dropped atomic.Uint64
}

var (
	_ queue.Queue[int]  = (*Queue[int])(nil)
	_ queue.DropCounter = (*Queue[int])(nil)
)

// NewQueue constructs a queue from cfg.
func NewQueue[T any](cfg queue.Config) *Queue[T] {
	if cfg.Bounded() && cfg.Policy == "" {
		cfg.Policy = queue.PolicyBlock
	}
	return &Queue[T]{
		cfg:     cfg,
		changed: make(chan struct{}),
	}
}

// broadcast wakes every waiter. Callers hold q.mu.
func (q *Queue[T]) broadcast() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Push appends item according to the queue policy.
func (q *Queue[T]) Push(ctx context.Context, item T) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "enqueue canceled")
		}
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return queue.ErrClosed
		}
		if !q.cfg.Bounded() || len(q.items) < q.cfg.Capacity {
			q.items = append(q.items, item)
			q.broadcast()
			q.mu.Unlock()
			return nil
		}
		switch q.cfg.Policy {
		case queue.PolicyReject:
			q.mu.Unlock()
			return queue.ErrFull
		case queue.PolicyDropOldest:
			var zero T
			q.items[0] = zero
			q.items = append(q.items[1:], item)
			q.dropped.Add(1)
			q.broadcast()
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "enqueue canceled")
		case <-wait:
		}
	}
}

// Pop removes the oldest item. After Close it keeps returning items until
// the queue is empty, then queue.ErrClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		if err := ctx.Err(); err != nil {
			return zero, errors.Wrap(err, "dequeue canceled")
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			q.broadcast()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, queue.ErrClosed
		}
		wait := q.changed
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return zero, errors.Wrap(ctx.Err(), "dequeue canceled")
		case <-wait:
		}
	}
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped reports how many items PolicyDropOldest discarded.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

// Close stops accepting pushes and wakes blocked callers. Idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}
