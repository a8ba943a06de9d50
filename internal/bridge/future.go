package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// ErrReused marks an attempt to await a Future whose value was already
// consumed. It is a programming error.
var ErrReused = errors.New("bridge future reused")

// Future resolves with the first payload delivered by its source.
type Future[P any] struct {
	value    chan P
	consumed atomic.Bool

	mu         sync.Mutex
	disconnect func()
	detached   bool
}

// NextOccurrence connects a one-shot listener to src. The listener detaches
// itself on its first firing, so the future resolves at most once.
func NextOccurrence[P any](src Source[P]) *Future[P] {
	f := &Future[P]{value: make(chan P, 1)}
	var fired atomic.Bool
	disconnect := src.Connect(func(p P) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		f.value <- p
		f.Detach()
	})
	f.mu.Lock()
	if f.detached {
		// Fired or detached before Connect returned.
		f.mu.Unlock()
		disconnect()
		return f
	}
	f.disconnect = disconnect
	f.mu.Unlock()
	return f
}

// Await blocks until the payload arrives or ctx ends. On cancellation the
// listener is detached before returning.
func (f *Future[P]) Await(ctx context.Context) (P, error) {
	var zero P
	if f.consumed.Load() {
		return zero, errors.Mark(errors.AssertionFailedf("await on a consumed bridge future"), ErrReused)
	}
	select {
	case p := <-f.value:
		f.consumed.Store(true)
		return p, nil
	case <-ctx.Done():
		f.Detach()
		return zero, errors.Wrap(ctx.Err(), "await bridge event")
	}
}

// Detach removes the listener if it is still connected.
func (f *Future[P]) Detach() {
	f.mu.Lock()
	f.detached = true
	disconnect := f.disconnect
	f.disconnect = nil
	f.mu.Unlock()
	if disconnect != nil {
		disconnect()
	}
}
