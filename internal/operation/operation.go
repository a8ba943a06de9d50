// Package operation pairs a cancellable asynchronous computation with the
// progress stream that narrates it. An Operation starts running as soon as it
// is created; any number of goroutines may await its result.
package operation

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/SF-300/vigilant-disco/internal/progress"
)

var (
	// ErrFailed marks errors returned by the computation itself.
	ErrFailed = errors.New("operation failed")
	// ErrCanceled marks results settled by cancellation. Such errors also
	// match context.Canceled or context.DeadlineExceeded.
	ErrCanceled = errors.New("operation canceled")
)

// Func is the computation run by an Operation. It reports activity through
// emit and must return promptly once ctx is done.
type Func[R any] func(ctx context.Context, emit progress.Emitter) (R, error)

// Operation is a started computation producing R plus its progress stream.
type Operation[R any] struct {
	stream *progress.Stream
	cancel context.CancelFunc
	done   chan struct{}
	exited chan struct{}

	once   sync.Once
	result R
	err    error
}

// Start schedules fn on its own goroutine and returns immediately. A nil
// stream is replaced by a fresh one. The stream is closed when the operation
// settles, whatever the outcome.
func Start[R any](ctx context.Context, stream *progress.Stream, fn Func[R]) *Operation[R] {
	if stream == nil {
		stream = progress.NewStream(uuid.New())
	}
	runCtx, cancel := context.WithCancel(ctx)
	op := &Operation[R]{
		stream: stream,
		cancel: cancel,
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	// Settles the waiters as soon as cancellation is requested, even if fn
	// is slow to notice.
	stop := context.AfterFunc(runCtx, func() {
		var zero R
		op.settle(zero, errors.Mark(errors.Wrap(runCtx.Err(), "operation canceled"), ErrCanceled))
	})
	go func() {
		defer close(op.exited)
		r, err := op.invoke(runCtx, fn)
		switch {
		case err == nil:
			op.settle(r, nil)
		case runCtx.Err() != nil:
			var zero R
			op.settle(zero, errors.Mark(errors.Wrap(runCtx.Err(), "operation canceled"), ErrCanceled))
		default:
			var zero R
			op.settle(zero, errors.Mark(errors.Wrap(err, "operation failed"), ErrFailed))
		}
		stop()
		cancel()
	}()
	return op
}

func (o *Operation[R]) invoke(ctx context.Context, fn Func[R]) (r R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("operation panicked: %v", rec)
		}
	}()
	return fn(ctx, o.stream)
}

func (o *Operation[R]) settle(r R, err error) {
	o.once.Do(func() {
		o.result = r
		o.err = err
		o.stream.Close()
		close(o.done)
	})
}

// ID returns the identifier shared with the progress stream.
func (o *Operation[R]) ID() uuid.UUID {
	return o.stream.ID()
}

// Progress returns the operation's broadcast stream.
func (o *Operation[R]) Progress() *progress.Stream {
	return o.stream
}

// Done is closed once the result is available.
func (o *Operation[R]) Done() <-chan struct{} {
	return o.done
}

// Exited is closed once the computation goroutine has returned. A cancelled
// operation settles before its computation unwinds, so Done may close first.
func (o *Operation[R]) Exited() <-chan struct{} {
	return o.exited
}

// Wait blocks until the computation goroutine has returned or ctx ends.
func (o *Operation[R]) Wait(ctx context.Context) error {
	select {
	case <-o.exited:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for operation exit")
	}
}

// Cancel requests cancellation. Waiters are released immediately with an
// error marked ErrCanceled unless the operation already settled.
func (o *Operation[R]) Cancel() {
	o.cancel()
}

// Result waits for the operation to settle and returns its outcome. Every
// caller observes the same outcome. Giving up on ctx does not cancel the
// operation.
func (o *Operation[R]) Result(ctx context.Context) (R, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		select {
		case <-o.done:
			return o.result, o.err
		default:
		}
		var zero R
		return zero, errors.Wrap(ctx.Err(), "await operation")
	}
}
