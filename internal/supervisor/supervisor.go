// Package supervisor runs a set of tasks as one structured-concurrency unit.
// The first task to fail cancels its siblings, and the handle does not report
// completion until every task has returned.
package supervisor

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrFailure marks the error that ended a supervised scope.
var ErrFailure = errors.New("supervised task failed")

// Task is one long-running member of the scope.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Options customizes Run.
//   - Logger receives lifecycle logs (defaults to a no-op logger).
//   - Cleanup hooks run in order once every task has returned.
type Options struct {
	Logger  *zap.Logger
	Cleanup []func()
}

// Handle owns a running scope.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	once   sync.Once
}

// Run starts every task under one cancellation scope derived from ctx.
func Run(ctx context.Context, opts Options, tasks ...Task) *Handle {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("supervisor")
	scope, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(scope)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	for _, task := range tasks {
		g.Go(func() error {
			logger.Debug("task started", zap.String("task", task.Name))
			err := runTask(gctx, task)
			switch {
			case err == nil:
				logger.Debug("task finished", zap.String("task", task.Name))
				return nil
			case gctx.Err() != nil && isCancellation(err):
				logger.Debug("task canceled", zap.String("task", task.Name))
				return nil
			default:
				logger.Error("task failed", zap.String("task", task.Name), zap.Error(err))
				return errors.Mark(errors.Wrapf(err, "task %s", task.Name), ErrFailure)
			}
		})
	}

	go func() {
		h.err = g.Wait()
		cancel()
		for _, fn := range opts.Cleanup {
			fn()
		}
		logger.Info("scope closed", zap.Bool("failed", h.err != nil))
		close(h.done)
	}()
	return h
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("task panicked: %v", rec)
		}
	}()
	return task.Run(ctx)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Done is closed once every task returned and cleanup ran.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the scope ends by itself, ctx ends or Close is called.
// It returns the failure that ended the scope, marked ErrFailure, or nil.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "wait for supervisor")
	}
}

// Close cancels the scope and waits for every task to return. It returns the
// failure, if any, that ended the scope first. Safe to call repeatedly.
func (h *Handle) Close() error {
	h.once.Do(h.cancel)
	<-h.done
	return h.err
}
