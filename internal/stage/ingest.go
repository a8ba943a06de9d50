package stage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SF-300/vigilant-disco/internal/metrics"
	"github.com/SF-300/vigilant-disco/internal/operation"
	"github.com/SF-300/vigilant-disco/internal/progress"
	"github.com/SF-300/vigilant-disco/internal/queue"
)

// ErrUnrecoverable marks operation failures that must end the stage instead
// of being reported and skipped.
var ErrUnrecoverable = errors.New("unrecoverable collaborator failure")

// DefaultMaxInFlight bounds concurrently outstanding operations per stage.
const DefaultMaxInFlight = 4

// EscalateUnrecoverable is the default escalation policy.
func EscalateUnrecoverable(err error) bool {
	return errors.Is(err, ErrUnrecoverable)
}

// ingestor is the ingestion duty shared by Processor and Terminal.
type ingestor[In, R any] struct {
	name        string
	inbound     queue.Queue[In]
	factory     func(context.Context, In, *progress.Stream) *operation.Operation[R]
	sink        progress.Emitter
	escalate    func(error) bool
	maxInFlight int
	waitRoom    func(context.Context) error
	onResult    func(ctx context.Context, id uuid.UUID, result R)
	logger      *zap.Logger
}

func (g *ingestor[In, R]) run(ctx context.Context) error {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.maxInFlight)
	for {
		item, err := g.next(gctx)
		if err != nil {
			if werr := group.Wait(); werr != nil {
				return werr
			}
			if errors.Is(err, queue.ErrClosed) {
				g.logger.Info("inbound queue closed")
				return nil
			}
			return err
		}
		group.Go(func() error {
			return g.process(gctx, item)
		})
	}
}

func (g *ingestor[In, R]) next(ctx context.Context) (In, error) {
	if g.waitRoom != nil {
		if err := g.waitRoom(ctx); err != nil {
			var zero In
			return zero, err
		}
	}
	return g.inbound.Pop(ctx)
}

// process runs one operation, forwarding its progress until the stream
// closes. Only escalated failures are returned.
func (g *ingestor[In, R]) process(ctx context.Context, item In) error {
	stream := progress.NewStream(uuid.New(), progress.WithStage(g.name))
	sub := stream.Subscribe()
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		_ = sub.Forward(ctx, g.sink.Emit)
	}()

	metrics.AddInFlight(g.name, 1)
	defer metrics.AddInFlight(g.name, -1)
	start := time.Now()

	op := g.factory(ctx, item, stream)
	result, err := op.Result(ctx)
	// Cancellation settles the result early; the stage must not return while
	// the computation is still unwinding.
	<-op.Exited()
	// Already closed when op owns stream; otherwise ends the forwarder.
	stream.Close()
	<-forwarded
	sub.Close()

	logger := g.logger.With(zap.Stringer("operation_id", op.ID()))
	switch {
	case err == nil:
		metrics.ObserveOperation(g.name, metrics.OutcomeSuccess, time.Since(start))
		g.onResult(ctx, op.ID(), result)
		return nil
	case ctx.Err() != nil:
		metrics.ObserveOperation(g.name, metrics.OutcomeCanceled, time.Since(start))
		logger.Debug("operation canceled", zap.Error(err))
		return nil
	}

	metrics.ObserveOperation(g.name, metrics.OutcomeFailure, time.Since(start))
	g.report(op.ID(), progress.RoleError, err.Error())
	if g.escalate(err) {
		logger.Error("operation failed, stopping stage", zap.Error(err))
		return errors.Wrapf(err, "stage %s", g.name)
	}
	logger.Warn("operation failed", zap.Error(err))
	return nil
}

// report sends an event that belongs to an already closed operation stream.
func (g *ingestor[In, R]) report(id uuid.UUID, role progress.Role, text string) {
	g.sink.Emit(progress.Event{
		OperationID: progress.UUIDToBytes(id),
		TS:          time.Now().UTC(),
		Stage:       g.name,
		Role:        role,
		Text:        text,
	})
}
