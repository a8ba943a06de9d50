package progress

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ErrStreamClosed is returned by Subscription.Next once the stream has closed
// and every event queued for the subscriber has been delivered.
var ErrStreamClosed = errors.New("progress stream closed")

// Stream is a single-producer, multi-consumer broadcast of Events. Each
// subscriber owns an unbounded queue created at subscribe time, so a slow
// reader never blocks the producer and never observes events emitted before
// it attached.
type Stream struct {
	id    [16]byte
	stage string
	now   func() time.Time

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	done   chan struct{}
}

// StreamOption customizes a Stream.
type StreamOption func(*Stream)

// WithStage stamps every event with the owning stage name.
func WithStage(stage string) StreamOption {
	return func(s *Stream) {
		s.stage = stage
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) StreamOption {
	return func(s *Stream) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStream creates an open stream for the operation identified by id.
func NewStream(id uuid.UUID, opts ...StreamOption) *Stream {
	s := &Stream{
		id:   UUIDToBytes(id),
		now:  func() time.Time { return time.Now().UTC() },
		subs: make(map[*Subscription]struct{}),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the operation ID stamped on events.
func (s *Stream) ID() uuid.UUID {
	return uuid.UUID(s.id)
}

// Stage returns the stage name stamped on events.
func (s *Stream) Stage() string {
	return s.stage
}

// Emit appends evt to every live subscription. Events emitted after Close
// are dropped.
func (s *Stream) Emit(evt Event) {
	if evt.OperationID == [16]byte{} {
		evt.OperationID = s.id
	}
	if evt.Stage == "" {
		evt.Stage = s.stage
	}
	if evt.TS.IsZero() {
		evt.TS = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for sub := range s.subs {
		sub.push(evt)
	}
}

// Subscribe attaches a new subscriber. Subscribing to a closed stream yields
// a subscription that reports ErrStreamClosed immediately.
func (s *Stream) Subscribe() *Subscription {
	sub := &Subscription{
		stream: s,
		notify: make(chan struct{}, 1),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.ended = true
		return sub
	}
	s.subs[sub] = struct{}{}
	return sub
}

// Subscribers reports the number of attached subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close ends the stream. Subscribers still receive events queued before the
// close, then ErrStreamClosed. Safe to call multiple times.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for sub := range s.subs {
		sub.end()
	}
	s.subs = nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the stream closes.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) detach(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// Subscription is one subscriber's view of a Stream.
type Subscription struct {
	stream *Stream
	notify chan struct{}

	mu    sync.Mutex
	queue []Event
	ended bool
}

func (sub *Subscription) push(evt Event) {
	sub.mu.Lock()
	if sub.ended {
		sub.mu.Unlock()
		return
	}
	sub.queue = append(sub.queue, evt)
	sub.mu.Unlock()
	sub.wake()
}

func (sub *Subscription) end() {
	sub.mu.Lock()
	sub.ended = true
	sub.mu.Unlock()
	sub.wake()
}

func (sub *Subscription) wake() {
	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

// Next blocks until the next event is available, the stream closes or ctx
// ends.
func (sub *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		sub.mu.Lock()
		if len(sub.queue) > 0 {
			evt := sub.queue[0]
			sub.queue[0] = Event{}
			sub.queue = sub.queue[1:]
			sub.mu.Unlock()
			return evt, nil
		}
		ended := sub.ended
		sub.mu.Unlock()
		if ended {
			return Event{}, ErrStreamClosed
		}
		select {
		case <-ctx.Done():
			return Event{}, errors.Wrap(ctx.Err(), "progress subscription canceled")
		case <-sub.notify:
		}
	}
}

// Forward calls fn for each event until the stream closes (nil) or ctx ends.
func (sub *Subscription) Forward(ctx context.Context, fn func(Event)) error {
	for {
		evt, err := sub.Next(ctx)
		if errors.Is(err, ErrStreamClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		fn(evt)
	}
}

// Close detaches the subscription; pending events are discarded.
func (sub *Subscription) Close() {
	sub.stream.detach(sub)
	sub.mu.Lock()
	sub.ended = true
	sub.queue = nil
	sub.mu.Unlock()
	sub.wake()
}
