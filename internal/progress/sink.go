package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Stream and Hub both satisfy it, so
// domain code never learns whether it is talking to a live subscriber list or
// the batching collector.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a plain function to the Emitter interface.
type EmitterFunc func(evt Event)

// Emit calls f(evt).
func (f EmitterFunc) Emit(evt Event) {
	f(evt)
}

// Discard is an Emitter that drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})
