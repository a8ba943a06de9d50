package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	total := 0
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sinkFunc(func(_ context.Context, batch []Event) error {
		total += len(batch)
		return nil
	}))

	hub.Emit(Event{
		OperationID: UUIDToBytes(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:          time.Unix(0, 0),
		Role:        RoleSystem,
		Text:        "extracting",
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", total)
	// Output:
	// events forwarded: 1
}

// ExampleStream_Subscribe shows that a subscriber only sees events emitted
// after it attached.
func ExampleStream_Subscribe() {
	stream := NewStream(uuid.MustParse("00000000-0000-0000-0000-000000000002"), WithStage("export"))
	stream.Emit(Event{Role: RoleSystem, Text: "before"})

	sub := stream.Subscribe()
	stream.Emit(Event{Role: RoleExport, Text: "after"})
	stream.Close()

	_ = sub.Forward(context.Background(), func(evt Event) {
		fmt.Printf("%s %s: %s\n", evt.Stage, evt.Role, evt.Text)
	})
	// Output:
	// export export: after
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
