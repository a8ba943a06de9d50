package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

// TestNextOccurrenceResolvesOnce verifies the future takes the first payload
// and detaches its listener immediately.
func TestNextOccurrenceResolvesOnce(t *testing.T) {
	t.Parallel()

	sig := NewSignal[string]()
	fut := NextOccurrence[string](sig)
	require.Equal(t, 1, sig.Listeners())

	require.Equal(t, 1, sig.Emit("first"))
	require.Equal(t, 0, sig.Listeners())
	require.Equal(t, 0, sig.Emit("second"))

	got, err := fut.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", got)
}

// TestAwaitBeforeEmit verifies a waiting goroutine is woken by the event.
func TestAwaitBeforeEmit(t *testing.T) {
	t.Parallel()

	sig := NewSignal[struct{}]()
	fut := NextOccurrence[struct{}](sig)
	done := make(chan error, 1)
	go func() {
		_, err := fut.Await(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool { return sig.Listeners() == 1 }, time.Second, time.Millisecond)
	sig.Emit(struct{}{})
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("await did not resolve")
	}
}

// TestAwaitCancellationDetaches ensures no listener leaks across cancellation.
func TestAwaitCancellationDetaches(t *testing.T) {
	t.Parallel()

	sig := NewSignal[int]()
	fut := NextOccurrence[int](sig)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fut.Await(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, sig.Listeners())
}

// TestAwaitTwiceIsAssertion ensures reusing a consumed future is reported as
// a lifecycle error.
func TestAwaitTwiceIsAssertion(t *testing.T) {
	t.Parallel()

	sig := NewSignal[int]()
	fut := NextOccurrence[int](sig)
	sig.Emit(1)
	_, err := fut.Await(context.Background())
	require.NoError(t, err)

	_, err = fut.Await(context.Background())
	require.True(t, errors.Is(err, ErrReused))
	require.True(t, errors.HasAssertionFailure(err))
}

// TestSignalFiresOnceUnderConcurrentEmit verifies at most one payload is
// accepted when many goroutines emit at once.
func TestSignalFiresOnceUnderConcurrentEmit(t *testing.T) {
	t.Parallel()

	sig := NewSignal[int]()
	fut := NextOccurrence[int](sig)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig.Emit(i)
		}()
	}
	wg.Wait()

	_, err := fut.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, sig.Listeners())
	require.Empty(t, fut.value)
}

// TestSignalDisconnectIdempotent ensures disconnect functions can be called twice.
func TestSignalDisconnectIdempotent(t *testing.T) {
	t.Parallel()

	sig := NewSignal[int]()
	var calls int
	disconnect := sig.Connect(func(int) { calls++ })
	sig.Emit(1)
	disconnect()
	disconnect()
	sig.Emit(2)
	require.Equal(t, 1, calls)
}
