package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLimiterWait verifies the second call for a key waits for a token.
func TestLimiterWait(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "10.0.0.1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "10.0.0.1"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

// TestLimiterKeysAreIndependent ensures one client does not throttle another.
func TestLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 1})
	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	require.True(t, l.Allow("b"))
}

// TestLimiterDisabled lets everything through without a positive rate.
func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.False(t, l.Enabled())
	for range 100 {
		require.True(t, l.Allow("a"))
	}
	require.NoError(t, l.Wait(context.Background(), "a"))

	var nilLimiter *Limiter
	require.True(t, nilLimiter.Allow("a"))
}

// TestLimiterWaitCanceled returns the context error while waiting.
func TestLimiterWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.001, Burst: 1})
	require.True(t, l.Allow("a"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "a"))
}
