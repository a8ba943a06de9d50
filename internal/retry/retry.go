// Package retry runs calls again after transient failures using jittered
// exponential backoff.
package retry

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"net"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 250 * time.Millisecond
	defaultMaxDelay    = 5 * time.Second
)

// errPermanent marks errors that must not be retried.
var errPermanent = errors.New("permanent failure")

// Permanent marks err so Do returns it without another attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errPermanent)
}

// Policy is an exponential backoff policy. Zero fields take defaults: three
// attempts, 250ms base delay, 5s cap.
type Policy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	return p
}

// ShouldRetry reports whether attempt (1-based) may be followed by another.
// Cancellation, permanent errors and non-timeout network errors stop retries.
func (p Policy) ShouldRetry(err error, attempt int) bool {
	p = p.withDefaults()
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, errPermanent) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the wait before the attempt following attempt. The delay
// doubles per attempt up to MaxDelay; half of it is random jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + jitter(half)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Do calls fn until it succeeds, the policy gives up or ctx ends. onRetry,
// when set, observes each failed attempt that will be retried. The last
// error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error, onRetry func(attempt int, err error)) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if !p.ShouldRetry(err, attempt) {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.CombineErrors(err, ctx.Err())
		case <-timer.C:
		}
	}
}
