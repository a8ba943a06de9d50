// Package queue defines the FIFO contract that links pipeline stages and the
// capacity policies a bounded queue may apply. The in-process implementation
// lives in queue/memory.
package queue

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrClosed is returned by Pop once the queue is closed and drained, and
	// by Push after Close.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned by Push on a bounded queue using PolicyReject.
	ErrFull = errors.New("queue full")
)

// Queue is a context-aware FIFO shared by one producer side and one
// consumer side.
type Queue[T any] interface {
	// Push appends item. It blocks only for bounded queues using PolicyBlock.
	Push(ctx context.Context, item T) error
	// Pop removes the oldest item, blocking while the queue is empty.
	Pop(ctx context.Context) (T, error)
	// Len reports the number of queued items.
	Len() int
	// Close stops accepting items; queued items can still be popped.
	Close()
}

// DropCounter is implemented by queues that can discard items under
// PolicyDropOldest.
type DropCounter interface {
	Dropped() uint64
}

// Policy decides what a bounded queue does with a push when it is full.
type Policy string

// Supported overflow policies.
const (
	PolicyBlock      Policy = "block"
	PolicyDropOldest Policy = "drop-oldest"
	PolicyReject     Policy = "reject"
)

// Config sizes a queue. Capacity <= 0 means unbounded, which ignores Policy.
type Config struct {
	Capacity int    `mapstructure:"capacity"`
	Policy   Policy `mapstructure:"policy"`
}

// Bounded reports whether the configuration limits the queue depth.
func (c Config) Bounded() bool {
	return c.Capacity > 0
}

// ParsePolicy maps a config string to a Policy. Empty selects PolicyBlock.
func ParsePolicy(raw string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PolicyBlock, nil
	case PolicyBlock, PolicyDropOldest, PolicyReject:
		return p, nil
	default:
		return "", errors.Newf("unknown queue policy %q", raw)
	}
}
