package sinks

import (
	"context"
	"sync"

	"github.com/SF-300/vigilant-disco/internal/progress"
)

const defaultRecentSize = 512

// RecentSink keeps the newest events in a fixed-size ring and notifies
// listeners as batches arrive. It backs the live activity views.
type RecentSink struct {
	mu    sync.Mutex
	buf   []progress.Event
	head  int
	count int

	listeners []func([]progress.Event)
}

// NewRecentSink creates a ring holding up to size events.
func NewRecentSink(size int) *RecentSink {
	if size <= 0 {
		size = defaultRecentSize
	}
	return &RecentSink{buf: make([]progress.Event, size)}
}

// OnBatch registers fn to be called with every consumed batch.
func (s *RecentSink) OnBatch(fn func([]progress.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Consume appends the batch, overwriting the oldest entries when full.
func (s *RecentSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	for _, evt := range batch {
		s.buf[s.head] = evt
		s.head = (s.head + 1) % len(s.buf)
		if s.count < len(s.buf) {
			s.count++
		}
	}
	listeners := append(([]func([]progress.Event))(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(batch)
	}
	return nil
}

// Last returns up to n of the newest events, oldest first.
func (s *RecentSink) Last(n int) []progress.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || s.count == 0 {
		return nil
	}
	if n > s.count {
		n = s.count
	}
	out := make([]progress.Event, n)
	start := (s.head - n + len(s.buf)) % len(s.buf)
	for i := 0; i < n; i++ {
		out[i] = s.buf[(start+i)%len(s.buf)]
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *RecentSink) Close(context.Context) error {
	return nil
}
