// Package bridge converts callback-style notifications into values a
// goroutine can wait for. Signal is the in-process event source driven by
// UI and API handlers; NextOccurrence turns its next firing into a Future.
package bridge

import "sync"

// Source is anything that can deliver payloads to connected slots. Connect
// returns the function that removes the slot again.
type Source[P any] interface {
	Connect(slot func(P)) (disconnect func())
}

// Signal is a multi-listener event source. Slots run synchronously on the
// emitting goroutine, outside the signal's lock, so a slot may disconnect
// itself.
type Signal[P any] struct {
	mu    sync.Mutex
	next  uint64
	slots map[uint64]func(P)
}

// NewSignal returns a signal with no listeners.
func NewSignal[P any]() *Signal[P] {
	return &Signal[P]{slots: make(map[uint64]func(P))}
}

// Connect registers slot and returns its disconnect function. Disconnecting
// twice is harmless.
func (s *Signal[P]) Connect(slot func(P)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.slots[id] = slot
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.slots, id)
		})
	}
}

// Emit calls every connected slot with payload and returns how many were
// notified.
func (s *Signal[P]) Emit(payload P) int {
	s.mu.Lock()
	slots := make([]func(P), 0, len(s.slots))
	for _, slot := range s.slots {
		slots = append(slots, slot)
	}
	s.mu.Unlock()
	for _, slot := range slots {
		slot(payload)
	}
	return len(slots)
}

// Listeners reports the number of connected slots.
func (s *Signal[P]) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
