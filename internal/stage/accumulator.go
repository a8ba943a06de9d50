package stage

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Entry is one accumulated result awaiting release.
type Entry[T any] struct {
	Seq     uint64
	Value   T
	Marked  bool
	AddedAt time.Time
}

// Accumulator holds the results a stage has produced but not yet released.
// Every method completes its mutation under the lock, so readers never see a
// partially applied change.
type Accumulator[T any] struct {
	mu      sync.Mutex
	next    uint64
	entries []Entry[T]
	limit   int
	changed chan struct{}
	now     func() time.Time
}

// NewAccumulator returns an empty accumulator. A positive limit makes
// WaitRoom block while the accumulator holds limit entries or more. The limit
// is soft: Add never refuses values, so results of operations already in
// flight can take the accumulator past it.
func NewAccumulator[T any](limit int) *Accumulator[T] {
	return &Accumulator[T]{
		next:    1,
		limit:   limit,
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// notify wakes everyone waiting on Changed. Caller holds mu.
func (a *Accumulator[T]) notify() {
	close(a.changed)
	a.changed = make(chan struct{})
}

// Add appends values marked for release and returns their sequence numbers.
func (a *Accumulator[T]) Add(values ...T) []uint64 {
	if len(values) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	at := a.now()
	seqs := make([]uint64, 0, len(values))
	for _, v := range values {
		a.entries = append(a.entries, Entry[T]{Seq: a.next, Value: v, Marked: true, AddedAt: at})
		seqs = append(seqs, a.next)
		a.next++
	}
	a.notify()
	return seqs
}

// Entries returns a snapshot in insertion order.
func (a *Accumulator[T]) Entries() []Entry[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Entry[T](nil), a.entries...)
}

// Selected returns a snapshot of the marked entries.
func (a *Accumulator[T]) Selected() []Entry[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Entry[T]
	for _, e := range a.entries {
		if e.Marked {
			out = append(out, e)
		}
	}
	return out
}

// Mark sets the mark of the entry with seq. It reports whether the entry
// exists.
func (a *Accumulator[T]) Mark(seq uint64, marked bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.entries {
		if a.entries[i].Seq == seq {
			if a.entries[i].Marked != marked {
				a.entries[i].Marked = marked
				a.notify()
			}
			return true
		}
	}
	return false
}

// MarkAll sets the mark of every entry and returns how many changed.
func (a *Accumulator[T]) MarkAll(marked bool) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for i := range a.entries {
		if a.entries[i].Marked != marked {
			a.entries[i].Marked = marked
			n++
		}
	}
	if n > 0 {
		a.notify()
	}
	return n
}

// Remove deletes the entries with the given sequence numbers and returns how
// many were present. Unknown numbers are ignored, so removing twice is safe.
func (a *Accumulator[T]) Remove(seqs ...uint64) int {
	if len(seqs) == 0 {
		return 0
	}
	drop := make(map[uint64]struct{}, len(seqs))
	for _, s := range seqs {
		drop[s] = struct{}{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.entries[:0]
	removed := 0
	for _, e := range a.entries {
		if _, ok := drop[e.Seq]; ok {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	clear(a.entries[len(kept):])
	a.entries = kept
	if removed > 0 {
		a.notify()
	}
	return removed
}

// Len reports the number of accumulated entries.
func (a *Accumulator[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Changed returns a channel closed on the next mutation.
func (a *Accumulator[T]) Changed() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.changed
}

// WaitRoom blocks until the accumulator is below its limit or ctx ends.
func (a *Accumulator[T]) WaitRoom(ctx context.Context) error {
	if a.limit <= 0 {
		return nil
	}
	for {
		a.mu.Lock()
		full := len(a.entries) >= a.limit
		changed := a.changed
		a.mu.Unlock()
		if !full {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait for accumulator room")
		case <-changed:
		}
	}
}
