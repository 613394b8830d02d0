// Package queue implements the bounded, priority-ordered process and
// sender queue subsystem: capacity/watermark-bounded queues,
// feedback-driven backpressure, priority scheduling, and routing-key
// garbage collection.
package queue

import (
	"sync"

	"github.com/estuary/logtail/internal/protocol"
)

// Feedback is invoked when a queue drains past its low watermark,
// waking a parked upstream producer. Feedback is invoked under the
// downstream queue's own lock release (never while holding another
// queue's lock), per the engine's shared-resource policy.
type Feedback func()

// Bounded is a single bounded FIFO queue with high/low watermarks and
// a registered drain Feedback.
type Bounded struct {
	mu       sync.Mutex
	items    []any
	capacity int
	high     int
	low      int
	feedback Feedback
	poppable bool
	// saturated is set once a Pop observes the high watermark and
	// cleared when the queue drains to the low watermark.
	saturated bool
}

// NewBounded returns a Bounded queue with the given capacity and
// watermarks. high and low must satisfy 0 <= low <= high <= capacity.
func NewBounded(capacity, high, low int) *Bounded {
	return &Bounded{
		capacity: capacity,
		high:     high,
		low:      low,
		poppable: true,
	}
}

// SetFeedback registers the callback invoked after a Pop drains the
// queue from at-or-above the high watermark down to at-or-below the
// low watermark.
func (b *Bounded) SetFeedback(fb Feedback) {
	b.mu.Lock()
	b.feedback = fb
	b.mu.Unlock()
}

// TryPush appends item if capacity allows, returning Accepted or
// RejectedFull. The caller must park and await Feedback on RejectedFull.
func (b *Bounded) TryPush(item any) protocol.PushResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.capacity {
		return protocol.RejectedFull
	}
	b.items = append(b.items, item)
	return protocol.Accepted
}

// Pop removes and returns the oldest item, invoking Feedback if the
// queue just drained past its low watermark. ok is false if the queue
// is empty or marked non-poppable.
func (b *Bounded) Pop() (item any, ok bool) {
	b.mu.Lock()
	if !b.poppable || len(b.items) == 0 {
		b.mu.Unlock()
		return nil, false
	}

	if len(b.items) >= b.high {
		b.saturated = true
	}
	item = b.items[0]
	b.items = b.items[1:]
	var drained = b.saturated && len(b.items) <= b.low
	if drained {
		b.saturated = false
	}
	var fb = b.feedback
	b.mu.Unlock()

	if drained && fb != nil {
		fb()
	}
	return item, true
}

// Len returns the current queue depth.
func (b *Bounded) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Empty reports whether the queue currently holds no items.
func (b *Bounded) Empty() bool {
	return b.Len() == 0
}

// InvalidatePop marks the queue non-poppable without discarding queued
// items; a later ValidatePop re-enables popping.
func (b *Bounded) InvalidatePop() {
	b.mu.Lock()
	b.poppable = false
	b.mu.Unlock()
}

// ValidatePop re-enables popping after a prior InvalidatePop.
func (b *Bounded) ValidatePop() {
	b.mu.Lock()
	b.poppable = true
	b.mu.Unlock()
}
