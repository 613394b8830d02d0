// Package containerwatch receives container-runtime lifecycle updates
// over a bounded, labeled channel and rate-limits their delivery to
// the queue manager, coalescing bursts the way a tapped net.Listener
// coalesces forwarded connections onto one buffered channel.
package containerwatch

import (
	"sync"
	"time"

	"github.com/estuary/logtail/internal/protocol"
)

// DefaultWindow is the sliding window over which updates are counted.
const DefaultWindow = 3 * time.Minute

// DefaultMaxUpdates caps updates delivered within one Window.
const DefaultMaxUpdates = 10

// DefaultMinGap is the minimum spacing enforced between two delivered
// updates, regardless of window occupancy.
const DefaultMinGap = 3 * time.Second

// Watch receives ContainerUpdate messages on a bounded channel,
// coalesces same-config bursts, and rate-limits delivery to
// downstream consumers registered via Subscribe.
type Watch struct {
	mu         sync.Mutex
	updates    chan protocol.ContainerUpdate
	window     time.Duration
	maxUpdates int
	minGap     time.Duration

	recent   []time.Time
	lastSent time.Time
	pending  map[string]protocol.ContainerUpdate
	order    []string

	consumer func(protocol.ContainerUpdate)
}

// NewWatch returns a Watch with the default window/max-updates/min-gap
// configuration. Capacity bounds the inbound channel's buffer.
func NewWatch(capacity int) *Watch {
	return NewWatchWithPolicy(capacity, DefaultWindow, DefaultMaxUpdates, DefaultMinGap)
}

// NewWatchWithPolicy returns a Watch with an explicit rate-limiting
// policy, letting tests exercise the coalescing logic without waiting
// out the production window/min-gap.
func NewWatchWithPolicy(capacity int, window time.Duration, maxUpdates int, minGap time.Duration) *Watch {
	return &Watch{
		updates:    make(chan protocol.ContainerUpdate, capacity),
		window:     window,
		maxUpdates: maxUpdates,
		minGap:     minGap,
		pending:    make(map[string]protocol.ContainerUpdate),
	}
}

// Push delivers an update onto the bounded inbound channel. It returns
// protocol.RejectedFull if the channel is saturated.
func (w *Watch) Push(update protocol.ContainerUpdate) protocol.PushResult {
	select {
	case w.updates <- update:
		return protocol.Accepted
	default:
		return protocol.RejectedFull
	}
}

// Subscribe registers the single consumer invoked for each update
// release. Only one subscriber is supported, matching the queue
// manager being the sole downstream per spec.
func (w *Watch) Subscribe(consumer func(protocol.ContainerUpdate)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.consumer = consumer
}

// Run drains the inbound channel, coalescing updates per config name
// and releasing them to the subscribed consumer no faster than the
// window/min-gap policy allows. It returns when the channel is closed.
func (w *Watch) Run() {
	var ticker = time.NewTicker(w.minGap)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-w.updates:
			if !ok {
				w.flush()
				return
			}
			w.coalesce(update)
		case <-ticker.C:
			w.tryRelease()
		}
	}
}

// Close signals Run to drain remaining buffered updates and return.
func (w *Watch) Close() {
	close(w.updates)
}

func (w *Watch) coalesce(update protocol.ContainerUpdate) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.pending[update.ConfigName]; !exists {
		w.order = append(w.order, update.ConfigName)
	}
	w.pending[update.ConfigName] = update
}

func (w *Watch) tryRelease() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.releaseLocked(time.Now())
}

func (w *Watch) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(w.order) > 0 {
		w.releaseLocked(time.Now())
	}
}

func (w *Watch) releaseLocked(now time.Time) {
	if len(w.order) == 0 {
		return
	}
	if now.Sub(w.lastSent) < w.minGap {
		return
	}

	w.pruneWindow(now)
	if len(w.recent) >= w.maxUpdates {
		return
	}

	var name = w.order[0]
	w.order = w.order[1:]
	var update = w.pending[name]
	delete(w.pending, name)

	w.recent = append(w.recent, now)
	w.lastSent = now

	if w.consumer != nil {
		w.consumer(update)
	}
}

func (w *Watch) pruneWindow(now time.Time) {
	var cutoff = now.Add(-w.window)
	var i = 0
	for ; i < len(w.recent); i++ {
		if w.recent[i].After(cutoff) {
			break
		}
	}
	w.recent = w.recent[i:]
}
