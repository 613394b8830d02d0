package queue

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/estuary/logtail/internal/protocol"
)

// DefaultGCTick is the default interval between garbage-collection
// rounds over routing keys marked for deletion.
const DefaultGCTick = 30 * time.Second

// DefaultGCBudget bounds how long one GC round may run.
const DefaultGCBudget = 500 * time.Millisecond

// Pair is the ProcessQueue/SenderQueue pair bound to one RoutingKey.
type Pair struct {
	Key      protocol.RoutingKey
	Process  *Bounded
	Sender   *Bounded
	priority int

	refCount    int
	markedForGC bool
	weight      uint32
	elem        *list.Element
}

// Manager owns all routing-key queue pairs, organizes them into
// priority levels for scheduling, and runs the periodic, time-budgeted
// garbage collector over keys whose queues have drained.
type Manager struct {
	mu          sync.Mutex
	pairs       map[protocol.RoutingKey]*Pair
	levels      map[int]*list.List
	weights     []uint32
	weightNext  int
	visits      int
	gcBudget    time.Duration
	defaultCap  int
	defaultHigh int
	defaultLow  int
}

// NewManager returns an empty Manager. defaultCap/High/Low size newly
// created queue pairs unless overridden at creation time.
func NewManager(defaultCap, defaultHigh, defaultLow int) *Manager {
	return &Manager{
		pairs:       make(map[protocol.RoutingKey]*Pair),
		levels:      make(map[int]*list.List),
		weights:     stableWeights(4096),
		gcBudget:    DefaultGCBudget,
		defaultCap:  defaultCap,
		defaultHigh: defaultHigh,
		defaultLow:  defaultLow,
	}
}

func (m *Manager) nextWeight() uint32 {
	var w = m.weights[m.weightNext%len(m.weights)]
	m.weightNext++
	return w
}

// GetOrCreate returns the existing Pair for key, or creates one at the
// given priority. Re-creating a Pair previously marked for GC cancels
// the pending deletion.
func (m *Manager) GetOrCreate(key protocol.RoutingKey, priority int) *Pair {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.pairs[key]; ok {
		p.markedForGC = false
		p.refCount++
		return p
	}

	var p = &Pair{
		Key:      key,
		Process:  NewBounded(m.defaultCap, m.defaultHigh, m.defaultLow),
		Sender:   NewBounded(m.defaultCap, m.defaultHigh, m.defaultLow),
		priority: priority,
		refCount: 1,
		weight:   m.nextWeight(),
	}
	m.pairs[key] = p
	m.insertIntoLevel(p)
	return p
}

func (m *Manager) insertIntoLevel(p *Pair) {
	var l = m.levels[p.priority]
	if l == nil {
		l = list.New()
		m.levels[p.priority] = l
	}
	p.elem = l.PushBack(p)
}

// SetPriority moves key's Pair to a new priority level in O(1) via
// list-splice rather than a full rebuild.
func (m *Manager) SetPriority(key protocol.RoutingKey, newPriority int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pairs[key]
	if !ok {
		return false
	}
	if p.priority == newPriority {
		return true
	}
	m.levels[p.priority].Remove(p.elem)
	p.priority = newPriority
	m.insertIntoLevel(p)
	return true
}

// MarkForGC flags key's Pair as eligible for deletion on the next GC
// round that observes both queues empty.
func (m *Manager) MarkForGC(key protocol.RoutingKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pairs[key]; ok {
		p.markedForGC = true
	}
}

// RunGCOnce performs one time-budgeted garbage-collection round,
// deleting marked-for-GC pairs whose queues are both empty. It returns
// the number of pairs collected.
func (m *Manager) RunGCOnce() int {
	var deadline = time.Now().Add(m.gcBudget)
	var collected int

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, p := range m.pairs {
		if time.Now().After(deadline) {
			break
		}
		if !p.markedForGC {
			continue
		}
		if !p.Process.Empty() || !p.Sender.Empty() {
			continue
		}
		m.levels[p.priority].Remove(p.elem)
		delete(m.pairs, key)
		collected++
	}
	return collected
}

// Visit calls fn once for every Pair, ordered by descending priority
// level and, within a level, by a stable rendezvous-weight tie-break
// rather than raw insertion order. That order is rotated by one
// position on each call, giving round-robin fairness across
// equal-priority keys.
func (m *Manager) Visit(fn func(*Pair)) {
	m.mu.Lock()
	var priorities = make([]int, 0, len(m.levels))
	for lvl := range m.levels {
		priorities = append(priorities, lvl)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

	var ordered []*Pair
	for _, lvl := range priorities {
		var bucket []*Pair
		for e := m.levels[lvl].Front(); e != nil; e = e.Next() {
			bucket = append(bucket, e.Value.(*Pair))
		}
		sort.Slice(bucket, func(i, j int) bool {
			return hashCombine(uint32(bucket[i].Key), bucket[i].weight) >
				hashCombine(uint32(bucket[j].Key), bucket[j].weight)
		})
		if n := len(bucket); n > 1 {
			var shift = m.visits % n
			bucket = append(append([]*Pair(nil), bucket[shift:]...), bucket[:shift]...)
		}
		ordered = append(ordered, bucket...)
	}
	m.visits++
	m.mu.Unlock()

	for _, p := range ordered {
		fn(p)
	}
}

// Lookup returns the Pair for key, if any.
func (m *Manager) Lookup(key protocol.RoutingKey) (*Pair, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairs[key]
	return p, ok
}
