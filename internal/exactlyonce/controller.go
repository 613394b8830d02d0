// Package exactlyonce coordinates N parallel in-flight read ranges per
// file so that, on restart, the agent replays only uncommitted ranges
// and then resumes continuous reading.
package exactlyonce

import (
	"sort"
	"sync"

	"github.com/estuary/logtail/internal/alarm"
	"github.com/estuary/logtail/internal/checkpoint"
	"github.com/estuary/logtail/internal/protocol"
	"github.com/estuary/logtail/internal/reader"
	log "github.com/sirupsen/logrus"
)

// EOOption is the exactly-once binding held by a Reader operating in
// exactly-once mode.
type EOOption struct {
	PrimaryKey string
	RoutingKey protocol.RoutingKey

	mu               sync.Mutex
	slots            []protocol.RangeCheckpoint
	replay           []protocol.RangeCheckpoint
	lastCommittedOff int64
}

// ReadPlan describes the next read a Reader should perform.
type ReadPlan struct {
	Offset   int64
	Length   int64
	IsReplay bool
	Slot     int
}

// Bind loads or initializes the EOOption for a file, validating the
// primary checkpoint's signature against the live file. If the
// signature does not match, the exactly-once state is discarded and ok
// is false, signaling the caller to fall back to normal resumption.
func Bind(store *checkpoint.ExactlyOnceStore, primaryKey string, routingKey protocol.RoutingKey, liveHead []byte, concurrency int) (opt *EOOption, ok bool) {
	doc, found, err := store.Load(primaryKey)
	if err != nil {
		log.WithField("primary_key", primaryKey).WithError(err).Warn("exactly-once: failed to load checkpoint, starting fresh")
		found = false
	}

	if found {
		var live = reader.ComputeSignature(liveHead)
		if !live.Equal(doc.Signature) {
			log.WithField("primary_key", primaryKey).Info("exactly-once: signature mismatch, discarding state")
			return nil, false
		}
	}

	var opt2 = &EOOption{PrimaryKey: primaryKey, RoutingKey: routingKey}
	if found {
		opt2.slots = doc.Ranges
	} else {
		opt2.slots = make([]protocol.RangeCheckpoint, concurrency)
		for i := range opt2.slots {
			opt2.slots[i] = protocol.RangeCheckpoint{ConcurrencySlot: i, CommitState: protocol.CommitCommitted}
		}
	}

	opt2.rebuildReplayQueue()
	opt2.lastCommittedOff = opt2.contiguousCommittedOffset()
	return opt2, true
}

// rebuildReplayQueue seeds the replay queue from the slots pending at
// Bind time, sorted by read offset ascending. Called only from Bind —
// slots recorded or acked during this run must not re-enter it, or a
// forward read would be replayed as if it were a restart target.
func (o *EOOption) rebuildReplayQueue() {
	o.replay = o.replay[:0]
	for _, s := range o.slots {
		if s.CommitState == protocol.CommitPending {
			o.replay = append(o.replay, s)
		}
	}
	sort.Slice(o.replay, func(i, j int) bool { return o.replay[i].ReadOffset < o.replay[j].ReadOffset })
}

func (o *EOOption) contiguousCommittedOffset() int64 {
	var sorted = make([]protocol.RangeCheckpoint, len(o.slots))
	copy(sorted, o.slots)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ReadOffset < sorted[j].ReadOffset })

	var off int64
	for _, s := range sorted {
		if s.CommitState != protocol.CommitCommitted {
			break
		}
		if s.ReadOffset+s.ReadLength > off {
			off = s.ReadOffset + s.ReadLength
		}
	}
	return off
}

// NextPlan implements the read-size selection algorithm of §4.7: a
// pending replay checkpoint dictates exact offset and length; otherwise
// the normal bounded read size applies from the last committed offset.
func (o *EOOption) NextPlan(currentOffset int64, normalReadSize int64) ReadPlan {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.replay) > 0 {
		var next = o.replay[0]
		return ReadPlan{Offset: next.ReadOffset, Length: next.ReadLength, IsReplay: true, Slot: next.ConcurrencySlot}
	}
	return ReadPlan{Offset: currentOffset, Length: normalReadSize, IsReplay: false}
}

// ValidateReplay implements the replay validity check: the requested
// offset must equal the Reader's current offset, and the requested
// length must not exceed available bytes. On mismatch the entire
// replay set is dropped and an alarm raised; the caller should then
// continue from the controller's last-committed offset.
func (o *EOOption) ValidateReplay(plan ReadPlan, currentOffset, availableBytes int64, alarms *alarm.Limiter) bool {
	if !plan.IsReplay {
		return true
	}
	if plan.Offset != currentOffset || plan.Length > availableBytes {
		o.mu.Lock()
		o.replay = nil
		o.mu.Unlock()
		if alarms != nil {
			alarms.Raise(alarm.Key{Kind: "exactly_once_replay_invalid"}, log.Fields{
				"primary_key": o.PrimaryKey,
				"plan_offset": plan.Offset,
				"plan_length": plan.Length,
				"current":     currentOffset,
				"available":   availableBytes,
			}, "dropping exactly-once replay set: offset/length mismatch")
		}
		return false
	}
	return true
}

// RecordRead implements post-read bookkeeping: the active
// RangeCheckpoint for slot is updated with the read window and
// transitioned to pending. This is a forward read of this run, not a
// restart-replay target, so it never touches the replay queue — only
// slots pending at Bind time are replayed; see rebuildReplayQueue and
// CompleteReplay.
func (o *EOOption) RecordRead(slot int, offset, length int64, sequence uint64) protocol.RangeCheckpoint {
	o.mu.Lock()
	defer o.mu.Unlock()

	var rc = protocol.RangeCheckpoint{
		ConcurrencySlot: slot,
		ReadOffset:      offset,
		ReadLength:      length,
		CommitState:     protocol.CommitPending,
		Sequence:        sequence,
	}
	o.setSlot(rc)
	return rc
}

// CompleteReplay removes slot's entry from the replay queue once its
// range has actually been re-read and handed to the process queue.
// Commit state is untouched; Ack still transitions it once the Sink
// confirms delivery.
func (o *EOOption) CompleteReplay(slot int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, rc := range o.replay {
		if rc.ConcurrencySlot == slot {
			o.replay = append(o.replay[:i], o.replay[i+1:]...)
			return
		}
	}
}

// Ack transitions slot to committed and advances the last-committed
// offset to the maximum of contiguous committed offsets.
func (o *EOOption) Ack(slot int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := range o.slots {
		if o.slots[i].ConcurrencySlot == slot {
			o.slots[i].CommitState = protocol.CommitCommitted
			break
		}
	}
	o.lastCommittedOff = o.contiguousCommittedOffset()
}

// LastCommittedOffset returns the maximum contiguous committed offset.
func (o *EOOption) LastCommittedOffset() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastCommittedOff
}

func (o *EOOption) setSlot(rc protocol.RangeCheckpoint) {
	for i := range o.slots {
		if o.slots[i].ConcurrencySlot == rc.ConcurrencySlot {
			o.slots[i] = rc
			return
		}
	}
	o.slots = append(o.slots, rc)
}

// Persist writes slot's current RangeCheckpoint to the stored document:
// it loads the document, replaces that slot's entry via RangePatch, and
// writes the result through ApplyPatch. Sibling slots are written back
// as they stood in the loaded document.
func (o *EOOption) Persist(store *checkpoint.ExactlyOnceStore, signature protocol.Signature, slot int) error {
	o.mu.Lock()
	var current protocol.RangeCheckpoint
	for _, s := range o.slots {
		if s.ConcurrencySlot == slot {
			current = s
			break
		}
	}
	o.mu.Unlock()

	doc, found, err := store.Load(o.PrimaryKey)
	if err != nil {
		return err
	}
	if !found {
		doc = protocol.ExactlyOnceDocument{PrimaryKey: o.PrimaryKey, Signature: signature}
	}

	patch, err := checkpoint.RangePatch(doc, current)
	if err != nil {
		return err
	}
	_, err = store.ApplyPatch(o.PrimaryKey, patch)
	return err
}
