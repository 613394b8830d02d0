package engine

import (
	"context"
	"time"

	"github.com/estuary/logtail/internal/alarm"
	"github.com/estuary/logtail/internal/checkpoint"
	"github.com/estuary/logtail/internal/exactlyonce"
	"github.com/estuary/logtail/internal/framer"
	"github.com/estuary/logtail/internal/protocol"
	"github.com/estuary/logtail/internal/queue"
	"github.com/estuary/logtail/internal/reader"
	log "github.com/sirupsen/logrus"
)

// idlePollInterval is how often a Tracker re-checks a file that had no
// new bytes on its last read, and how often it retries a push rejected
// for being over capacity.
const idlePollInterval = 200 * time.Millisecond

// normalReadSize is the bounded read length requested outside replay.
const normalReadSize = 1 << 20

// queueItem is what a Tracker pushes onto a Pair's Process queue, and
// what the process and sender pools pass along: the EventGroup plus
// the ack closure that commits the read once the group is durably
// handed to the Sink. For normal-mode files ack is the aggregate
// checkpoint write; for exactly-once files it is EOOption.Ack+Persist.
type queueItem struct {
	group protocol.EventGroup
	ack   func()
}

// Tracker owns one open file: its Reader, Framer, optional exactly-once
// binding, and the RoutingKey/Pair it feeds raw record groups into.
// One Tracker runs for the lifetime of one tracked file, occupying one
// slot of the reader worker pool.
type Tracker struct {
	Identity   protocol.FileIdentity
	Path       string
	ConfigName string

	reader   *reader.Reader
	framer   framer.Framer
	encoding reader.SourceEncoding
	routing  protocol.RoutingKey
	pair     *queue.Pair
	eo       *exactlyonce.EOOption
	wake     chan struct{}

	aggStore *checkpoint.AggregateStore
	eoStore  *checkpoint.ExactlyOnceStore
	alarms   *alarm.Limiter

	seq         uint64
	nextSlot    int
	concurrency int
}

// Pump drives one Tracker until ctx is canceled: read available bytes,
// frame them into Records, wrap each in a raw EventGroup, and push it
// onto the bound Pair's Process queue, parking (bounded by
// idlePollInterval) when there is nothing new to read or the queue is
// over capacity.
func (t *Tracker) Pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return t.reader.Close()
		default:
		}

		var advanced, err = t.step()
		if err != nil {
			log.WithError(err).WithField("path", t.Path).Warn("tracker step failed")
			t.alarms.Raise(alarm.Key{Kind: "tracker_step_failed", Project: t.ConfigName}, log.Fields{"path": t.Path}, "tracker step failed")
		}

		if !advanced {
			select {
			case <-ctx.Done():
				return t.reader.Close()
			case <-t.wake:
			case <-time.After(idlePollInterval):
			}
		}
	}
}

// step performs one read-frame-enqueue cycle, returning whether
// progress was made (so Pump knows whether to park).
func (t *Tracker) step() (advanced bool, err error) {
	if t.eo != nil {
		return t.stepExactlyOnce()
	}
	return t.stepNormal()
}

func (t *Tracker) stepNormal() (bool, error) {
	data, base, _, err := t.reader.ReadOnce()
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}

	var result = t.framer.Feed(data, t.Identity, base, t.seq)
	if len(result.Records) == 0 && result.Consumed == 0 {
		return false, nil
	}

	var group = t.buildGroup(result.Records)
	var newOffset = base + result.Consumed
	var item = queueItem{group: group, ack: func() { t.commitNormal(newOffset) }}

	if len(group.Events) > 0 {
		if t.pair.Process.TryPush(item) == protocol.RejectedFull {
			return false, nil
		}
	}

	t.carryRollback(data, result)
	t.reader.Advance(result.Consumed)
	return true, nil
}

// carryRollback stashes a Feed result's unconsumed trailing bytes into
// the Reader's carry buffer, so the next ReadOnce picks them up without
// re-reading that span from disk.
func (t *Tracker) carryRollback(data []byte, result framer.Result) {
	if result.Rollback <= 0 {
		t.reader.State.PendingCarry = nil
		return
	}
	t.reader.State.PendingCarry = append([]byte(nil), data[len(data)-int(result.Rollback):]...)
}

func (t *Tracker) stepExactlyOnce() (bool, error) {
	var currentOffset = t.reader.State.Offset
	var plan = t.eo.NextPlan(currentOffset, normalReadSize)

	if plan.IsReplay {
		var available = t.reader.State.LastSize - plan.Offset
		if !t.eo.ValidateReplay(plan, currentOffset, available, t.alarms) {
			// Replay set discarded; fall through to a normal read on
			// the next call, resuming from the last committed offset.
			t.reader.State.Offset = t.eo.LastCommittedOffset()
			return true, nil
		}

		data, err := t.reader.ReadRange(plan.Offset, plan.Length)
		if err != nil {
			return false, err
		}
		var result = t.framer.Feed(data, t.Identity, plan.Offset, t.seq)
		var group = t.buildGroup(result.Records)
		var slot = plan.Slot
		var item = queueItem{group: group, ack: func() { t.commitExactlyOnce(slot) }}
		if len(group.Events) == 0 || t.pair.Process.TryPush(item) == protocol.Accepted {
			// This range has been re-read and handed off (or was empty);
			// it must not be offered again as a replay target. It stays
			// pending in eo.slots until the ack arrives.
			t.eo.CompleteReplay(slot)
			return true, nil
		}
		return false, nil
	}

	data, base, _, err := t.reader.ReadOnce()
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}

	var result = t.framer.Feed(data, t.Identity, base, t.seq)
	if len(result.Records) == 0 && result.Consumed == 0 {
		return false, nil
	}

	var group = t.buildGroup(result.Records)
	var slot = t.nextSlot
	t.nextSlot = (t.nextSlot + 1) % t.concurrency
	t.eo.RecordRead(slot, base, result.Consumed, t.seq)

	var item = queueItem{group: group, ack: func() { t.commitExactlyOnce(slot) }}
	if len(group.Events) > 0 {
		if t.pair.Process.TryPush(item) == protocol.RejectedFull {
			return false, nil
		}
	}

	t.carryRollback(data, result)
	t.reader.Advance(result.Consumed)
	return true, nil
}

func (t *Tracker) buildGroup(records []protocol.Record) protocol.EventGroup {
	var group protocol.EventGroup
	group.RoutingKey = t.routing
	for _, rec := range records {
		line, _ := reader.DecodeLine(t.encoding, rec.Data)
		group.Events = append(group.Events, protocol.Event{Raw: line})
	}
	t.seq += uint64(len(records))
	return group
}

// commitNormal persists the new read offset into the aggregate store,
// invoked once the group has been handed to the Sink.
func (t *Tracker) commitNormal(newOffset int64) {
	t.aggStore.Put(protocol.CompositeKey(t.Path, t.Identity), protocol.CheckpointRecord{
		Identity:   t.Identity,
		RealPath:   t.Path,
		Offset:     newOffset,
		Signature:  t.reader.State.Signature,
		UpdateTime: time.Now(),
		ConfigName: t.ConfigName,
	})
}

// commitExactlyOnce acks the slot and persists the updated document.
func (t *Tracker) commitExactlyOnce(slot int) {
	t.eo.Ack(slot)
	if err := t.eo.Persist(t.eoStore, t.reader.State.Signature, slot); err != nil {
		log.WithError(err).WithField("path", t.Path).Warn("failed to persist exactly-once checkpoint")
	}
}
