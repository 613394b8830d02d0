package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/estuary/logtail/internal/alarm"
	"github.com/estuary/logtail/internal/checkpoint"
	"github.com/estuary/logtail/internal/exactlyonce"
	"github.com/estuary/logtail/internal/framer"
	"github.com/estuary/logtail/internal/protocol"
	"github.com/estuary/logtail/internal/queue"
	"github.com/estuary/logtail/internal/reader"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, path string) *Tracker {
	t.Helper()
	var id = protocol.FileIdentity{Device: 1, Inode: 2, ConfigName: "app"}
	var r, err = reader.Open(path, id, reader.FromBeginning, 0)
	require.NoError(t, err)

	var mgr = queue.NewManager(64, 48, 16)
	var pair = mgr.GetOrCreate(protocol.RoutingKey(1), 0)

	return &Tracker{
		Identity:    id,
		Path:        path,
		ConfigName:  "app",
		reader:      r,
		framer:      framer.NewLineFramer(),
		encoding:    reader.EncodingUTF8,
		routing:     protocol.RoutingKey(1),
		pair:        pair,
		aggStore:    checkpoint.NewAggregateStore(filepath.Join(t.TempDir(), "agg.json"), 100),
		alarms:      alarm.New(0),
		wake:        make(chan struct{}, 1),
		concurrency: 1,
	}
}

func TestTrackerStepPushesOneEventPerLine(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o644))

	var tr = newTestTracker(t, path)

	var advanced, err = tr.step()
	require.NoError(t, err)
	require.True(t, advanced)

	var raw, ok = tr.pair.Process.Pop()
	require.True(t, ok)
	var item = raw.(queueItem)
	require.Len(t, item.group.Events, 2)
	require.Equal(t, "one", string(item.group.Events[0].Raw))
	require.Equal(t, "two", string(item.group.Events[1].Raw))
}

func TestTrackerStepCommitsOffsetOnAck(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o644))

	var tr = newTestTracker(t, path)
	_, err := tr.step()
	require.NoError(t, err)

	raw, ok := tr.pair.Process.Pop()
	require.True(t, ok)
	var item = raw.(queueItem)
	item.ack()

	var rec, found = tr.aggStore.Get(protocol.CompositeKey(path, tr.Identity))
	require.True(t, found)
	require.Equal(t, int64(4), rec.Offset)
}

func TestTrackerStepReturnsFalseWhenNoNewBytes(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	var tr = newTestTracker(t, path)
	var advanced, err = tr.step()
	require.NoError(t, err)
	require.False(t, advanced)
}

func newExactlyOnceTestTracker(t *testing.T, path string, concurrency int) *Tracker {
	t.Helper()
	var id = protocol.FileIdentity{Device: 1, Inode: 3, ConfigName: "app"}
	var r, err = reader.Open(path, id, reader.FromBeginning, 0)
	require.NoError(t, err)

	var mgr = queue.NewManager(64, 48, 16)
	var pair = mgr.GetOrCreate(protocol.RoutingKey(2), 0)

	var eoStore = checkpoint.NewExactlyOnceStore(t.TempDir())
	var opt, ok = exactlyonce.Bind(eoStore, "app-"+path, protocol.RoutingKey(2), []byte("one\n"), concurrency)
	require.True(t, ok)
	r.State.Offset = opt.LastCommittedOffset()

	return &Tracker{
		Identity:    id,
		Path:        path,
		ConfigName:  "app",
		reader:      r,
		framer:      framer.NewLineFramer(),
		encoding:    reader.EncodingUTF8,
		routing:     protocol.RoutingKey(2),
		pair:        pair,
		eo:          opt,
		eoStore:     eoStore,
		aggStore:    checkpoint.NewAggregateStore(filepath.Join(t.TempDir(), "agg.json"), 100),
		alarms:      alarm.New(0),
		wake:        make(chan struct{}, 1),
		concurrency: concurrency,
	}
}

// TestTrackerExactlyOnceStepsDoNotDuplicateAcrossCalls guards against a
// Sink ack race: the ack for a forward read arrives asynchronously,
// after the group is already handed to the process queue, so the very
// next step must not mistake that still-unacked slot for a
// restart-replay target and re-read the same bytes.
func TestTrackerExactlyOnceStepsDoNotDuplicateAcrossCalls(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o644))

	var tr = newExactlyOnceTestTracker(t, path, 1)

	var advanced1, err1 = tr.step()
	require.NoError(t, err1)
	require.True(t, advanced1)

	raw1, ok1 := tr.pair.Process.Pop()
	require.True(t, ok1)
	var item1 = raw1.(queueItem)
	require.Len(t, item1.group.Events, 1)
	require.Equal(t, "one", string(item1.group.Events[0].Raw))

	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\n"), 0o644))

	// No ack has fired yet for the first read. The second step must
	// still advance forward rather than replaying slot 0.
	var advanced2, err2 = tr.step()
	require.NoError(t, err2)
	require.True(t, advanced2)

	raw2, ok2 := tr.pair.Process.Pop()
	require.True(t, ok2)
	var item2 = raw2.(queueItem)
	require.Len(t, item2.group.Events, 1)
	require.Equal(t, "two", string(item2.group.Events[0].Raw))
}
