package checkpoint

import (
	"testing"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestExactlyOnceStoreLoadMissingReturnsNotOK(t *testing.T) {
	var store = NewExactlyOnceStore(t.TempDir())
	_, ok, err := store.Load("missing-key")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExactlyOnceStoreSaveThenLoad(t *testing.T) {
	var store = NewExactlyOnceStore(t.TempDir())
	var doc = protocol.ExactlyOnceDocument{
		PrimaryKey: "app-/var/log/app.log-1-2",
		Signature:  protocol.Signature{Length: 16, Hash: 42},
		Ranges: []protocol.RangeCheckpoint{
			{ConcurrencySlot: 0, ReadOffset: 0, ReadLength: 128, CommitState: protocol.CommitCommitted},
		},
	}
	require.NoError(t, store.Save(doc))

	got, ok, err := store.Load(doc.PrimaryKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, doc.PrimaryKey, got.PrimaryKey)
	require.Len(t, got.Ranges, 1)
	require.Equal(t, protocol.CommitCommitted, got.Ranges[0].CommitState)
}

func TestExactlyOnceStoreApplyPatchUpdatesSingleSlotOnly(t *testing.T) {
	var store = NewExactlyOnceStore(t.TempDir())
	var key = "app-/var/log/app.log-1-2"

	var doc = protocol.ExactlyOnceDocument{
		PrimaryKey: key,
		Signature:  protocol.Signature{Length: 16, Hash: 42},
		Ranges: []protocol.RangeCheckpoint{
			{ConcurrencySlot: 0, ReadOffset: 0, ReadLength: 128, CommitState: protocol.CommitPending},
			{ConcurrencySlot: 1, ReadOffset: 128, ReadLength: 128, CommitState: protocol.CommitPending},
		},
	}
	require.NoError(t, store.Save(doc))

	patch, err := RangePatch(doc, protocol.RangeCheckpoint{
		ConcurrencySlot: 0, ReadOffset: 0, ReadLength: 128, CommitState: protocol.CommitCommitted,
	})
	require.NoError(t, err)

	got, err := store.ApplyPatch(key, patch)
	require.NoError(t, err)
	require.Len(t, got.Ranges, 2)

	for _, r := range got.Ranges {
		if r.ConcurrencySlot == 0 {
			require.Equal(t, protocol.CommitCommitted, r.CommitState)
		} else {
			require.Equal(t, protocol.CommitPending, r.CommitState)
		}
	}
}

func TestRangePatchAppendsNewSlot(t *testing.T) {
	var doc = protocol.ExactlyOnceDocument{PrimaryKey: "k"}
	patch, err := RangePatch(doc, protocol.RangeCheckpoint{ConcurrencySlot: 0, ReadLength: 64})
	require.NoError(t, err)

	var store = NewExactlyOnceStore(t.TempDir())
	got, err := store.ApplyPatch("k", patch)
	require.NoError(t, err)
	require.Len(t, got.Ranges, 1)
}
