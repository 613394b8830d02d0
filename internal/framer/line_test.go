package framer

import (
	"testing"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestLineFramerSingleLineTailing(t *testing.T) {
	// S1: "a\nb\nc\n" from offset 0 yields three Records at offsets 0, 2, 4.
	var f = NewLineFramer()
	var id = protocol.FileIdentity{Device: 1, Inode: 2, ConfigName: "cfg"}

	var res = f.Feed([]byte("a\nb\nc\n"), id, 0, 0)
	require.Len(t, res.Records, 3)
	require.Equal(t, int64(0), res.Records[0].Offset)
	require.Equal(t, "a", string(res.Records[0].Data))
	require.Equal(t, int64(2), res.Records[1].Offset)
	require.Equal(t, "b", string(res.Records[1].Data))
	require.Equal(t, int64(4), res.Records[2].Offset)
	require.Equal(t, "c", string(res.Records[2].Data))
	require.Equal(t, int64(6), res.Consumed)
	require.Equal(t, int64(0), res.Rollback)
}

func TestLineFramerPartialTrailingLine(t *testing.T) {
	var f = NewLineFramer()
	var id = protocol.FileIdentity{Device: 1, Inode: 2, ConfigName: "cfg"}

	var res = f.Feed([]byte("a\nb\npartial"), id, 0, 0)
	require.Len(t, res.Records, 2)
	require.Equal(t, int64(4), res.Consumed) // "a\n" + "b\n"
	require.Equal(t, int64(7), res.Rollback) // "partial"
	require.Equal(t, res.Consumed+res.Rollback, int64(len("a\nb\npartial")))
}
