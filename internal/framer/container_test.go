package framer

import (
	"testing"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestContainerFramerPartialMerge(t *testing.T) {
	// S3: three P/F lines merge into one Record with payload "hello world!".
	var f = NewContainerFramer()
	var id = protocol.FileIdentity{Device: 1, Inode: 2, ConfigName: "cfg"}

	var input = "2021-08-25T07:00:00.000000000Z stdout P hello\n" +
		"2021-08-25T07:00:00.000000000Z stdout P  world\n" +
		"2021-08-25T07:00:00.000000000Z stdout F !\n"

	var res = f.Feed([]byte(input), id, 0, 0)
	require.Len(t, res.Records, 1)
	require.Equal(t, "hello world!", string(res.Records[0].Data))
	require.Equal(t, res.Consumed+res.Rollback, int64(len(input)))
}

func TestContainerFramerMalformedLineKept(t *testing.T) {
	var f = NewContainerFramer()
	var id = protocol.FileIdentity{Device: 1, Inode: 2, ConfigName: "cfg"}

	var input = "not a valid container line\n" +
		"2021-08-25T07:00:00.000000000Z stdout F ok\n"

	var res = f.Feed([]byte(input), id, 0, 0)
	require.Len(t, res.Records, 2)
	require.Equal(t, "not a valid container line", string(res.Records[0].Data))
	require.Equal(t, "ok", string(res.Records[1].Data))
}

func TestContainerFramerMalformedLineInterruptingOpenMergeAdvancesConsumedPastIt(t *testing.T) {
	var f = NewContainerFramer()
	var id = protocol.FileIdentity{Device: 1, Inode: 2, ConfigName: "cfg"}

	// The P line opens a merge group and is never closed by a following
	// F line in this Feed call; the malformed line is the last
	// terminated line in the buffer. Consumed must still cover the
	// whole terminated prefix, including the still-open P line, not
	// just the malformed line itself.
	var input = "2021-08-25T07:00:00.000000000Z stdout P hello\n" +
		"not a valid container line\n"

	var res = f.Feed([]byte(input), id, 0, 0)
	require.Equal(t, int64(len(input)), res.Consumed)
	require.Equal(t, int64(0), res.Rollback)
}

func TestContainerFramerSingleFullLine(t *testing.T) {
	var f = NewContainerFramer()
	var id = protocol.FileIdentity{Device: 1, Inode: 2, ConfigName: "cfg"}

	var input = "2021-08-25T07:00:00.000000000Z stdout F standalone\n"
	var res = f.Feed([]byte(input), id, 0, 0)
	require.Len(t, res.Records, 1)
	require.Equal(t, "standalone", string(res.Records[0].Data))
}
