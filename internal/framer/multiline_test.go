package framer

import (
	"regexp"
	"testing"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestMultilineFramerJavaStackTrace(t *testing.T) {
	// S2: Java-style stack trace with an explicit end pattern, followed by
	// the start of a second exception whose continuation hasn't arrived yet.
	var cfg = MultilineConfig{
		Start:    regexp.MustCompile(`^Exception`),
		Continue: regexp.MustCompile(`^\s+at\s`),
		End:      regexp.MustCompile(`^\s*\.\.\.\d+ more`),
	}
	var f = NewMultilineFramer(cfg)
	var id = protocol.FileIdentity{Device: 1, Inode: 2, ConfigName: "cfg"}

	var input = "Exception in thread \"main\"\n    at X(Y.java:1)\n    ...23 more\n" +
		"Exception in thread \"main\"\n    at Z"

	var res = f.Feed([]byte(input), id, 0, 0)
	require.Len(t, res.Records, 1)
	require.Contains(t, string(res.Records[0].Data), "Exception in thread \"main\"")
	require.Contains(t, string(res.Records[0].Data), "...23 more")

	require.Equal(t, res.Consumed+res.Rollback, int64(len(input)))

	// The second exception has started but has no closing "...N more" yet,
	// so its two lines are rolled back rather than committed.
	var rolledBack = string(input[len(input)-int(res.Rollback):])
	require.Equal(t, "Exception in thread \"main\"\n    at Z", rolledBack)

	// Re-feeding the rolled-back tail plus the rest of the record completes it.
	var secondChunk = rolledBack + "(Z.java:2)\n    ...5 more\n"
	var res2 = f.Feed([]byte(secondChunk), id, res.Consumed, 1)
	require.Len(t, res2.Records, 1)
	require.Contains(t, string(res2.Records[0].Data), "...5 more")
}

func TestMultilineFramerDiscardUnmatched(t *testing.T) {
	var cfg = MultilineConfig{
		Start:            regexp.MustCompile(`^START`),
		DiscardUnmatched: true,
	}
	var f = NewMultilineFramer(cfg)
	var id = protocol.FileIdentity{Device: 1, Inode: 2, ConfigName: "cfg"}

	var input = "garbage\nSTART one\nmore\n"
	var res = f.Feed([]byte(input), id, 0, 0)
	require.Equal(t, res.Consumed+res.Rollback, int64(len(input)))
}
