// Package framer splits byte buffers produced by the Reader into
// complete logical Records under three framing modes: single-line,
// multiline with start/continue/end patterns, and the
// container-runtime text format.
package framer

import "github.com/estuary/logtail/internal/protocol"

// Result is the outcome of one Feed call: the Records completed within
// the supplied buffer, the number of buffer bytes those Records (plus
// any discarded unmatched lines) account for, and the trailing byte
// count that must be retained and re-presented on the next read.
//
// The boundary invariant holds by construction: Consumed + Rollback
// always equals len(buf) for the buf passed to Feed.
type Result struct {
	Records  []protocol.Record
	Consumed int64
	Rollback int64
}

// Framer consumes one buffer of bytes starting at file offset
// baseOffset, and produces zero or more complete Records. seq is the
// first sequence number to assign; the Framer must assign sequence
// numbers in increasing order to the Records it emits.
type Framer interface {
	Feed(buf []byte, source protocol.FileIdentity, baseOffset int64, seq uint64) Result
}

// splitLines splits buf at every '\n' into lines (without the '\n')
// and reports for each line whether a '\n' terminated it; only a
// trailing partial line can be unterminated.
func splitLines(buf []byte) (lines [][]byte, terminated []bool) {
	var start int
	for i := 0; i < len(buf); i++ {
		if buf[i] == '\n' {
			lines = append(lines, buf[start:i])
			terminated = append(terminated, true)
			start = i + 1
		}
	}
	if start < len(buf) {
		lines = append(lines, buf[start:])
		terminated = append(terminated, false)
	}
	return lines, terminated
}
