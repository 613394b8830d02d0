package framer

import "github.com/estuary/logtail/internal/protocol"

// LineFramer ends a Record at every '\n'. Incomplete trailing bytes are
// retained across reads via Result.Rollback.
type LineFramer struct{}

// NewLineFramer returns a Framer for single-line framing.
func NewLineFramer() *LineFramer { return &LineFramer{} }

func (f *LineFramer) Feed(buf []byte, source protocol.FileIdentity, baseOffset int64, seq uint64) Result {
	lines, terminated := splitLines(buf)

	var res Result
	var off = baseOffset
	var consumed int64

	for i, line := range lines {
		if !terminated[i] {
			// Trailing partial line: roll it back for the next read.
			break
		}
		res.Records = append(res.Records, protocol.Record{
			Source:   source,
			Offset:   off,
			Length:   int64(len(line)),
			Data:     append([]byte(nil), line...),
			Sequence: seq,
		})
		seq++
		off += int64(len(line)) + 1 // +1 for the newline
		consumed += int64(len(line)) + 1
	}

	res.Consumed = consumed
	res.Rollback = int64(len(buf)) - consumed
	return res
}
