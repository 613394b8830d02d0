package framer

import (
	"bytes"
	"regexp"

	"github.com/estuary/logtail/internal/protocol"
)

// MultilineConfig configures the multiline framer with up to three
// patterns and the discard-unmatched-lines policy.
type MultilineConfig struct {
	Start            *regexp.Regexp
	Continue         *regexp.Regexp
	End              *regexp.Regexp
	DiscardUnmatched bool
	// MaxRecordBytes bounds how large an open record may grow before it
	// is force-emitted rather than rolled back indefinitely. A
	// force-emitted Record carries no flag marking it as oversized.
	MaxRecordBytes int
}

// MultilineFramer implements the start/continue/end multiline mode.
type MultilineFramer struct {
	cfg MultilineConfig
}

// NewMultilineFramer returns a Framer for the given multiline config.
func NewMultilineFramer(cfg MultilineConfig) *MultilineFramer {
	if cfg.MaxRecordBytes <= 0 {
		cfg.MaxRecordBytes = 512 * 1024
	}
	return &MultilineFramer{cfg: cfg}
}

type group struct {
	lineStart int // index into lines of the first line in this group
	byteStart int64
	lines     [][]byte
	skipped   int // bytes of discarded unmatched lines inside the group
}

func (g *group) size() int {
	var n = g.skipped
	for _, l := range g.lines {
		n += len(l) + 1
	}
	return n
}

func (g *group) bytes() []byte {
	return bytes.Join(g.lines, []byte("\n"))
}

func (f *MultilineFramer) Feed(buf []byte, source protocol.FileIdentity, baseOffset int64, seq uint64) Result {
	lines, terminated := splitLines(buf)

	var res Result
	var cur *group
	var off = baseOffset
	var committed int64
	var partial bool

	emit := func(g *group) {
		if g == nil || len(g.lines) == 0 {
			return
		}
		res.Records = append(res.Records, protocol.Record{
			Source:   source,
			Offset:   g.byteStart,
			Length:   int64(g.size()) - 1, // exclude the final synthetic separator
			Data:     g.bytes(),
			Sequence: seq,
		})
		seq++
	}

	for i, line := range lines {
		isStart := f.cfg.Start != nil && f.cfg.Start.Match(line)
		isContinue := f.cfg.Continue != nil && f.cfg.Continue.Match(line)
		isEnd := f.cfg.End != nil && f.cfg.End.Match(line)

		if f.cfg.Start == nil && (isContinue || isEnd) && cur == nil {
			// In the absence of a start pattern, continue/end lines with
			// no open group begin one.
			isStart = true
		}

		if !terminated[i] {
			// Trailing partial line: never closes or commits anything.
			// Attach it to whatever group is open (or open a fresh one)
			// so it becomes part of the rolled-back tail.
			if cur == nil {
				cur = &group{lineStart: i, byteStart: off}
			}
			cur.lines = append(cur.lines, line)
			partial = true
			break
		}

		switch {
		case isStart:
			if cur != nil {
				// A new start closes the prior, still-open group.
				emit(cur)
				committed += int64(cur.size())
			}
			cur = &group{lineStart: i, byteStart: off}
			cur.lines = append(cur.lines, line)
		case isContinue:
			if cur == nil {
				cur = &group{lineStart: i, byteStart: off}
			}
			cur.lines = append(cur.lines, line)
		case isEnd:
			if cur == nil {
				cur = &group{lineStart: i, byteStart: off}
			}
			cur.lines = append(cur.lines, line)
			emit(cur)
			committed += int64(cur.size())
			cur = nil
		default:
			// Unmatched line.
			if f.cfg.DiscardUnmatched {
				if cur == nil {
					// Discarded with no open group: bytes are simply
					// skipped, offset still advances.
					committed += int64(len(line)) + 1
				} else {
					// Mid-group unmatched lines are discarded, not
					// attached, but the group remains open; their bytes
					// are committed or rolled back with the group.
					cur.skipped += len(line) + 1
				}
			} else {
				if cur == nil {
					cur = &group{lineStart: i, byteStart: off}
				}
				cur.lines = append(cur.lines, line)
			}
		}

		off += int64(len(line)) + 1
	}

	if cur != nil {
		if cur.size() > f.cfg.MaxRecordBytes {
			// Force-emit an oversized open record rather than stall
			// forever waiting for a closing pattern. A trailing partial
			// line stays in the rolled-back tail.
			if partial {
				cur.lines = cur.lines[:len(cur.lines)-1]
			}
			emit(cur)
			committed += int64(cur.size())
		} else {
			// Roll the whole open group back; it may still gain lines
			// on the next read.
		}
	}

	res.Consumed = committed
	res.Rollback = int64(len(buf)) - committed
	return res
}
