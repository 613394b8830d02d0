package framer

import (
	"bytes"
	"strings"

	"github.com/estuary/logtail/internal/protocol"
)

// ContainerFramer implements the container-runtime text format: each
// line is "<RFC3339Nano timestamp> <stream> <tag> <payload>", where a
// 'P' tag marks a partial line to be concatenated with subsequent 'P'
// lines up to the next 'F'.
type ContainerFramer struct{}

// NewContainerFramer returns a Framer for the container-runtime text format.
func NewContainerFramer() *ContainerFramer { return &ContainerFramer{} }

type containerLine struct {
	timestamp string
	stream    string
	tag       byte // 'P' or 'F'
	payload   []byte
	malformed bool
}

func parseContainerLine(line []byte) containerLine {
	var s = string(line)
	var i1 = strings.IndexByte(s, ' ')
	if i1 < 0 {
		return containerLine{malformed: true, payload: line}
	}
	var rest = s[i1+1:]
	var i2 = strings.IndexByte(rest, ' ')
	if i2 < 0 {
		return containerLine{malformed: true, payload: line}
	}
	var stream = rest[:i2]
	rest = rest[i2+1:]
	var i3 = strings.IndexByte(rest, ' ')
	if i3 < 0 {
		return containerLine{malformed: true, payload: line}
	}
	var tag = rest[:i3]
	if tag != "P" && tag != "F" {
		return containerLine{malformed: true, payload: line}
	}
	return containerLine{
		timestamp: s[:i1],
		stream:    stream,
		tag:       tag[0],
		payload:   []byte(rest[i3+1:]),
	}
}

func (f *ContainerFramer) Feed(buf []byte, source protocol.FileIdentity, baseOffset int64, seq uint64) Result {
	lines, terminated := splitLines(buf)

	var res Result
	var off = baseOffset
	var committed int64
	var pending [][]byte
	var pendingStart int64
	var haveStart bool

	flushMalformed := func(raw []byte, at int64) {
		res.Records = append(res.Records, protocol.Record{
			Source:   source,
			Offset:   at,
			Length:   int64(len(raw)),
			Data:     append([]byte(nil), raw...),
			Sequence: seq,
		})
		seq++
	}

	for i, line := range lines {
		if !terminated[i] {
			break // trailing partial physical line: always rolled back
		}

		var parsed = parseContainerLine(line)
		if parsed.malformed {
			// Malformed lines are emitted as-is, not dropped, per spec.
			flushMalformed(line, off)
			committed = off - baseOffset + int64(len(line)) + 1
			off += int64(len(line)) + 1
			continue
		}

		if !haveStart {
			pendingStart = off
			haveStart = true
		}
		pending = append(pending, parsed.payload)

		if parsed.tag == 'F' {
			var merged = bytes.Join(pending, nil)
			res.Records = append(res.Records, protocol.Record{
				Source:   source,
				Offset:   pendingStart,
				Length:   int64(len(merged)),
				Data:     merged,
				Sequence: seq,
			})
			seq++
			pending = nil
			haveStart = false
			committed = off - baseOffset + int64(len(line)) + 1
		}

		off += int64(len(line)) + 1
	}

	res.Consumed = committed
	res.Rollback = int64(len(buf)) - committed
	return res
}
