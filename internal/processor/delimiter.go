package processor

import (
	"strconv"
	"strings"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/pkg/errors"
)

// delimiterState is one of the four states of the delimiter FSM.
type delimiterState int

const (
	stateInitial delimiterState = iota
	stateInQuote
	stateInData
	stateJustClosedQuote
)

// OverflowPolicy controls how fields beyond len(Keys) are handled.
type OverflowPolicy int

const (
	// OverflowExtend assigns synthetic keys "__column$i__" to extra
	// fields.
	OverflowExtend OverflowPolicy = iota
	// OverflowCatchAll joins every extra field (re-joined with the
	// separator) under the last configured key.
	OverflowCatchAll
	// OverflowDiscard drops extra fields entirely.
	OverflowDiscard
)

// DelimiterParser is the CSV-like finite-state machine of §4.4: fields
// separated by Separator, optionally quoted with Quote, with doubled
// quotes escaping to a literal quote inside a quoted field.
type DelimiterParser struct {
	name      string
	separator byte
	quote     byte
	keys      []string
	overflow  OverflowPolicy
	metrics   *InstanceMetrics
}

// NewDelimiterParser returns a DelimiterParser splitting on separator,
// quoting with quote, and mapping the first len(keys) fields
// positionally onto keys.
func NewDelimiterParser(name string, separator, quote byte, keys []string, overflow OverflowPolicy) *DelimiterParser {
	return &DelimiterParser{
		name:      name,
		separator: separator,
		quote:     quote,
		keys:      keys,
		overflow:  overflow,
		metrics:   NewInstanceMetrics(name),
	}
}

func (p *DelimiterParser) Name() string          { return p.name }
func (p *DelimiterParser) InputKind() EventKind  { return KindRaw }
func (p *DelimiterParser) Metrics() *InstanceMetrics { return p.metrics }

func (p *DelimiterParser) Process(group protocol.EventGroup) (protocol.EventGroup, error) {
	for i := range group.Events {
		var e = &group.Events[i]
		fields, err := p.split(e.Raw)
		if err != nil {
			continue // leave Fields empty; pipeline marks it discarded/raw
		}
		if e.Fields == nil {
			e.Fields = make(map[string]protocol.FieldValue, len(p.keys))
		}
		p.assign(e, fields)
	}
	return group, nil
}

// split runs the four-state FSM over data and returns the decoded
// field values.
func (p *DelimiterParser) split(data []byte) ([]string, error) {
	var fields []string
	var buf strings.Builder
	var state = stateInitial

	for _, c := range data {
		switch state {
		case stateInitial:
			switch c {
			case p.quote:
				state = stateInQuote
			case p.separator:
				fields = append(fields, buf.String())
				buf.Reset()
			default:
				buf.WriteByte(c)
				state = stateInData
			}
		case stateInData:
			if c == p.separator {
				fields = append(fields, buf.String())
				buf.Reset()
				state = stateInitial
			} else {
				buf.WriteByte(c)
			}
		case stateInQuote:
			if c == p.quote {
				state = stateJustClosedQuote
			} else {
				buf.WriteByte(c)
			}
		case stateJustClosedQuote:
			switch c {
			case p.quote:
				buf.WriteByte(p.quote)
				state = stateInQuote
			case p.separator:
				fields = append(fields, buf.String())
				buf.Reset()
				state = stateInitial
			default:
				buf.WriteByte(c)
				state = stateInData
			}
		}
	}

	if state == stateInQuote {
		return nil, errors.New("delimiter parser: unterminated quoted field")
	}
	fields = append(fields, buf.String())
	return fields, nil
}

func (p *DelimiterParser) assign(e *protocol.Event, fields []string) {
	var n = len(p.keys)
	for i := 0; i < len(fields) && i < n; i++ {
		e.Fields[p.keys[i]] = protocol.StringValue(fields[i])
	}
	if len(fields) <= n {
		return
	}

	var overflow = fields[n:]
	switch p.overflow {
	case OverflowDiscard:
	case OverflowCatchAll:
		if n > 0 {
			e.Fields[p.keys[n-1]] = protocol.StringValue(strings.Join(fields[n-1:], string(p.separator)))
		}
	default: // OverflowExtend
		for i, v := range overflow {
			e.Fields[syntheticColumnKey(n+i)] = protocol.StringValue(v)
		}
	}
}

func syntheticColumnKey(i int) string {
	return "__column" + strconv.Itoa(i) + "__"
}
