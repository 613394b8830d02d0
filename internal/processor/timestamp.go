package processor

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/estuary/logtail/internal/alarm"
	"github.com/estuary/logtail/internal/protocol"
	log "github.com/sirupsen/logrus"
)

var monthsFull = []string{"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December"}
var monthsAbbrev = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}
var weekdaysFull = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}
var weekdaysAbbrev = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// tsField identifies one recognized %-token in a timestamp format.
type tsField int

const (
	fieldLiteral tsField = iota
	fieldYear
	fieldMonth
	fieldDay
	fieldHour
	fieldMinute
	fieldSecond
	fieldFraction
	fieldUnixSeconds
	fieldZone
	fieldWeekdayAbbrev
	fieldWeekdayFull
	fieldMonthAbbrev
	fieldMonthFull
)

type tsToken struct {
	kind    tsField
	literal string // only valid when kind == fieldLiteral
}

// compileFormat splits a %-token format string (the subset {%Y %m %d
// %H %M %S %f %s %z %a %A %b %B}) into an ordered token sequence.
func compileFormat(format string) []tsToken {
	var tokens []tsToken
	var lit strings.Builder
	var flush = func() {
		if lit.Len() > 0 {
			tokens = append(tokens, tsToken{kind: fieldLiteral, literal: lit.String()})
			lit.Reset()
		}
	}

	var runes = []rune(format)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '%' || i+1 >= len(runes) {
			lit.WriteRune(runes[i])
			continue
		}
		var kind tsField
		switch runes[i+1] {
		case 'Y':
			kind = fieldYear
		case 'm':
			kind = fieldMonth
		case 'd':
			kind = fieldDay
		case 'H':
			kind = fieldHour
		case 'M':
			kind = fieldMinute
		case 'S':
			kind = fieldSecond
		case 'f':
			kind = fieldFraction
		case 's':
			kind = fieldUnixSeconds
		case 'z':
			kind = fieldZone
		case 'a':
			kind = fieldWeekdayAbbrev
		case 'A':
			kind = fieldWeekdayFull
		case 'b':
			kind = fieldMonthAbbrev
		case 'B':
			kind = fieldMonthFull
		default:
			lit.WriteRune(runes[i])
			lit.WriteRune(runes[i+1])
			i++
			continue
		}
		flush()
		tokens = append(tokens, tsToken{kind: kind})
		i++
	}
	flush()
	return tokens
}

func hasField(tokens []tsToken, kind tsField) bool {
	for _, t := range tokens {
		if t.kind == kind {
			return true
		}
	}
	return false
}

// parsedStamp is the decomposed result of one timestamp parse, before
// year deduction and zone application.
type parsedStamp struct {
	year, month, day       int
	hour, minute, second   int
	nanosecond             int
	zoneOffsetSeconds      int
	hasZone                bool
	unixSeconds            int64
	hasUnixSeconds         bool
}

// secondCacheEntry caches the parsed whole-second prefix so that
// consecutive records sharing the same second need only reparse their
// fractional suffix.
type secondCacheEntry struct {
	prefix string
	base   time.Time
}

// TimestampParser applies a %-token format string to a designated
// field, with a second-resolution cache and calendar-aware year
// deduction when the format lacks %Y.
type TimestampParser struct {
	name        string
	fieldKey    string
	tokens      []tsToken
	hasYear     bool
	hasFraction bool
	metrics     *InstanceMetrics
	alarms      *alarm.Limiter

	mu    sync.Mutex
	cache secondCacheEntry
	now   func() time.Time
}

// NewTimestampParser returns a TimestampParser reading fieldKey with
// the given %-token format.
func NewTimestampParser(name, fieldKey, format string, alarms *alarm.Limiter) *TimestampParser {
	var tokens = compileFormat(format)
	return &TimestampParser{
		name:        name,
		fieldKey:    fieldKey,
		tokens:      tokens,
		hasYear:     hasField(tokens, fieldYear),
		hasFraction: hasField(tokens, fieldFraction),
		metrics:     NewInstanceMetrics(name),
		alarms:      alarms,
		now:         time.Now,
	}
}

func (p *TimestampParser) Name() string          { return p.name }
func (p *TimestampParser) InputKind() EventKind  { return KindParsed }
func (p *TimestampParser) Metrics() *InstanceMetrics { return p.metrics }

func (p *TimestampParser) Process(group protocol.EventGroup) (protocol.EventGroup, error) {
	for i := range group.Events {
		var e = &group.Events[i]
		fv, ok := e.Fields[p.fieldKey]
		if !ok || fv.Kind != protocol.FieldString {
			continue
		}
		ts, ok := p.parse(fv.String)
		if !ok {
			continue
		}
		e.Timestamp = ts
	}
	return group, nil
}

// parse applies the second-resolution cache: when the input's
// whole-second prefix matches the previous record's, the already
// computed base time is reused and only the fractional suffix is
// recomputed; otherwise the full date/time is rebuilt and cached.
func (p *TimestampParser) parse(input string) (time.Time, bool) {
	var stamp, prefixLen, ok = p.scan(input)
	if !ok {
		return time.Time{}, false
	}

	if stamp.hasUnixSeconds {
		return time.Unix(stamp.unixSeconds, int64(stamp.nanosecond)).UTC(), true
	}

	var prefix = input[:prefixLen]

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.hasFraction && p.cache.prefix == prefix {
		return p.cache.base.Add(time.Duration(stamp.nanosecond) * time.Nanosecond), true
	}

	var year = stamp.year
	if !p.hasYear {
		year = deduceYear(p.now().Year(), stamp.month, stamp.day)
	}

	var loc = time.UTC
	if stamp.hasZone {
		loc = time.FixedZone("", stamp.zoneOffsetSeconds)
	}

	var base = time.Date(year, time.Month(stamp.month), stamp.day,
		stamp.hour, stamp.minute, stamp.second, 0, loc)

	if p.hasFraction {
		p.cache = secondCacheEntry{prefix: prefix, base: base}
	}
	return base.Add(time.Duration(stamp.nanosecond) * time.Nanosecond), true
}

// deduceYear applies the calendar-wrap rule: a Jan-1 stamp observed
// while the wall clock reads Dec-31 belongs to next year; a Dec-31
// stamp observed on Jan-1 belongs to the previous year; otherwise the
// stamp shares the current year.
func deduceYear(currentYear, month, day int) int {
	var now = time.Now()
	if now.Month() == time.December && now.Day() == 31 && month == 1 && day == 1 {
		return currentYear + 1
	}
	if now.Month() == time.January && now.Day() == 1 && month == 12 && day == 31 {
		return currentYear - 1
	}
	return currentYear
}

// scan walks tokens against input, consuming exactly as many bytes as
// each token requires. prefixLen is the input length consumed before
// the %f token (or the full match length if the format has none),
// letting callers cache everything coarser than sub-second precision.
func (p *TimestampParser) scan(input string) (stamp parsedStamp, prefixLen int, ok bool) {
	var pos int

	for _, tok := range p.tokens {
		if tok.kind == fieldFraction {
			prefixLen = pos
		}
		switch tok.kind {
		case fieldLiteral:
			if !strings.HasPrefix(input[pos:], tok.literal) {
				return stamp, prefixLen, false
			}
			pos += len(tok.literal)
		case fieldYear:
			n, next, ok := scanDigits(input, pos, 4)
			if !ok {
				return stamp, prefixLen, false
			}
			stamp.year, pos = n, next
		case fieldMonth:
			n, next, ok := scanDigits(input, pos, 2)
			if !ok {
				return stamp, prefixLen, false
			}
			stamp.month, pos = n, next
		case fieldDay:
			n, next, ok := scanDigits(input, pos, 2)
			if !ok {
				return stamp, prefixLen, false
			}
			stamp.day, pos = n, next
		case fieldHour:
			n, next, ok := scanDigits(input, pos, 2)
			if !ok {
				return stamp, prefixLen, false
			}
			stamp.hour, pos = n, next
		case fieldMinute:
			n, next, ok := scanDigits(input, pos, 2)
			if !ok {
				return stamp, prefixLen, false
			}
			stamp.minute, pos = n, next
		case fieldSecond:
			n, next, ok := scanDigits(input, pos, 2)
			if !ok {
				return stamp, prefixLen, false
			}
			stamp.second, pos = n, next
		case fieldFraction:
			digits, next := scanVariableDigits(input, pos)
			if digits == "" {
				return stamp, prefixLen, false
			}
			stamp.nanosecond, pos = fractionToNanos(digits), next
		case fieldUnixSeconds:
			digits, next := scanVariableDigits(input, pos)
			if digits == "" {
				return stamp, prefixLen, false
			}
			n, err := strconv.ParseInt(digits, 10, 64)
			if err != nil {
				return stamp, prefixLen, false
			}
			stamp.unixSeconds, stamp.hasUnixSeconds, pos = n, true, next
		case fieldZone:
			off, next, ok := scanZone(input, pos)
			if !ok {
				p.raiseZoneAlarm(input)
				stamp.hasZone, pos = false, next
				continue
			}
			stamp.zoneOffsetSeconds, stamp.hasZone, pos = off, true, next
		case fieldWeekdayAbbrev:
			pos = skipNameToken(input, pos, weekdaysAbbrev)
		case fieldWeekdayFull:
			pos = skipNameToken(input, pos, weekdaysFull)
		case fieldMonthAbbrev:
			n, next, ok := matchNameToken(input, pos, monthsAbbrev)
			if !ok {
				return stamp, prefixLen, false
			}
			stamp.month, pos = n+1, next
		case fieldMonthFull:
			n, next, ok := matchNameToken(input, pos, monthsFull)
			if !ok {
				return stamp, prefixLen, false
			}
			stamp.month, pos = n+1, next
		}
		if pos > len(input) {
			return stamp, prefixLen, false
		}
	}
	if !p.hasFraction {
		prefixLen = pos
	}
	return stamp, prefixLen, true
}

func (p *TimestampParser) raiseZoneAlarm(input string) {
	if p.alarms == nil {
		return
	}
	p.alarms.Raise(alarm.Key{Kind: "timestamp_invalid_zone_offset"}, log.Fields{
		"processor": p.name,
		"input":     input,
	}, "invalid GMT offset in timestamp field; zone adjustment disabled")
}

func scanDigits(input string, pos, width int) (int, int, bool) {
	if pos+width > len(input) {
		return 0, pos, false
	}
	var chunk = input[pos : pos+width]
	n, err := strconv.Atoi(chunk)
	if err != nil {
		return 0, pos, false
	}
	return n, pos + width, true
}

func scanVariableDigits(input string, pos int) (string, int) {
	var end = pos
	for end < len(input) && input[end] >= '0' && input[end] <= '9' {
		end++
	}
	return input[pos:end], end
}

// fractionToNanos interprets digits as a fractional-second suffix
// (e.g. "123" means .123, not 123ns) and scales to nanoseconds.
func fractionToNanos(digits string) int {
	for len(digits) < 9 {
		digits += "0"
	}
	digits = digits[:9]
	n, _ := strconv.Atoi(digits)
	return n
}

// scanZone parses a "GMT±HH:MM" offset starting at pos.
func scanZone(input string, pos int) (int, int, bool) {
	if !strings.HasPrefix(input[pos:], "GMT") {
		return 0, pos, false
	}
	pos += 3
	if pos >= len(input) || (input[pos] != '+' && input[pos] != '-') {
		return 0, pos, false
	}
	var sign = 1
	if input[pos] == '-' {
		sign = -1
	}
	pos++

	hours, next, ok := scanDigits(input, pos, 2)
	if !ok {
		return 0, pos, false
	}
	pos = next
	if pos >= len(input) || input[pos] != ':' {
		return 0, pos, false
	}
	pos++
	minutes, next, ok := scanDigits(input, pos, 2)
	if !ok {
		return 0, pos, false
	}
	pos = next

	return sign * (hours*3600 + minutes*60), pos, true
}

func skipNameToken(input string, pos int, names []string) int {
	for _, name := range names {
		if strings.HasPrefix(input[pos:], name) {
			return pos + len(name)
		}
	}
	return pos
}

func matchNameToken(input string, pos int, names []string) (int, int, bool) {
	for i, name := range names {
		if strings.HasPrefix(input[pos:], name) {
			return i, pos + len(name), true
		}
	}
	return 0, pos, false
}
