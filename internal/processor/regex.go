package processor

import (
	"regexp"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/pkg/errors"
)

// RegexParser applies an anchored regex with N capture groups to each
// Event's raw body, mapping captures positionally onto keys. A capture
// meant to carry the timestamp source needs no special handling here:
// it's just mapped to whichever key a later TimestampParser reads.
type RegexParser struct {
	name    string
	pattern *regexp.Regexp
	keys    []string
	metrics *InstanceMetrics
}

// NewRegexParser compiles pattern, anchored at both ends, and binds its
// capture groups positionally to keys.
func NewRegexParser(name, pattern string, keys []string, timestampCapture int) (*RegexParser, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, errors.Wrapf(err, "compiling regex processor %q pattern", name)
	}
	if n := re.NumSubexp(); n != len(keys) {
		return nil, errors.Errorf("regex processor %q: pattern has %d capture groups, %d keys given", name, n, len(keys))
	}
	return &RegexParser{
		name:    name,
		pattern: re,
		keys:    keys,
		metrics: NewInstanceMetrics(name),
	}, nil
}

func (p *RegexParser) Name() string              { return p.name }
func (p *RegexParser) InputKind() EventKind      { return KindRaw }
func (p *RegexParser) Metrics() *InstanceMetrics { return p.metrics }

func (p *RegexParser) Process(group protocol.EventGroup) (protocol.EventGroup, error) {
	for i := range group.Events {
		var e = &group.Events[i]
		var matches = p.pattern.FindSubmatch(e.Raw)
		if matches == nil {
			continue
		}
		if e.Fields == nil {
			e.Fields = make(map[string]protocol.FieldValue, len(p.keys))
		}
		for idx, key := range p.keys {
			e.Fields[key] = protocol.StringValue(string(matches[idx+1]))
		}
	}
	return group, nil
}
