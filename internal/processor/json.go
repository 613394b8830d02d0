package processor

import (
	"encoding/json"

	"github.com/estuary/logtail/internal/protocol"
)

// JSONParser parses each Event's raw body as a single JSON object,
// mapping top-level keys to fields. Non-object or malformed JSON
// yields no fields, which the pipeline treats as a parse failure.
type JSONParser struct {
	name    string
	metrics *InstanceMetrics
}

// NewJSONParser returns a JSONParser.
func NewJSONParser(name string) *JSONParser {
	return &JSONParser{name: name, metrics: NewInstanceMetrics(name)}
}

func (p *JSONParser) Name() string          { return p.name }
func (p *JSONParser) InputKind() EventKind  { return KindRaw }
func (p *JSONParser) Metrics() *InstanceMetrics { return p.metrics }

func (p *JSONParser) Process(group protocol.EventGroup) (protocol.EventGroup, error) {
	for i := range group.Events {
		var e = &group.Events[i]

		var raw map[string]json.RawMessage
		if err := json.Unmarshal(e.Raw, &raw); err != nil {
			continue
		}

		if e.Fields == nil {
			e.Fields = make(map[string]protocol.FieldValue, len(raw))
		}
		for key, v := range raw {
			e.Fields[key] = decodeJSONValue(v)
		}
	}
	return group, nil
}

func decodeJSONValue(raw json.RawMessage) protocol.FieldValue {
	if string(raw) == "null" {
		return protocol.StringValue("null")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return protocol.NumberValue(f)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return protocol.BoolValue(b)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return protocol.StringValue(s)
	}
	// Nested object/array: keep its JSON text verbatim.
	return protocol.StringValue(string(raw))
}
