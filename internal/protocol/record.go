package protocol

import "time"

// Record is a bounded byte slice produced by the Framer: one logical
// log line or multi-line group.
type Record struct {
	Source   FileIdentity
	Offset   int64
	Length   int64
	Data     []byte
	Sequence uint64
}

// FieldValue is a typed field value carried by an Event.
type FieldValue struct {
	String string
	Number float64
	Bool   bool
	Kind   FieldKind
}

// FieldKind discriminates which member of FieldValue is populated.
type FieldKind int

const (
	FieldString FieldKind = iota
	FieldNumber
	FieldBool
)

// StringValue builds a string FieldValue.
func StringValue(s string) FieldValue { return FieldValue{String: s, Kind: FieldString} }

// NumberValue builds a numeric FieldValue.
func NumberValue(f float64) FieldValue { return FieldValue{Number: f, Kind: FieldNumber} }

// BoolValue builds a boolean FieldValue.
func BoolValue(b bool) FieldValue { return FieldValue{Bool: b, Kind: FieldBool} }

// Event is one structured, timestamped record within an EventGroup.
type Event struct {
	Timestamp time.Time
	Fields    map[string]FieldValue
	Tags      map[string]string
	// Raw holds the original record bytes the Event was built from;
	// processors parse from it.
	Raw []byte
	// ParseFailed is set when no processor in the chain produced fields.
	ParseFailed bool
}

// EventGroup is an ordered sequence of Events sharing a RoutingKey.
type EventGroup struct {
	RoutingKey RoutingKey
	Events     []Event
}

// RoutingKey is an opaque 64-bit key derived from (project, logstore)
// or an equivalent logical destination.
type RoutingKey uint64
