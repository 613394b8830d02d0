package engine

import "github.com/estuary/logtail/internal/protocol"

// Sink is the terminal consumer of a SenderQueue: whatever ships parsed
// EventGroups off-host. Network shippers are out of scope for the core
// engine, so Sink is the seam a caller plugs a real transport into;
// DiscardSink is used when nothing is configured.
type Sink interface {
	Write(group protocol.EventGroup) error
}

// DiscardSink acknowledges every group without shipping it anywhere,
// matching the engine's own exactly-once bookkeeping (which only needs
// to know the write was accepted, not where it went).
type DiscardSink struct{}

func (DiscardSink) Write(protocol.EventGroup) error { return nil }
