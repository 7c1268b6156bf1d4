package events

import "repcollateral/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Convertible is implemented by events that can render themselves in the
// generic attribute form used by subscribers.
type Convertible interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events in emission order until they are drained. The host
// uses it to hold events back until the surrounding call has committed.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Drain returns the buffered events and resets the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil {
		return nil
	}
	out := b.pending
	b.pending = nil
	return out
}

// Reset discards buffered events.
func (b *Buffer) Reset() {
	if b == nil {
		return
	}
	b.pending = nil
}

// ToGeneric converts evt into its attribute form. Events without a
// conversion are reported with their type only.
func ToGeneric(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if conv, ok := evt.(Convertible); ok {
		return conv.Event()
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
