package tilelog

import (
	"time"

	"github.com/google/uuid"
)

// PublisherHeader names the header identifying who published an event.
// Transports set it server-side and reject events that already carry it.
const PublisherHeader = "publisher"

// MaxEventSize bounds Event.Size for published events
const MaxEventSize = 1 << 20

// Event represents a single event in a tile's log.
type Event struct {
	// ID uniquely identifies the event across tiles
	ID string

	// Seq is the position of this event in the tile's lifetime, starting at 0.
	// It keeps growing when the front of the log is compacted away.
	Seq int64

	// Tile is the position of the tile the event was registered on
	Tile Position

	// Kind is the event type, e.g. "player.move" or KindBuild. See ClassOf.
	Kind string

	// Payload is the raw event data as bytes (immutable after creation)
	Payload []byte

	// Timestamp is when this event was created
	Timestamp time.Time

	// Headers are key-value metadata associated with this event (immutable after creation)
	Headers map[string]string
}

// NewEvent creates a new Event with the given kind and payload.
// The payload is copied to ensure immutability.
func NewEvent(kind string, payload []byte) *Event {
	return NewEventWithHeaders(kind, payload, nil)
}

// NewEventWithHeaders creates a new Event with headers.
// Both payload and headers are copied to ensure immutability.
func NewEventWithHeaders(kind string, payload []byte, headers map[string]string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Seq:       0, // Will be set by the TileLog when registering
		Kind:      kind,
		Payload:   copyBytes(payload),
		Timestamp: time.Now().UTC(),
		Headers:   copyHeaders(headers),
	}
}

// WithSeq returns a new Event placed on the given tile at the given sequence number.
// This is used internally by the TileLog when storing events.
func (e *Event) WithSeq(tile Position, seq int64) *Event {
	return &Event{
		ID:        e.ID,
		Seq:       seq,
		Tile:      tile,
		Kind:      e.Kind,
		Payload:   e.Payload,
		Timestamp: e.Timestamp,
		Headers:   e.Headers,
	}
}

// Copy returns a deep copy of the Event.
func (e *Event) Copy() *Event {
	return &Event{
		ID:        e.ID,
		Seq:       e.Seq,
		Tile:      e.Tile,
		Kind:      e.Kind,
		Payload:   copyBytes(e.Payload),
		Timestamp: e.Timestamp,
		Headers:   copyHeaders(e.Headers),
	}
}

// Size returns the bytes a publisher controls: kind, payload and headers.
func (e *Event) Size() int {
	size := len(e.Kind) + len(e.Payload)
	for k, v := range e.Headers {
		size += len(k) + len(v)
	}
	return size
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
