package tilelog

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnknownConsumer is returned when a consumer fetches or leaves a tile it never joined
	ErrUnknownConsumer = errors.New("unknown consumer")
	// ErrNilEvent is returned when a nil event is registered
	ErrNilEvent = errors.New("event cannot be nil")
	// ErrClosed is returned by every operation on a closed tile log
	ErrClosed = errors.New("tile log is closed")
	// ErrReservedHeader is returned when a client sets a header the server owns
	ErrReservedHeader = errors.New("reserved header")
	// ErrEventTooLarge is returned when an event's Size exceeds MaxEventSize
	ErrEventTooLarge = errors.New("event too large")
)

// CompactionPolicy selects how much of the log a fetch is allowed to trim.
// Compaction is only ever triggered by a fetch from the least recently serviced consumer.
type CompactionPolicy int

const (
	// CompactMinCursor trims every event that all consumers have retrieved.
	CompactMinCursor CompactionPolicy = iota

	// CompactServiceOrder trims up to the pre-fetch cursor of the fetching consumer,
	// assuming the least recently serviced consumer is also the furthest behind.
	// A cursor that would fall before the new front is clamped and the skipped
	// events are counted in Stats.Lost.
	CompactServiceOrder

	// CompactNone never trims the log.
	CompactNone
)

func (p CompactionPolicy) String() string {
	switch p {
	case CompactMinCursor:
		return "min-cursor"
	case CompactServiceOrder:
		return "service-order"
	case CompactNone:
		return "none"
	default:
		return "unknown"
	}
}

// ParseCompactionPolicy is the inverse of CompactionPolicy.String.
func ParseCompactionPolicy(s string) (CompactionPolicy, error) {
	switch s {
	case "min-cursor", "":
		return CompactMinCursor, nil
	case "service-order":
		return CompactServiceOrder, nil
	case "none":
		return CompactNone, nil
	default:
		return CompactMinCursor, fmt.Errorf("unknown compaction policy %q (want min-cursor, service-order or none)", s)
	}
}

// TileLog is the append-only event log of a single tile with one read cursor per consumer.
// Implementations serialize all operations on the same tile; distinct tiles are independent.
type TileLog interface {
	io.Closer

	// Position returns the tile this log belongs to.
	Position() Position

	// Register appends an event to the tail of the log.
	// The returned event carries the assigned Seq and Tile. While the tile has no
	// consumers the event is counted as discarded instead of buffered, except
	// under CompactNone.
	Register(ctx context.Context, event *Event) (*Event, error)

	// AddConsumer sets the consumer's cursor to the current tail and marks it as the
	// most recently serviced consumer. Re-adding a known consumer drops its unread backlog.
	AddConsumer(ctx context.Context, consumerID string) error

	// Fetch returns every event registered since the consumer's previous fetch (or since
	// it was added), in registration order, and advances its cursor to the tail.
	// Returns ErrUnknownConsumer if the consumer was never added.
	Fetch(ctx context.Context, consumerID string) ([]*Event, error)

	// RemoveConsumer forgets the consumer's cursor.
	// Returns ErrUnknownConsumer if the consumer was never added.
	RemoveConsumer(ctx context.Context, consumerID string) error

	// Consumers returns a snapshot of every consumer cursor, oldest serviced first.
	Consumers(ctx context.Context) ([]ConsumerState, error)

	// Stats returns counters describing the log.
	Stats(ctx context.Context) (Stats, error)
}

// ConsumerState describes one consumer's cursor
type ConsumerState struct {
	ID string

	// Cursor is the index of the last retrieved event in the current buffer (-1 for none)
	Cursor int

	// LastSeq is Cursor plus the number of discarded events: the Seq of the last event
	// the consumer has retrieved or skipped by joining (-1 before any event exists)
	LastSeq int64

	// Pending is the number of events the next fetch would return
	Pending int
}

// Stats provides aggregate statistics about a tile log
type Stats struct {
	Position    Position
	Buffered    int   // Events currently held in memory
	Discarded   int64 // Events trimmed from the front so far
	Registered  int64 // Events registered over the tile's lifetime
	Consumers   int   // Registered consumers
	Fetches     int64 // Successful fetches
	Compactions int64 // Fetches or removals that trimmed at least one event
	Lost        int64 // Unread events skipped by CompactServiceOrder
}
