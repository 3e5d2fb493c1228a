package tilelog

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

// InMemoryTileLog implements the tilelog.TileLog interface for a single tile.
// All operations, including the compaction triggered by Fetch, run under one mutex,
// so a cursor is never observed halfway through a rebase. It is safe for concurrent use.
type InMemoryTileLog struct {
	mu       sync.Mutex
	position tilelog.Position
	policy   tilelog.CompactionPolicy

	events    []*tilelog.Event
	discarded int64          // events trimmed from the front so far
	cursors   map[string]int // consumer -> index of last retrieved event in events

	// Service order: least recently serviced consumer at the front
	order    *list.List
	elements map[string]*list.Element

	fetches     int64
	compactions int64
	lost        int64
	closed      bool
}

// NewInMemoryTileLog creates an empty log for the tile at position.
func NewInMemoryTileLog(position tilelog.Position, policy tilelog.CompactionPolicy) *InMemoryTileLog {
	return &InMemoryTileLog{
		position: position,
		policy:   policy,
		events:   make([]*tilelog.Event, 0),
		cursors:  make(map[string]int),
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

// Position returns the tile this log belongs to.
func (l *InMemoryTileLog) Position() tilelog.Position {
	return l.position
}

// Policy returns the compaction policy the log was created with.
func (l *InMemoryTileLog) Policy() tilelog.CompactionPolicy {
	return l.policy
}

// Register appends an event to the tail of the log.
func (l *InMemoryTileLog) Register(ctx context.Context, event *tilelog.Event) (*tilelog.Event, error) {
	if event == nil {
		return nil, tilelog.ErrNilEvent
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, tilelog.ErrClosed
	}

	stored := event.WithSeq(l.position, l.discarded+int64(len(l.events)))

	// Nobody can read an event registered before they joined, so a tile without
	// consumers only advances its sequence. CompactNone keeps the full history.
	if len(l.cursors) == 0 && l.policy != tilelog.CompactNone {
		l.compact(len(l.events))
		l.discarded++
		return stored, nil
	}
	l.events = append(l.events, stored)

	return stored, nil
}

// AddConsumer marks the consumer as caught up with the current tail.
func (l *InMemoryTileLog) AddConsumer(ctx context.Context, consumerID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return tilelog.ErrClosed
	}

	// Re-adding overwrites the cursor: the unread backlog is dropped on purpose
	l.cursors[consumerID] = len(l.events) - 1
	if el, ok := l.elements[consumerID]; ok {
		l.order.MoveToBack(el)
	} else {
		l.elements[consumerID] = l.order.PushBack(consumerID)
	}

	return nil
}

// Fetch returns the events the consumer has not retrieved yet and advances its cursor.
// When the consumer was the least recently serviced one, the front of the log is compacted.
func (l *InMemoryTileLog) Fetch(ctx context.Context, consumerID string) ([]*tilelog.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, tilelog.ErrClosed
	}

	cursor, ok := l.cursors[consumerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q on tile %s", tilelog.ErrUnknownConsumer, consumerID, l.position)
	}

	// Result and new cursor come from the same snapshot of the buffer
	pending := l.events[cursor+1:]
	result := make([]*tilelog.Event, len(pending))
	for i, event := range pending {
		result[i] = event.Copy()
	}
	l.cursors[consumerID] = len(l.events) - 1

	el := l.elements[consumerID]
	oldest := l.order.Front() == el
	l.order.MoveToBack(el)

	if oldest {
		l.compact(l.trimCount(cursor))
	}
	l.fetches++

	return result, nil
}

// RemoveConsumer forgets the consumer's cursor. With CompactMinCursor the events only
// that consumer was holding back are released immediately.
func (l *InMemoryTileLog) RemoveConsumer(ctx context.Context, consumerID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return tilelog.ErrClosed
	}

	el, ok := l.elements[consumerID]
	if !ok {
		return fmt.Errorf("%w: %q on tile %s", tilelog.ErrUnknownConsumer, consumerID, l.position)
	}

	l.order.Remove(el)
	delete(l.elements, consumerID)
	delete(l.cursors, consumerID)

	if l.policy == tilelog.CompactMinCursor {
		l.compact(l.minCursor() + 1)
	}

	return nil
}

// Consumers returns every consumer cursor, least recently serviced first.
func (l *InMemoryTileLog) Consumers(ctx context.Context) ([]tilelog.ConsumerState, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, tilelog.ErrClosed
	}

	states := make([]tilelog.ConsumerState, 0, len(l.cursors))
	for el := l.order.Front(); el != nil; el = el.Next() {
		id := el.Value.(string)
		cursor := l.cursors[id]
		states = append(states, tilelog.ConsumerState{
			ID:      id,
			Cursor:  cursor,
			LastSeq: int64(cursor) + l.discarded,
			Pending: len(l.events) - 1 - cursor,
		})
	}

	return states, nil
}

// Stats returns counters describing the log.
func (l *InMemoryTileLog) Stats(ctx context.Context) (tilelog.Stats, error) {
	select {
	case <-ctx.Done():
		return tilelog.Stats{}, ctx.Err()
	default:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return tilelog.Stats{
		Position:    l.position,
		Buffered:    len(l.events),
		Discarded:   l.discarded,
		Registered:  l.discarded + int64(len(l.events)),
		Consumers:   len(l.cursors),
		Fetches:     l.fetches,
		Compactions: l.compactions,
		Lost:        l.lost,
	}, nil
}

// Close releases the buffered events and cursors.
func (l *InMemoryTileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil // Already closed, idempotent
	}

	l.events = nil
	l.cursors = make(map[string]int)
	l.elements = make(map[string]*list.Element)
	l.order.Init()
	l.closed = true

	return nil
}

// trimCount returns how many events a fetch by the least recently serviced consumer
// may drop. prevCursor is that consumer's cursor before the fetch advanced it.
// Must be called with mu held.
func (l *InMemoryTileLog) trimCount(prevCursor int) int {
	switch l.policy {
	case tilelog.CompactMinCursor:
		return l.minCursor() + 1
	case tilelog.CompactServiceOrder:
		if prevCursor < 0 {
			return 0
		}
		return prevCursor
	default:
		return 0
	}
}

// minCursor returns the smallest cursor, or the tail index when there are no consumers.
// Must be called with mu held.
func (l *InMemoryTileLog) minCursor() int {
	lowest := len(l.events) - 1
	for _, cursor := range l.cursors {
		if cursor < lowest {
			lowest = cursor
		}
	}
	return lowest
}

// compact drops the first n events and rebases every cursor by n.
// Must be called with mu held.
func (l *InMemoryTileLog) compact(n int) {
	if n <= 0 {
		return
	}
	if n > len(l.events) {
		n = len(l.events)
	}

	for id, cursor := range l.cursors {
		rebased := cursor - n
		if rebased < -1 {
			l.lost += int64(-1 - rebased)
			rebased = -1
		}
		l.cursors[id] = rebased
	}

	// Copy the tail so the trimmed prefix can be garbage collected
	remaining := make([]*tilelog.Event, len(l.events)-n)
	copy(remaining, l.events[n:])
	l.events = remaining

	l.discarded += int64(n)
	l.compactions++
}

// Verify that InMemoryTileLog implements the TileLog interface at compile time
var _ tilelog.TileLog = (*InMemoryTileLog)(nil)
