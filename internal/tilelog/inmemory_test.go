package tilelog

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

func newTestLog(t *testing.T, policy tilelog.CompactionPolicy) *InMemoryTileLog {
	t.Helper()
	log := NewInMemoryTileLog(tilelog.Origin, policy)
	t.Cleanup(func() { log.Close() })
	return log
}

func register(t *testing.T, log *InMemoryTileLog, kinds ...string) {
	t.Helper()
	for _, kind := range kinds {
		_, err := log.Register(context.Background(), tilelog.NewEvent(kind, []byte(kind)))
		require.NoError(t, err)
	}
}

func fetchKinds(t *testing.T, log *InMemoryTileLog, consumerID string) []string {
	t.Helper()
	events, err := log.Fetch(context.Background(), consumerID)
	require.NoError(t, err)
	kinds := make([]string, 0, len(events))
	for _, event := range events {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

// TestTileLog_TwoConsumersSeeEverything registers A and B, three events, and checks both get all three
func TestTileLog_TwoConsumersSeeEverything(t *testing.T) {
	for _, policy := range []tilelog.CompactionPolicy{tilelog.CompactMinCursor, tilelog.CompactServiceOrder, tilelog.CompactNone} {
		t.Run(policy.String(), func(t *testing.T) {
			log := newTestLog(t, policy)
			ctx := context.Background()

			require.NoError(t, log.AddConsumer(ctx, "A"))
			require.NoError(t, log.AddConsumer(ctx, "B"))
			register(t, log, "e1", "e2", "e3")

			assert.Equal(t, []string{"e1", "e2", "e3"}, fetchKinds(t, log, "A"))
			assert.Equal(t, []string{"e1", "e2", "e3"}, fetchKinds(t, log, "B"))

			register(t, log, "e4")
			assert.Equal(t, []string{"e4"}, fetchKinds(t, log, "A"))
		})
	}
}

// TestTileLog_UnknownConsumer checks fetch fails fast for a consumer that never joined
func TestTileLog_UnknownConsumer(t *testing.T) {
	log := newTestLog(t, tilelog.CompactMinCursor)
	ctx := context.Background()

	require.NoError(t, log.AddConsumer(ctx, "A"))
	register(t, log, "e1")
	assert.Equal(t, []string{"e1"}, fetchKinds(t, log, "A"))

	events, err := log.Fetch(ctx, "unknown")
	assert.Nil(t, events)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tilelog.ErrUnknownConsumer))
	assert.Contains(t, err.Error(), `"unknown"`)
	assert.Contains(t, err.Error(), "(0,0)")
}

// TestTileLog_CompactionTriggeredByOldest follows the A/B scenario where B's fetch compacts the log
func TestTileLog_CompactionTriggeredByOldest(t *testing.T) {
	for _, policy := range []tilelog.CompactionPolicy{tilelog.CompactMinCursor, tilelog.CompactServiceOrder} {
		t.Run(policy.String(), func(t *testing.T) {
			log := newTestLog(t, policy)
			ctx := context.Background()

			require.NoError(t, log.AddConsumer(ctx, "A"))
			require.NoError(t, log.AddConsumer(ctx, "B"))
			register(t, log, "e1")

			// A had cursor -1, nothing can be discarded yet
			assert.Equal(t, []string{"e1"}, fetchKinds(t, log, "A"))
			stats, err := log.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(0), stats.Discarded)

			register(t, log, "e2")
			assert.Equal(t, []string{"e1", "e2"}, fetchKinds(t, log, "B"))

			// A still gets exactly what it has not seen
			assert.Equal(t, []string{"e2"}, fetchKinds(t, log, "A"))
			assert.Empty(t, fetchKinds(t, log, "B"))

			stats, err = log.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(0), stats.Lost)
			assert.Equal(t, int64(2), stats.Registered)
		})
	}
}

// TestTileLog_SecondFetchIsEmpty checks a repeated fetch with no new events returns nothing
func TestTileLog_SecondFetchIsEmpty(t *testing.T) {
	log := newTestLog(t, tilelog.CompactMinCursor)
	ctx := context.Background()

	require.NoError(t, log.AddConsumer(ctx, "A"))
	register(t, log, "e1", "e2")

	assert.Len(t, fetchKinds(t, log, "A"), 2)
	assert.Empty(t, fetchKinds(t, log, "A"))
}

// TestTileLog_EventsBeforeJoinAreNotDelivered checks a new consumer starts at the tail
func TestTileLog_EventsBeforeJoinAreNotDelivered(t *testing.T) {
	log := newTestLog(t, tilelog.CompactNone)
	ctx := context.Background()

	register(t, log, "before")
	require.NoError(t, log.AddConsumer(ctx, "A"))
	register(t, log, "after")

	assert.Equal(t, []string{"after"}, fetchKinds(t, log, "A"))
}

// TestTileLog_ReAddDropsBacklog checks that re-adding a consumer marks it caught up
func TestTileLog_ReAddDropsBacklog(t *testing.T) {
	log := newTestLog(t, tilelog.CompactMinCursor)
	ctx := context.Background()

	require.NoError(t, log.AddConsumer(ctx, "A"))
	require.NoError(t, log.AddConsumer(ctx, "B"))
	register(t, log, "e1", "e2")

	require.NoError(t, log.AddConsumer(ctx, "A"))
	assert.Empty(t, fetchKinds(t, log, "A"))

	// Re-adding does not duplicate A in the service order
	consumers, err := log.Consumers(ctx)
	require.NoError(t, err)
	require.Len(t, consumers, 2)
	assert.Equal(t, "B", consumers[0].ID)
	assert.Equal(t, "A", consumers[1].ID)

	assert.Equal(t, []string{"e1", "e2"}, fetchKinds(t, log, "B"))
}

// TestTileLog_RegisterAssignsSeq checks Seq keeps growing across compactions
func TestTileLog_RegisterAssignsSeq(t *testing.T) {
	log := newTestLog(t, tilelog.CompactMinCursor)
	ctx := context.Background()

	require.NoError(t, log.AddConsumer(ctx, "A"))

	for round := 0; round < 3; round++ {
		for i := 0; i < 2; i++ {
			stored, err := log.Register(ctx, tilelog.NewEvent("tick", nil))
			require.NoError(t, err)
			assert.Equal(t, int64(round*2+i), stored.Seq)
			assert.Equal(t, tilelog.Origin, stored.Tile)
		}
		events, err := log.Fetch(ctx, "A")
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(round*2), events[0].Seq)
	}

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Registered)
	assert.Equal(t, int64(6), stats.Discarded)
	assert.Equal(t, 0, stats.Buffered)
}

// TestTileLog_FetchReturnsCopies checks callers cannot mutate the buffered events
func TestTileLog_FetchReturnsCopies(t *testing.T) {
	log := newTestLog(t, tilelog.CompactNone)
	ctx := context.Background()

	require.NoError(t, log.AddConsumer(ctx, "A"))
	require.NoError(t, log.AddConsumer(ctx, "B"))
	register(t, log, "e1")

	events, err := log.Fetch(ctx, "A")
	require.NoError(t, err)
	events[0].Payload[0] = 'X'
	events[0].Headers["k"] = "v"

	events, err = log.Fetch(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "e1", string(events[0].Payload))
	assert.Empty(t, events[0].Headers)
}

// TestTileLog_RemoveConsumer checks removal and the compaction it unblocks
func TestTileLog_RemoveConsumer(t *testing.T) {
	log := newTestLog(t, tilelog.CompactMinCursor)
	ctx := context.Background()

	require.NoError(t, log.AddConsumer(ctx, "A"))
	require.NoError(t, log.AddConsumer(ctx, "idle"))
	register(t, log, "e1", "e2", "e3")
	fetchKinds(t, log, "A")

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Buffered, "idle consumer pins the buffer")

	require.NoError(t, log.RemoveConsumer(ctx, "idle"))
	stats, err = log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Buffered)
	assert.Equal(t, 1, stats.Consumers)

	_, err = log.Fetch(ctx, "idle")
	assert.ErrorIs(t, err, tilelog.ErrUnknownConsumer)

	err = log.RemoveConsumer(ctx, "idle")
	assert.ErrorIs(t, err, tilelog.ErrUnknownConsumer)

	// Remaining consumer is unaffected
	register(t, log, "e4")
	assert.Equal(t, []string{"e4"}, fetchKinds(t, log, "A"))
}

// TestTileLog_RemoveLastConsumerDropsBuffer checks nothing is kept when nobody can read it
func TestTileLog_RemoveLastConsumerDropsBuffer(t *testing.T) {
	log := newTestLog(t, tilelog.CompactMinCursor)
	ctx := context.Background()

	require.NoError(t, log.AddConsumer(ctx, "A"))
	register(t, log, "e1", "e2")
	require.NoError(t, log.RemoveConsumer(ctx, "A"))

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Buffered)
	assert.Equal(t, int64(2), stats.Discarded)

	stored, err := log.Register(ctx, tilelog.NewEvent("e3", nil))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Seq)
}

// TestTileLog_NoConsumersBuffersNothing checks a tile nobody joined does not grow
func TestTileLog_NoConsumersBuffersNothing(t *testing.T) {
	for _, policy := range []tilelog.CompactionPolicy{tilelog.CompactMinCursor, tilelog.CompactServiceOrder} {
		t.Run(policy.String(), func(t *testing.T) {
			log := newTestLog(t, policy)
			ctx := context.Background()

			for i := 0; i < 10000; i++ {
				stored, err := log.Register(ctx, tilelog.NewEvent("e", nil))
				require.NoError(t, err)
				require.Equal(t, int64(i), stored.Seq)
			}

			stats, err := log.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, stats.Buffered)
			assert.Equal(t, int64(10000), stats.Discarded)
			assert.Equal(t, int64(10000), stats.Registered)
			assert.Equal(t, int64(0), stats.Lost)

			// A consumer joining now only sees what comes next
			require.NoError(t, log.AddConsumer(ctx, "A"))
			register(t, log, "late")
			events, err := log.Fetch(ctx, "A")
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.Equal(t, int64(10000), events[0].Seq)
		})
	}
}

// TestTileLog_LeftoverBufferDroppedOnRegister checks events held after the last consumer
// left under service order are released by the next register
func TestTileLog_LeftoverBufferDroppedOnRegister(t *testing.T) {
	log := newTestLog(t, tilelog.CompactServiceOrder)
	ctx := context.Background()

	require.NoError(t, log.AddConsumer(ctx, "A"))
	register(t, log, "e1", "e2")
	require.NoError(t, log.RemoveConsumer(ctx, "A"))

	stored, err := log.Register(ctx, tilelog.NewEvent("e3", nil))
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Seq)

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Buffered)
	assert.Equal(t, int64(3), stats.Discarded)
}

// TestTileLog_NoneKeepsHistoryWithoutConsumers checks CompactNone never discards
func TestTileLog_NoneKeepsHistoryWithoutConsumers(t *testing.T) {
	log := newTestLog(t, tilelog.CompactNone)
	register(t, log, "e1", "e2", "e3")

	stats, err := log.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Buffered)
	assert.Equal(t, int64(0), stats.Discarded)
}

// TestTileLog_Consumers checks the cursor snapshot
func TestTileLog_Consumers(t *testing.T) {
	log := newTestLog(t, tilelog.CompactMinCursor)
	ctx := context.Background()

	require.NoError(t, log.AddConsumer(ctx, "A"))
	require.NoError(t, log.AddConsumer(ctx, "B"))
	register(t, log, "e1", "e2")
	fetchKinds(t, log, "B")

	consumers, err := log.Consumers(ctx)
	require.NoError(t, err)
	require.Len(t, consumers, 2)

	assert.Equal(t, tilelog.ConsumerState{ID: "A", Cursor: -1, LastSeq: -1, Pending: 2}, consumers[0])
	assert.Equal(t, tilelog.ConsumerState{ID: "B", Cursor: 1, LastSeq: 1, Pending: 0}, consumers[1])
}

// TestTileLog_NilEvent checks nil events are rejected
func TestTileLog_NilEvent(t *testing.T) {
	log := newTestLog(t, tilelog.CompactMinCursor)

	_, err := log.Register(context.Background(), nil)
	assert.ErrorIs(t, err, tilelog.ErrNilEvent)
}

// TestTileLog_CancelledContext checks operations honour an already cancelled context
func TestTileLog_CancelledContext(t *testing.T) {
	log := newTestLog(t, tilelog.CompactMinCursor)
	require.NoError(t, log.AddConsumer(context.Background(), "A"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := log.Register(ctx, tilelog.NewEvent("e1", nil))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, log.AddConsumer(ctx, "B"), context.Canceled)
	_, err = log.Fetch(ctx, "A")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, log.RemoveConsumer(ctx, "A"), context.Canceled)
}

// TestTileLog_Close checks close is idempotent and fails later operations
func TestTileLog_Close(t *testing.T) {
	log := NewInMemoryTileLog(tilelog.Position{X: 3, Y: -2}, tilelog.CompactMinCursor)
	ctx := context.Background()

	require.NoError(t, log.AddConsumer(ctx, "A"))
	require.NoError(t, log.Close())
	require.NoError(t, log.Close())

	_, err := log.Register(ctx, tilelog.NewEvent("e1", nil))
	assert.ErrorIs(t, err, tilelog.ErrClosed)
	_, err = log.Fetch(ctx, "A")
	assert.ErrorIs(t, err, tilelog.ErrClosed)
	assert.ErrorIs(t, log.AddConsumer(ctx, "A"), tilelog.ErrClosed)
	_, err = log.Consumers(ctx)
	assert.ErrorIs(t, err, tilelog.ErrClosed)

	assert.Equal(t, tilelog.Position{X: 3, Y: -2}, log.Position())
}
