package tilenode

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilenode"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/world"
)

// newStartedNode creates and starts a node that is closed when the test ends
func newStartedNode(t *testing.T, policy tilelog.CompactionPolicy) *TileNode {
	t.Helper()

	node, err := NewTileNode(NewConfig("test-node", "localhost:8080").WithCompactionPolicy(policy))
	if err != nil {
		t.Fatalf("Expected no error creating tile node, got %v", err)
	}
	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("Expected no error starting node, got %v", err)
	}
	t.Cleanup(func() { _ = node.Close() })
	return node
}

func publish(t *testing.T, node *TileNode, pos tilelog.Position, kinds ...string) {
	t.Helper()
	for _, kind := range kinds {
		if _, err := node.Publish(context.Background(), pos, tilelog.NewEvent(kind, nil)); err != nil {
			t.Fatalf("Expected no error publishing %s, got %v", kind, err)
		}
	}
}

func fetchKinds(t *testing.T, node *TileNode, playerID string, pos tilelog.Position) []string {
	t.Helper()
	events, err := node.Fetch(context.Background(), playerID, pos)
	if err != nil {
		t.Fatalf("Expected no error fetching for %s, got %v", playerID, err)
	}
	kinds := make([]string, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	return kinds
}

func equalKinds(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TestTileNode_TwoPlayersSeeEveryEvent tests delivery of the same events to every joined player
func TestTileNode_TwoPlayersSeeEveryEvent(t *testing.T) {
	ctx := context.Background()
	node := newStartedNode(t, tilelog.CompactMinCursor)
	pos := tilelog.Position{X: 1, Y: -1}

	if err := node.Join(ctx, "A", pos); err != nil {
		t.Fatalf("Expected no error joining A, got %v", err)
	}
	if err := node.Join(ctx, "B", pos); err != nil {
		t.Fatalf("Expected no error joining B, got %v", err)
	}

	publish(t, node, pos, "e1", "e2")
	if got := fetchKinds(t, node, "A", pos); !equalKinds(got, []string{"e1", "e2"}) {
		t.Errorf("Expected A to get [e1 e2], got %v", got)
	}

	publish(t, node, pos, "e3")
	if got := fetchKinds(t, node, "B", pos); !equalKinds(got, []string{"e1", "e2", "e3"}) {
		t.Errorf("Expected B to get [e1 e2 e3], got %v", got)
	}
	if got := fetchKinds(t, node, "A", pos); !equalKinds(got, []string{"e3"}) {
		t.Errorf("Expected A to get [e3], got %v", got)
	}
	if got := fetchKinds(t, node, "A", pos); len(got) != 0 {
		t.Errorf("Expected A to get nothing on a second fetch, got %v", got)
	}
}

// TestTileNode_UnknownPlayer tests fetch and leave by players that never joined
func TestTileNode_UnknownPlayer(t *testing.T) {
	ctx := context.Background()
	node := newStartedNode(t, tilelog.CompactMinCursor)
	pos := tilelog.Position{X: 5, Y: 5}

	// Tile does not exist yet
	if _, err := node.Fetch(ctx, "ghost", pos); !errors.Is(err, tilelog.ErrUnknownConsumer) {
		t.Errorf("Expected ErrUnknownConsumer for missing tile, got %v", err)
	}
	count, _ := node.GetDirectory().TileCount(ctx)
	if count != 0 {
		t.Errorf("Expected fetch not to create a tile, got %d tiles", count)
	}

	publish(t, node, pos, "e1")
	if _, err := node.Fetch(ctx, "ghost", pos); !errors.Is(err, tilelog.ErrUnknownConsumer) {
		t.Errorf("Expected ErrUnknownConsumer for existing tile, got %v", err)
	}
	if err := node.Leave(ctx, "ghost", pos); !errors.Is(err, tilelog.ErrUnknownConsumer) {
		t.Errorf("Expected ErrUnknownConsumer leaving, got %v", err)
	}
	if _, err := node.Fetch(ctx, "", pos); !errors.Is(err, tilenode.ErrEmptyPlayerID) {
		t.Errorf("Expected ErrEmptyPlayerID, got %v", err)
	}
}

// TestTileNode_PublishNilEvent tests nil event validation
func TestTileNode_PublishNilEvent(t *testing.T) {
	node := newStartedNode(t, tilelog.CompactMinCursor)

	if _, err := node.Publish(context.Background(), tilelog.Origin, nil); !errors.Is(err, tilelog.ErrNilEvent) {
		t.Errorf("Expected ErrNilEvent, got %v", err)
	}
}

// TestTileNode_PublishTooLarge tests the event size limit
func TestTileNode_PublishTooLarge(t *testing.T) {
	ctx := context.Background()
	node := newStartedNode(t, tilelog.CompactMinCursor)

	big := tilelog.NewEvent("blob", make([]byte, tilelog.MaxEventSize))
	if _, err := node.Publish(ctx, tilelog.Origin, big); !errors.Is(err, tilelog.ErrEventTooLarge) {
		t.Errorf("Expected ErrEventTooLarge, got %v", err)
	}

	fits := tilelog.NewEvent("blob", make([]byte, tilelog.MaxEventSize-len("blob")))
	if _, err := node.Publish(ctx, tilelog.Origin, fits); err != nil {
		t.Errorf("Expected event at the limit to be accepted, got %v", err)
	}
}

// TestTileNode_PublishAssignsSeq tests that the stored event carries tile and sequence
func TestTileNode_PublishAssignsSeq(t *testing.T) {
	ctx := context.Background()
	node := newStartedNode(t, tilelog.CompactMinCursor)
	pos := tilelog.Position{X: -2, Y: 7}

	for want := int64(0); want < 3; want++ {
		stored, err := node.Publish(ctx, pos, tilelog.NewEvent("e", nil))
		if err != nil {
			t.Fatalf("Expected no error publishing, got %v", err)
		}
		if stored.Seq != want {
			t.Errorf("Expected Seq %d, got %d", want, stored.Seq)
		}
		if stored.Tile != pos {
			t.Errorf("Expected Tile %s, got %s", pos, stored.Tile)
		}
	}
}

// TestTileNode_WatchList tests that joins and leaves maintain the watch list
func TestTileNode_WatchList(t *testing.T) {
	ctx := context.Background()
	node := newStartedNode(t, tilelog.CompactMinCursor)
	a := tilelog.Position{X: 1, Y: 0}
	b := tilelog.Position{X: 0, Y: 1}
	c := tilelog.Position{X: -1, Y: 0}

	for _, pos := range []tilelog.Position{a, b, c} {
		if err := node.Join(ctx, "alice", pos); err != nil {
			t.Fatalf("Expected no error joining %s, got %v", pos, err)
		}
	}

	watching, err := node.Watching(ctx, "alice")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	want := []tilelog.Position{c, a, b} // Row, then column
	if len(watching) != len(want) {
		t.Fatalf("Expected %d watched tiles, got %v", len(want), watching)
	}
	for i := range want {
		if watching[i] != want[i] {
			t.Errorf("Expected watching[%d] = %s, got %s", i, want[i], watching[i])
		}
	}

	if err := node.Leave(ctx, "alice", a); err != nil {
		t.Fatalf("Expected no error leaving, got %v", err)
	}
	watching, _ = node.Watching(ctx, "alice")
	if len(watching) != 2 {
		t.Errorf("Expected 2 watched tiles after leave, got %v", watching)
	}

	players, _ := node.Players(ctx)
	if len(players) != 1 || players[0].ID != "alice" {
		t.Fatalf("Expected alice to be connected, got %v", players)
	}

	// Leaving the last tile disconnects the player
	_ = node.Leave(ctx, "alice", b)
	_ = node.Leave(ctx, "alice", c)
	players, _ = node.Players(ctx)
	if len(players) != 0 {
		t.Errorf("Expected no players after leaving every tile, got %v", players)
	}
}

// TestTileNode_FetchWatched tests fetching every watched tile in one call
func TestTileNode_FetchWatched(t *testing.T) {
	ctx := context.Background()
	node := newStartedNode(t, tilelog.CompactMinCursor)
	north := tilelog.Position{X: 0, Y: 1}
	south := tilelog.Position{X: 0, Y: -1}

	_ = node.Join(ctx, "alice", north)
	_ = node.Join(ctx, "alice", south)
	publish(t, node, north, "n1")
	publish(t, node, south, "s1", "s2")
	publish(t, node, tilelog.Origin, "unwatched")

	batches, err := node.FetchWatched(ctx, "alice")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(batches))
	}
	if batches[0].Position != south || len(batches[0].Events) != 2 {
		t.Errorf("Expected 2 events from %s first, got %s with %d", south, batches[0].Position, len(batches[0].Events))
	}
	if batches[1].Position != north || len(batches[1].Events) != 1 {
		t.Errorf("Expected 1 event from %s second, got %s with %d", north, batches[1].Position, len(batches[1].Events))
	}

	batches, _ = node.FetchWatched(ctx, "alice")
	for _, batch := range batches {
		if len(batch.Events) != 0 {
			t.Errorf("Expected no new events on %s, got %d", batch.Position, len(batch.Events))
		}
	}

	players, _ := node.Players(ctx)
	if players[0].LastFetch.IsZero() {
		t.Error("Expected LastFetch to be set after fetching")
	}

	batches, err = node.FetchWatched(ctx, "nobody")
	if err != nil || len(batches) != 0 {
		t.Errorf("Expected empty result for unknown player, got %v, %v", batches, err)
	}
}

// TestTileNode_RemovePlayer tests disconnecting a player from every tile
func TestTileNode_RemovePlayer(t *testing.T) {
	ctx := context.Background()
	node := newStartedNode(t, tilelog.CompactMinCursor)
	a := tilelog.Position{X: 1, Y: 1}
	b := tilelog.Position{X: 2, Y: 2}

	_ = node.Join(ctx, "alice", a)
	_ = node.Join(ctx, "alice", b)
	_ = node.Join(ctx, "bob", a)

	if err := node.RemovePlayer(ctx, "alice"); err != nil {
		t.Fatalf("Expected no error removing player, got %v", err)
	}
	if _, err := node.Fetch(ctx, "alice", a); !errors.Is(err, tilelog.ErrUnknownConsumer) {
		t.Errorf("Expected alice to be gone from %s, got %v", a, err)
	}

	detail, err := node.TileDetail(ctx, a)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(detail.Consumers) != 1 || detail.Consumers[0].ID != "bob" {
		t.Errorf("Expected only bob on %s, got %v", a, detail.Consumers)
	}

	// Unknown players are a no-op
	if err := node.RemovePlayer(ctx, "alice"); err != nil {
		t.Errorf("Expected no error removing unknown player, got %v", err)
	}
}

// TestTileNode_DropTile tests discarding a tile removes it from watch lists
func TestTileNode_DropTile(t *testing.T) {
	ctx := context.Background()
	node := newStartedNode(t, tilelog.CompactMinCursor)
	a := tilelog.Position{X: 1, Y: 1}
	b := tilelog.Position{X: 2, Y: 2}

	_ = node.Join(ctx, "alice", a)
	_ = node.Join(ctx, "alice", b)
	_ = node.Join(ctx, "bob", a)

	if err := node.DropTile(ctx, a); err != nil {
		t.Fatalf("Expected no error dropping tile, got %v", err)
	}

	watching, _ := node.Watching(ctx, "alice")
	if len(watching) != 1 || watching[0] != b {
		t.Errorf("Expected alice to watch only %s, got %v", b, watching)
	}
	players, _ := node.Players(ctx)
	if len(players) != 1 {
		t.Errorf("Expected bob to be disconnected, got %v", players)
	}

	if err := node.DropTile(ctx, a); !errors.Is(err, world.ErrTileNotFound) {
		t.Errorf("Expected ErrTileNotFound dropping twice, got %v", err)
	}
	if _, err := node.TileDetail(ctx, a); !errors.Is(err, world.ErrTileNotFound) {
		t.Errorf("Expected ErrTileNotFound for dropped tile, got %v", err)
	}
}

// TestTileNode_Stats tests aggregation over every tile
func TestTileNode_Stats(t *testing.T) {
	ctx := context.Background()
	node := newStartedNode(t, tilelog.CompactMinCursor)
	a := tilelog.Position{X: 0, Y: 0}
	b := tilelog.Position{X: 0, Y: 1}

	_ = node.Join(ctx, "alice", a)
	_ = node.Join(ctx, "bob", b)
	publish(t, node, a, "a1", "a2")
	publish(t, node, b, "b1")
	fetchKinds(t, node, "alice", a) // only consumer, so the tile compacts

	stats, err := node.GetStats(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if stats.Tiles != 2 || stats.Players != 2 || stats.Consumers != 2 {
		t.Errorf("Expected 2 tiles, players and consumers, got %+v", stats)
	}
	if stats.Registered != 3 {
		t.Errorf("Expected 3 registered events, got %d", stats.Registered)
	}
	if stats.Discarded != 2 || stats.Buffered != 1 {
		t.Errorf("Expected 2 discarded and 1 buffered, got %+v", stats)
	}
	if stats.Fetches != 1 || stats.Compactions != 1 || stats.Lost != 0 {
		t.Errorf("Expected 1 fetch, 1 compaction and no loss, got %+v", stats)
	}
	if stats.Policy != tilelog.CompactMinCursor {
		t.Errorf("Expected min-cursor policy, got %s", stats.Policy)
	}

	tiles, err := node.TileStats(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(tiles) != 2 || tiles[0].Position != a || tiles[1].Position != b {
		t.Errorf("Expected stats for %s then %s, got %v", a, b, tiles)
	}
}

// TestTileNode_ConcurrentPlayers tests many players on overlapping tiles
func TestTileNode_ConcurrentPlayers(t *testing.T) {
	ctx := context.Background()
	node := newStartedNode(t, tilelog.CompactMinCursor)
	positions := world.Spiral(9)

	players := []string{"p1", "p2", "p3", "p4"}
	for _, id := range players {
		for _, pos := range positions {
			if err := node.Join(ctx, id, pos); err != nil {
				t.Fatalf("Expected no error joining, got %v", err)
			}
		}
	}

	const perTile = 50
	var wg sync.WaitGroup
	for _, pos := range positions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perTile; i++ {
				if _, err := node.Publish(ctx, pos, tilelog.NewEvent("e", nil)); err != nil {
					t.Errorf("publish: %v", err)
					return
				}
			}
		}()
	}

	received := make([]int, len(players))
	var readers sync.WaitGroup
	for i, id := range players {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for j := 0; j < 20; j++ {
				batches, err := node.FetchWatched(ctx, id)
				if err != nil {
					t.Errorf("fetch watched %s: %v", id, err)
					return
				}
				for _, batch := range batches {
					received[i] += len(batch.Events)
				}
			}
		}()
	}

	wg.Wait()
	readers.Wait()

	for i, id := range players {
		batches, err := node.FetchWatched(ctx, id)
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		for _, batch := range batches {
			received[i] += len(batch.Events)
		}
		if received[i] != perTile*len(positions) {
			t.Errorf("Expected %s to receive %d events, got %d", id, perTile*len(positions), received[i])
		}
	}

	stats, _ := node.GetStats(ctx)
	if stats.Lost != 0 {
		t.Errorf("Expected no lost events, got %d", stats.Lost)
	}
}
