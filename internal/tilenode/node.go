package tilenode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rmacdonaldsmith/tilemesh-go/internal/tilelink"
	"github.com/rmacdonaldsmith/tilemesh-go/internal/world"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilenode"
	worldpkg "github.com/rmacdonaldsmith/tilemesh-go/pkg/world"
)

// TileNode implements the tilenode.Node interface.
// It owns the world directory and the players' watch lists, and optionally serves
// the same operations over TileLink.
//
// Lock order: the node lock is taken before any tile lock. Tiles never call back
// into the node.
type TileNode struct {
	// lifecycle serializes Start, Stop and Close, which stop the clock outside mu
	lifecycle sync.Mutex

	mu     sync.RWMutex
	config *Config

	directory *world.InMemoryDirectory
	tileLink  *tilelink.Server // nil when TileLink is not configured
	clock     *clock           // nil when TickRate is 0

	started bool
	closed  bool

	players map[string]*Player
}

// NewTileNode creates a node with the given configuration and seeds the directory.
// Call Start() to begin operation.
func NewTileNode(config *Config) (*TileNode, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	directory := world.NewInMemoryDirectory(config.CompactionPolicy)
	if config.SeedTiles > 0 {
		if _, err := directory.Seed(context.Background(), config.SeedTiles); err != nil {
			return nil, fmt.Errorf("failed to seed tiles: %w", err)
		}
	}

	node := &TileNode{
		config:    config,
		directory: directory,
		players:   make(map[string]*Player),
	}
	if config.TickRate > 0 {
		node.clock = newClock(config.TickRate)
	}

	if config.TileLinkConfig != nil {
		server, err := tilelink.NewServer(config.TileLinkConfig, node)
		if err != nil {
			_ = directory.Close()
			return nil, fmt.Errorf("failed to create TileLink server: %w", err)
		}
		node.tileLink = server
	}

	return node, nil
}

// Start makes the node accept operations and starts the TileLink listener and the clock.
func (n *TileNode) Start(ctx context.Context) error {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()

	if err := n.start(ctx); err != nil {
		return err
	}
	if n.clock != nil {
		n.clock.start(n.tick)
	}
	return nil
}

func (n *TileNode) start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return fmt.Errorf("cannot start closed tile node: %w", tilenode.ErrNodeClosed)
	}

	if n.started {
		return nil // Already started, idempotent
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// The listener survives Stop, so only the first Start binds it
	if n.tileLink != nil && !n.tileLink.IsServing() {
		if err := n.tileLink.Start(); err != nil {
			return fmt.Errorf("failed to start TileLink: %w", err)
		}
	}

	n.started = true
	return nil
}

// Stop stops accepting operations and stops the clock. Tiles and watch lists are
// kept, so a later Start resumes where the node left off.
func (n *TileNode) Stop(ctx context.Context) error {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()

	n.mu.Lock()
	n.started = false
	n.mu.Unlock()

	// A tick holds the read lock, so the clock is stopped outside mu
	if n.clock != nil {
		n.clock.stop()
	}
	return nil
}

// Close shuts down the clock and TileLink and releases every tile.
func (n *TileNode) Close() error {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()

	if n.clock != nil {
		n.clock.stop()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil // Already closed, idempotent
	}

	if n.tileLink != nil {
		if err := n.tileLink.Close(); err != nil {
			return fmt.Errorf("failed to close TileLink: %w", err)
		}
	}

	if err := n.directory.Close(); err != nil {
		return fmt.Errorf("failed to close directory: %w", err)
	}

	n.players = make(map[string]*Player)
	n.started = false
	n.closed = true
	return nil
}

// checkRunning must be called with mu held
func (n *TileNode) checkRunning() error {
	if n.closed {
		return tilenode.ErrNodeClosed
	}
	if !n.started {
		return tilenode.ErrNodeNotStarted
	}
	return nil
}

// lookupTile returns an existing tile. A missing tile means the player cannot have joined it.
// Must be called with mu held.
func (n *TileNode) lookupTile(ctx context.Context, playerID string, pos tilelog.Position) (tilelog.TileLog, error) {
	tile, err := n.directory.Lookup(ctx, pos)
	if errors.Is(err, worldpkg.ErrTileNotFound) {
		return nil, fmt.Errorf("%w: %q on tile %s", tilelog.ErrUnknownConsumer, playerID, pos)
	}
	return tile, err
}

// Publish registers an event on the tile at pos, creating the tile if needed.
// Events larger than tilelog.MaxEventSize are rejected.
func (n *TileNode) Publish(ctx context.Context, pos tilelog.Position, event *tilelog.Event) (*tilelog.Event, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	if event == nil {
		return nil, tilelog.ErrNilEvent
	}
	if size := event.Size(); size > tilelog.MaxEventSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", tilelog.ErrEventTooLarge, size, tilelog.MaxEventSize)
	}

	tile, err := n.directory.Tile(ctx, pos)
	if err != nil {
		return nil, fmt.Errorf("failed to open tile %s: %w", pos, err)
	}

	stored, err := tile.Register(ctx, event)
	if err != nil {
		return nil, fmt.Errorf("failed to register event on tile %s: %w", pos, err)
	}
	return stored, nil
}

// Join adds the player as a consumer of the tile at pos and to the player's watch list.
// Joining a watched tile again drops the player's unread backlog on that tile.
func (n *TileNode) Join(ctx context.Context, playerID string, pos tilelog.Position) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.checkRunning(); err != nil {
		return err
	}
	if playerID == "" {
		return tilenode.ErrEmptyPlayerID
	}

	tile, err := n.directory.Tile(ctx, pos)
	if err != nil {
		return fmt.Errorf("failed to open tile %s: %w", pos, err)
	}
	if err := tile.AddConsumer(ctx, playerID); err != nil {
		return fmt.Errorf("failed to join tile %s: %w", pos, err)
	}

	player, ok := n.players[playerID]
	if !ok {
		player = NewPlayer(playerID)
		n.players[playerID] = player
	}
	player.watch(pos)

	return nil
}

// Leave removes the player from the tile at pos and from its watch list.
func (n *TileNode) Leave(ctx context.Context, playerID string, pos tilelog.Position) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.checkRunning(); err != nil {
		return err
	}
	if playerID == "" {
		return tilenode.ErrEmptyPlayerID
	}

	tile, err := n.lookupTile(ctx, playerID, pos)
	if err != nil {
		return err
	}
	if err := tile.RemoveConsumer(ctx, playerID); err != nil {
		return err
	}

	if player, ok := n.players[playerID]; ok && player.unwatch(pos) {
		delete(n.players, playerID)
	}
	return nil
}

// Fetch returns the events of the tile at pos the player has not retrieved yet.
func (n *TileNode) Fetch(ctx context.Context, playerID string, pos tilelog.Position) ([]*tilelog.Event, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	if playerID == "" {
		return nil, tilenode.ErrEmptyPlayerID
	}

	events, err := n.fetchLocked(ctx, playerID, pos)
	if err != nil {
		return nil, err
	}
	if player, ok := n.players[playerID]; ok {
		player.touch()
	}
	return events, nil
}

// fetchLocked must be called with mu held (read or write)
func (n *TileNode) fetchLocked(ctx context.Context, playerID string, pos tilelog.Position) ([]*tilelog.Event, error) {
	tile, err := n.lookupTile(ctx, playerID, pos)
	if err != nil {
		return nil, err
	}
	return tile.Fetch(ctx, playerID)
}

// FetchWatched fetches every tile on the player's watch list, in watch list order.
// A player that watches nothing gets an empty result.
func (n *TileNode) FetchWatched(ctx context.Context, playerID string) ([]tilenode.TileEvents, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	if playerID == "" {
		return nil, tilenode.ErrEmptyPlayerID
	}

	player, ok := n.players[playerID]
	if !ok {
		return []tilenode.TileEvents{}, nil
	}

	watching := player.Watching()
	batches := make([]tilenode.TileEvents, 0, len(watching))
	for _, pos := range watching {
		events, err := n.fetchLocked(ctx, playerID, pos)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch tile %s: %w", pos, err)
		}
		batches = append(batches, tilenode.TileEvents{Position: pos, Events: events})
	}
	player.touch()

	return batches, nil
}

// RemovePlayer leaves every tile the player watches and forgets the player.
// Removing an unknown player is a no-op.
func (n *TileNode) RemovePlayer(ctx context.Context, playerID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.checkRunning(); err != nil {
		return err
	}
	if playerID == "" {
		return tilenode.ErrEmptyPlayerID
	}

	player, ok := n.players[playerID]
	if !ok {
		return nil
	}

	for _, pos := range player.Watching() {
		tile, err := n.lookupTile(ctx, playerID, pos)
		if err == nil {
			err = tile.RemoveConsumer(ctx, playerID)
		}
		if err != nil && !errors.Is(err, tilelog.ErrUnknownConsumer) {
			return fmt.Errorf("failed to leave tile %s: %w", pos, err)
		}
	}

	delete(n.players, playerID)
	return nil
}

// Watching returns the tiles on the player's watch list.
func (n *TileNode) Watching(ctx context.Context, playerID string) ([]tilelog.Position, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if player, ok := n.players[playerID]; ok {
		return player.Watching(), nil
	}
	return []tilelog.Position{}, nil
}

// Players returns every connected player sorted by ID.
func (n *TileNode) Players(ctx context.Context) ([]tilenode.PlayerInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	players := make([]tilenode.PlayerInfo, 0, len(n.players))
	for _, player := range n.players {
		players = append(players, player.Info())
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players, nil
}

// DropTile discards the tile at pos and removes it from every watch list.
func (n *TileNode) DropTile(ctx context.Context, pos tilelog.Position) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return tilenode.ErrNodeClosed
	}

	if err := n.directory.Drop(ctx, pos); err != nil {
		return err
	}

	for id, player := range n.players {
		if player.unwatch(pos) {
			delete(n.players, id)
		}
	}
	return nil
}

// TileDetail returns the statistics and consumer cursors of the tile at pos.
func (n *TileNode) TileDetail(ctx context.Context, pos tilelog.Position) (tilenode.TileDetail, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return tilenode.TileDetail{}, tilenode.ErrNodeClosed
	}

	tile, err := n.directory.Lookup(ctx, pos)
	if err != nil {
		return tilenode.TileDetail{}, err
	}
	stats, err := tile.Stats(ctx)
	if err != nil {
		return tilenode.TileDetail{}, err
	}
	consumers, err := tile.Consumers(ctx)
	if err != nil {
		return tilenode.TileDetail{}, err
	}

	return tilenode.TileDetail{Stats: stats, Consumers: consumers}, nil
}

// TileStats returns the statistics of every tile, sorted by row, then column.
func (n *TileNode) TileStats(ctx context.Context) ([]tilelog.Stats, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return nil, tilenode.ErrNodeClosed
	}
	return n.tileStatsLocked(ctx)
}

// tileStatsLocked must be called with mu held
func (n *TileNode) tileStatsLocked(ctx context.Context) ([]tilelog.Stats, error) {
	positions, err := n.directory.Positions(ctx)
	if err != nil {
		return nil, err
	}

	all := make([]tilelog.Stats, 0, len(positions))
	for _, pos := range positions {
		tile, err := n.directory.Lookup(ctx, pos)
		if errors.Is(err, worldpkg.ErrTileNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		stats, err := tile.Stats(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, stats)
	}
	return all, nil
}

// GetDirectory returns the node's world directory.
func (n *TileNode) GetDirectory() worldpkg.Directory {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.directory
}

// GetNodeID returns this node's identifier.
func (n *TileNode) GetNodeID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.config.NodeID
}

// GetTileLinkAddress returns the TileLink listening address, empty when not serving.
func (n *TileNode) GetTileLinkAddress() string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.tileLink == nil {
		return ""
	}
	return n.tileLink.GetListeningAddress()
}

// GetHealth returns the overall health status of this node.
func (n *TileNode) GetHealth(ctx context.Context) (tilenode.HealthStatus, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return tilenode.HealthStatus{Message: "node is closed"}, nil
	}

	tiles, err := n.directory.TileCount(ctx)
	directoryHealthy := err == nil

	tileLinkHealthy := true
	tileLinkAddress := ""
	if n.tileLink != nil {
		tileLinkHealthy = n.tileLink.IsServing()
		tileLinkAddress = n.tileLink.GetListeningAddress()
	}

	healthy := n.started && directoryHealthy && tileLinkHealthy
	message := "ok"
	switch {
	case !n.started:
		message = "node is not started"
	case !directoryHealthy:
		message = fmt.Sprintf("directory unavailable: %v", err)
	case !tileLinkHealthy:
		message = "TileLink is not serving"
	}

	return tilenode.HealthStatus{
		Healthy:          healthy,
		DirectoryHealthy: directoryHealthy,
		TileLinkHealthy:  tileLinkHealthy,
		TileLinkAddress:  tileLinkAddress,
		Tiles:            tiles,
		Players:          len(n.players),
		Message:          message,
	}, nil
}

// GetStats returns counters aggregated over every tile.
func (n *TileNode) GetStats(ctx context.Context) (tilenode.Stats, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return tilenode.Stats{}, tilenode.ErrNodeClosed
	}

	all, err := n.tileStatsLocked(ctx)
	if err != nil {
		return tilenode.Stats{}, err
	}

	stats := tilenode.Stats{
		Tiles:   len(all),
		Players: len(n.players),
		Policy:  n.config.CompactionPolicy,
	}
	if n.clock != nil {
		stats.Ticks = n.clock.Ticks()
	}
	for _, s := range all {
		stats.Consumers += s.Consumers
		stats.Buffered += s.Buffered
		stats.Registered += s.Registered
		stats.Discarded += s.Discarded
		stats.Fetches += s.Fetches
		stats.Compactions += s.Compactions
		stats.Lost += s.Lost
	}
	return stats, nil
}

// Verify that TileNode implements the Node and TileLink backend interfaces at compile time
var (
	_ tilenode.Node    = (*TileNode)(nil)
	_ tilelink.Backend = (*TileNode)(nil)
)
