package tilenode

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/world"
)

var (
	// ErrNodeNotStarted is returned when an operation reaches a node that is not running
	ErrNodeNotStarted = errors.New("node is not started")
	// ErrNodeClosed is returned when an operation reaches a closed node
	ErrNodeClosed = errors.New("node is closed")
	// ErrEmptyPlayerID is returned when a player operation has no player ID
	ErrEmptyPlayerID = errors.New("player ID cannot be empty")
)

// Node serves tile events to players.
type Node interface {
	io.Closer

	// Start makes the node accept operations and starts its TileLink listener, if configured.
	Start(ctx context.Context) error

	// Stop stops accepting operations.
	Stop(ctx context.Context) error

	// Publish registers an event on the tile at pos, creating the tile if needed.
	Publish(ctx context.Context, pos tilelog.Position, event *tilelog.Event) (*tilelog.Event, error)

	// Join adds the player as a consumer of the tile and adds the tile to its watch list.
	Join(ctx context.Context, playerID string, pos tilelog.Position) error

	// Leave removes the player from the tile and from its watch list.
	Leave(ctx context.Context, playerID string, pos tilelog.Position) error

	// Fetch returns the events of the tile the player has not retrieved yet.
	Fetch(ctx context.Context, playerID string, pos tilelog.Position) ([]*tilelog.Event, error)

	// FetchWatched fetches every tile on the player's watch list.
	FetchWatched(ctx context.Context, playerID string) ([]TileEvents, error)

	// RemovePlayer leaves every watched tile and forgets the player.
	RemovePlayer(ctx context.Context, playerID string) error

	// Watching returns the tiles on the player's watch list.
	Watching(ctx context.Context, playerID string) ([]tilelog.Position, error)

	// Players returns every connected player.
	Players(ctx context.Context) ([]PlayerInfo, error)

	// DropTile discards a tile and removes it from every watch list.
	DropTile(ctx context.Context, pos tilelog.Position) error

	// TileDetail returns the statistics and cursors of one tile.
	TileDetail(ctx context.Context, pos tilelog.Position) (TileDetail, error)

	// TileStats returns the statistics of every tile, sorted by row, then column.
	TileStats(ctx context.Context) ([]tilelog.Stats, error)

	// GetDirectory returns the node's world directory.
	GetDirectory() world.Directory

	// GetNodeID returns this node's identifier.
	GetNodeID() string

	// GetHealth returns the overall health status of this node.
	GetHealth(ctx context.Context) (HealthStatus, error)

	// GetStats returns counters aggregated over every tile.
	GetStats(ctx context.Context) (Stats, error)
}

// TileEvents groups the events fetched from one tile
type TileEvents struct {
	Position tilelog.Position
	Events   []*tilelog.Event
}

// PlayerInfo describes a connected player
type PlayerInfo struct {
	ID          string
	ConnectedAt time.Time
	LastFetch   time.Time // Zero until the first fetch
	Watching    []tilelog.Position
}

// TileDetail is the admin view of a tile
type TileDetail struct {
	Stats     tilelog.Stats
	Consumers []tilelog.ConsumerState
}

// HealthStatus represents the overall health of a node
type HealthStatus struct {
	// Healthy indicates if the node is functioning properly
	Healthy bool

	// DirectoryHealthy indicates if the world directory is operational
	DirectoryHealthy bool

	// TileLinkHealthy indicates if the gRPC listener is serving (true when not configured)
	TileLinkHealthy bool

	// TileLinkAddress is the gRPC listening address, empty when not configured
	TileLinkAddress string

	// Tiles is the number of tiles in the directory
	Tiles int

	// Players is the number of connected players
	Players int

	// Message provides additional health information
	Message string
}

// Stats aggregates tile statistics over the whole directory
type Stats struct {
	Tiles       int
	Players     int
	Consumers   int
	Buffered    int
	Registered  int64
	Discarded   int64
	Fetches     int64
	Compactions int64
	Lost        int64
	Ticks       int64 // Clock ticks since the node was created
	Policy      tilelog.CompactionPolicy
}
