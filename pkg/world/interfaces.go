package world

import (
	"context"
	"errors"
	"io"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

var (
	// ErrTileNotFound is returned when a position has no tile log
	ErrTileNotFound = errors.New("tile not found")
	// ErrDirectoryClosed is returned by every operation on a closed directory
	ErrDirectoryClosed = errors.New("directory is closed")
)

// Directory manages the position -> TileLog mapping of a world.
// Tiles share no state, so callers may operate on distinct tiles in parallel.
type Directory interface {
	io.Closer

	// Tile returns the log for the position, creating it on first reference.
	Tile(ctx context.Context, pos tilelog.Position) (tilelog.TileLog, error)

	// Lookup returns the log for the position or ErrTileNotFound.
	Lookup(ctx context.Context, pos tilelog.Position) (tilelog.TileLog, error)

	// Seed creates the first n tiles of the spiral around the origin.
	// Existing tiles are kept. Returns the seeded positions.
	Seed(ctx context.Context, n int) ([]tilelog.Position, error)

	// Drop closes and forgets the log for the position.
	Drop(ctx context.Context, pos tilelog.Position) error

	// Positions returns every known position ordered by Y then X.
	Positions(ctx context.Context) ([]tilelog.Position, error)

	// TileCount returns the number of known tiles.
	TileCount(ctx context.Context) (int, error)
}
