package world

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rmacdonaldsmith/tilemesh-go/internal/tilelog"
	tilelogpkg "github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/world"
)

// InMemoryDirectory implements the world.Directory interface with a map of in-memory tile logs.
// The directory lock only guards the map; each tile log serializes its own operations.
type InMemoryDirectory struct {
	mu     sync.RWMutex
	policy tilelogpkg.CompactionPolicy
	tiles  map[tilelogpkg.Position]*tilelog.InMemoryTileLog
	closed bool
}

// NewInMemoryDirectory creates an empty directory whose tiles use the given compaction policy.
func NewInMemoryDirectory(policy tilelogpkg.CompactionPolicy) *InMemoryDirectory {
	return &InMemoryDirectory{
		policy: policy,
		tiles:  make(map[tilelogpkg.Position]*tilelog.InMemoryTileLog),
	}
}

// Policy returns the compaction policy handed to new tiles.
func (d *InMemoryDirectory) Policy() tilelogpkg.CompactionPolicy {
	return d.policy
}

// Tile returns the log for the position, creating it on first reference.
func (d *InMemoryDirectory) Tile(ctx context.Context, pos tilelogpkg.Position) (tilelogpkg.TileLog, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return nil, world.ErrDirectoryClosed
	}
	tile, ok := d.tiles[pos]
	d.mu.RUnlock()
	if ok {
		return tile, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, world.ErrDirectoryClosed
	}
	return d.getOrCreateLocked(pos), nil
}

// Lookup returns the log for the position without creating it.
func (d *InMemoryDirectory) Lookup(ctx context.Context, pos tilelogpkg.Position) (tilelogpkg.TileLog, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, world.ErrDirectoryClosed
	}

	tile, ok := d.tiles[pos]
	if !ok {
		return nil, fmt.Errorf("%w: %s", world.ErrTileNotFound, pos)
	}
	return tile, nil
}

// Seed creates the first n tiles of the spiral around the origin.
func (d *InMemoryDirectory) Seed(ctx context.Context, n int) ([]tilelogpkg.Position, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	positions := world.Spiral(n)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, world.ErrDirectoryClosed
	}

	for _, pos := range positions {
		d.getOrCreateLocked(pos)
	}
	return positions, nil
}

// Drop closes and forgets the log for the position.
func (d *InMemoryDirectory) Drop(ctx context.Context, pos tilelogpkg.Position) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return world.ErrDirectoryClosed
	}

	tile, ok := d.tiles[pos]
	if !ok {
		return fmt.Errorf("%w: %s", world.ErrTileNotFound, pos)
	}
	delete(d.tiles, pos)

	return tile.Close()
}

// Positions returns every known position ordered by Y then X.
func (d *InMemoryDirectory) Positions(ctx context.Context) ([]tilelogpkg.Position, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	d.mu.RLock()
	positions := make([]tilelogpkg.Position, 0, len(d.tiles))
	for pos := range d.tiles {
		positions = append(positions, pos)
	}
	d.mu.RUnlock()

	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Y != positions[j].Y {
			return positions[i].Y < positions[j].Y
		}
		return positions[i].X < positions[j].X
	})
	return positions, nil
}

// TileCount returns the number of known tiles.
func (d *InMemoryDirectory) TileCount(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tiles), nil
}

// Close closes every tile log and clears the directory.
func (d *InMemoryDirectory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil // Already closed, idempotent
	}

	var firstErr error
	for pos, tile := range d.tiles {
		if err := tile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close tile %s: %w", pos, err)
		}
	}

	d.tiles = make(map[tilelogpkg.Position]*tilelog.InMemoryTileLog)
	d.closed = true
	return firstErr
}

// getOrCreateLocked must be called with mu held for writing.
func (d *InMemoryDirectory) getOrCreateLocked(pos tilelogpkg.Position) *tilelog.InMemoryTileLog {
	if tile, ok := d.tiles[pos]; ok {
		return tile
	}
	tile := tilelog.NewInMemoryTileLog(pos, d.policy)
	d.tiles[pos] = tile
	return tile
}

// Verify that InMemoryDirectory implements the Directory interface at compile time
var _ world.Directory = (*InMemoryDirectory)(nil)
