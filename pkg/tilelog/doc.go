// Package tilelog provides the types and interfaces for per-tile event logs.
//
// A TileLog holds the events produced on one tile of the world and serves every
// registered consumer (player) only the events it has not retrieved yet:
//   - Event: an opaque record with a tile-scoped sequence number, kind, payload, timestamp and headers
//   - Position: the spatial key of a tile
//   - TileLog: register / add consumer / fetch, plus consumer removal and statistics
//
// Each consumer owns a read cursor. Fetching advances the cursor to the tail and,
// when the fetching consumer was the least recently serviced one, compacts the
// front of the log and rebases every cursor so that indices stay meaningful.
//
// Example usage:
//
//	tile := memlog.NewInMemoryTileLog(tilelog.Origin, tilelog.CompactMinCursor)
//
//	if err := tile.AddConsumer(ctx, "alice"); err != nil {
//		return err
//	}
//	if _, err := tile.Register(ctx, tilelog.NewEvent("player.move", payload)); err != nil {
//		return err
//	}
//
//	events, err := tile.Fetch(ctx, "alice")
//	if errors.Is(err, tilelog.ErrUnknownConsumer) {
//		// caller forgot AddConsumer
//	}
package tilelog
