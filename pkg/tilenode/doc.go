// Package tilenode provides the interfaces for a TileMesh node.
//
// A node owns the world directory and tracks which tiles every connected player
// watches. Transports (the HTTP API and the TileLink gRPC service) call the node,
// which validates the request and forwards it to the tile log of the position:
//
//	node.Join(ctx, "alice", pos)         // AddConsumer on the tile, remember the watch
//	node.Publish(ctx, pos, event)        // Register on the tile (created on first use)
//	events, err := node.Fetch(ctx, "alice", pos)
//	batches, err := node.FetchWatched(ctx, "alice")
//	node.Leave(ctx, "alice", pos)        // RemoveConsumer on the tile
//
// Errors from the tile log (tilelog.ErrUnknownConsumer in particular) are passed
// through wrapped, so errors.Is works at the transport boundary.
package tilenode
