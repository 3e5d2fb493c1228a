// Package world provides the directory that maps tile positions to tile logs.
//
// The tile log itself only knows its own position; the Directory owns the
// position -> TileLog mapping for the whole world:
//   - Tile: get or lazily create the log of a position
//   - Lookup: get an existing log without creating one
//   - Seed: eagerly create tiles ring by ring around the origin
//   - Drop: tear a tile down when the world no longer needs it
//
// Ring and Spiral generate positions in the order Seed creates them.
package world
