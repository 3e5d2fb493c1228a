// Package tilelog implements the in-memory tile log.
//
// InMemoryTileLog keeps one slice of events per tile, a cursor map and a service
// order list. Fetch copies the pending events out, advances the cursor and, for the
// least recently serviced consumer, trims the front of the slice according to the
// configured tilelog.CompactionPolicy.
package tilelog
