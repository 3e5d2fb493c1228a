package httpapi

import (
	"time"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request
type AuthRequest struct {
	PlayerID string `json:"playerId"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token     string    `json:"token"`
	PlayerID  string    `json:"playerId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PublishRequest represents an event publishing request
type PublishRequest struct {
	Kind    string            `json:"kind"`
	Payload interface{}       `json:"payload,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// PublishResponse represents an event publishing response
type PublishResponse struct {
	EventID   string           `json:"eventId"`
	Seq       int64            `json:"seq"`
	Tile      tilelog.Position `json:"tile"`
	Timestamp time.Time        `json:"timestamp"`
}

// EventMessage represents an event delivered to a player, over JSON or SSE
type EventMessage struct {
	EventID   string            `json:"eventId"`
	Seq       int64             `json:"seq"`
	Tile      tilelog.Position  `json:"tile"`
	Kind      string            `json:"kind"`
	Payload   interface{}       `json:"payload,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// FetchResponse represents the events fetched from one tile
type FetchResponse struct {
	Tile   tilelog.Position `json:"tile"`
	Events []EventMessage   `json:"events"`
	Count  int              `json:"count"`
}

// WatchedEventsResponse represents the events fetched from every watched tile
type WatchedEventsResponse struct {
	PlayerID string          `json:"playerId"`
	Tiles    []FetchResponse `json:"tiles"`
	Count    int             `json:"count"`
}

// WatchResponse represents a player's watch list after a join or leave
type WatchResponse struct {
	PlayerID string             `json:"playerId"`
	Tile     *tilelog.Position  `json:"tile,omitempty"`
	Watching []tilelog.Position `json:"watching"`
}

// TileInfo represents the admin view of a tile
type TileInfo struct {
	Tile        tilelog.Position `json:"tile"`
	Buffered    int              `json:"buffered"`
	Discarded   int64            `json:"discarded"`
	Registered  int64            `json:"registered"`
	Consumers   int              `json:"consumers"`
	Fetches     int64            `json:"fetches"`
	Compactions int64            `json:"compactions"`
	Lost        int64            `json:"lost"`
}

// ConsumerInfo represents a consumer cursor on a tile
type ConsumerInfo struct {
	PlayerID string `json:"playerId"`
	Cursor   int    `json:"cursor"`
	LastSeq  int64  `json:"lastSeq"`
	Pending  int    `json:"pending"`
}

// AdminTilesResponse represents admin view of every tile
type AdminTilesResponse struct {
	Tiles []TileInfo `json:"tiles"`
}

// AdminTileResponse represents admin view of one tile, consumers in service order
type AdminTileResponse struct {
	TileInfo
	ServiceOrder []ConsumerInfo `json:"serviceOrder"`
}

// PlayerInfo represents a connected player
type PlayerInfo struct {
	ID          string             `json:"id"`
	ConnectedAt time.Time          `json:"connectedAt"`
	LastFetch   *time.Time         `json:"lastFetch,omitempty"`
	Watching    []tilelog.Position `json:"watching"`
}

// AdminPlayersResponse represents admin view of connected players
type AdminPlayersResponse struct {
	Players []PlayerInfo `json:"players"`
}

// AdminStatsResponse represents system statistics
type AdminStatsResponse struct {
	NodeID           string `json:"nodeId"`
	CompactionPolicy string `json:"compactionPolicy"`
	Tiles            int    `json:"tiles"`
	Players          int    `json:"players"`
	Consumers        int    `json:"consumers"`
	BufferedEvents   int    `json:"bufferedEvents"`
	EventsRegistered int64  `json:"eventsRegistered"`
	EventsDiscarded  int64  `json:"eventsDiscarded"`
	Fetches          int64  `json:"fetches"`
	Compactions      int64  `json:"compactions"`
	EventsLost       int64  `json:"eventsLost"`
	Ticks            int64  `json:"ticks"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy          bool   `json:"healthy"`
	DirectoryHealthy bool   `json:"directoryHealthy"`
	TileLinkHealthy  bool   `json:"tileLinkHealthy"`
	TileLinkAddress  string `json:"tileLinkAddress,omitempty"`
	Tiles            int    `json:"tiles"`
	Players          int    `json:"players"`
	Message          string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
