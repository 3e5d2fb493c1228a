package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilenode"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/world"
)

// PublisherHeader is the event header carrying the publishing player
const PublisherHeader = tilelog.PublisherHeader

// MaxPublishBodySize caps a publish request body. The node applies
// tilelog.MaxEventSize to the decoded event.
const MaxPublishBodySize = 2 * tilelog.MaxEventSize

// Handlers contains HTTP request handlers
type Handlers struct {
	node              tilenode.Node
	jwtAuth           *JWTAuth
	pollInterval      time.Duration
	keepaliveInterval time.Duration
}

// NewHandlers creates a new handlers instance
func NewHandlers(node tilenode.Node, jwtAuth *JWTAuth, config Config) *Handlers {
	config.SetDefaults()
	return &Handlers{
		node:              node,
		jwtAuth:           jwtAuth,
		pollInterval:      config.StreamPollInterval,
		keepaliveInterval: config.KeepaliveInterval,
	}
}

// Auth endpoints

// Login handles POST /api/v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := validatePlayerID(req.PlayerID); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	// No credential store: any player ID may log in, "admin" gets admin rights
	isAdmin := req.PlayerID == "admin"

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.PlayerID, isAdmin)
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, AuthResponse{
		Token:     token,
		PlayerID:  req.PlayerID,
		ExpiresAt: expiresAt,
	}, http.StatusOK)
}

// Tile endpoints

// PublishEvent handles POST /api/v1/tiles/{x},{y}/events
func (h *Handlers) PublishEvent(w http.ResponseWriter, r *http.Request) {
	pos, ok := GetTileFromPath(r)
	if !ok {
		writeError(w, "Tile position required", http.StatusBadRequest)
		return
	}
	if err := validateJSON(r); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxPublishBodySize)

	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validatePublishRequest(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var payload []byte
	if req.Payload != nil {
		payloadBytes, err := json.Marshal(req.Payload)
		if err != nil {
			writeError(w, "Invalid payload format", http.StatusBadRequest)
			return
		}
		payload = payloadBytes
	}

	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers[PublisherHeader] = GetPlayerID(r)

	stored, err := h.node.Publish(r.Context(), pos, tilelog.NewEventWithHeaders(req.Kind, payload, headers))
	if err != nil {
		writeNodeError(w, "Failed to publish event", err)
		return
	}

	writeJSON(w, PublishResponse{
		EventID:   stored.ID,
		Seq:       stored.Seq,
		Tile:      stored.Tile,
		Timestamp: stored.Timestamp,
	}, http.StatusCreated)
}

// FetchEvents handles GET /api/v1/tiles/{x},{y}/events
func (h *Handlers) FetchEvents(w http.ResponseWriter, r *http.Request) {
	pos, ok := GetTileFromPath(r)
	if !ok {
		writeError(w, "Tile position required", http.StatusBadRequest)
		return
	}

	events, err := h.node.Fetch(r.Context(), GetPlayerID(r), pos)
	if err != nil {
		writeNodeError(w, "Failed to fetch events", err)
		return
	}

	writeJSON(w, fetchResponse(pos, events), http.StatusOK)
}

// JoinTile handles POST /api/v1/tiles/{x},{y}/players
func (h *Handlers) JoinTile(w http.ResponseWriter, r *http.Request) {
	pos, ok := GetTileFromPath(r)
	if !ok {
		writeError(w, "Tile position required", http.StatusBadRequest)
		return
	}
	playerID := GetPlayerID(r)

	if err := h.node.Join(r.Context(), playerID, pos); err != nil {
		writeNodeError(w, "Failed to join tile", err)
		return
	}

	h.writeWatchList(w, r, playerID, &pos, http.StatusCreated)
}

// LeaveTile handles DELETE /api/v1/tiles/{x},{y}/players
func (h *Handlers) LeaveTile(w http.ResponseWriter, r *http.Request) {
	pos, ok := GetTileFromPath(r)
	if !ok {
		writeError(w, "Tile position required", http.StatusBadRequest)
		return
	}
	playerID := GetPlayerID(r)

	if err := h.node.Leave(r.Context(), playerID, pos); err != nil {
		writeNodeError(w, "Failed to leave tile", err)
		return
	}

	h.writeWatchList(w, r, playerID, &pos, http.StatusOK)
}

// Player endpoints

// FetchWatched handles GET /api/v1/events
func (h *Handlers) FetchWatched(w http.ResponseWriter, r *http.Request) {
	playerID := GetPlayerID(r)

	batches, err := h.node.FetchWatched(r.Context(), playerID)
	if err != nil {
		writeNodeError(w, "Failed to fetch watched tiles", err)
		return
	}

	resp := WatchedEventsResponse{
		PlayerID: playerID,
		Tiles:    make([]FetchResponse, 0, len(batches)),
	}
	for _, batch := range batches {
		tile := fetchResponse(batch.Position, batch.Events)
		resp.Tiles = append(resp.Tiles, tile)
		resp.Count += tile.Count
	}

	writeJSON(w, resp, http.StatusOK)
}

// GetWatching handles GET /api/v1/watching
func (h *Handlers) GetWatching(w http.ResponseWriter, r *http.Request) {
	h.writeWatchList(w, r, GetPlayerID(r), nil, http.StatusOK)
}

// LeaveAll handles DELETE /api/v1/watching
func (h *Handlers) LeaveAll(w http.ResponseWriter, r *http.Request) {
	playerID := GetPlayerID(r)

	if err := h.node.RemovePlayer(r.Context(), playerID); err != nil {
		writeNodeError(w, "Failed to leave tiles", err)
		return
	}

	h.writeWatchList(w, r, playerID, nil, http.StatusOK)
}

func (h *Handlers) writeWatchList(w http.ResponseWriter, r *http.Request, playerID string, tile *tilelog.Position, statusCode int) {
	watching, err := h.node.Watching(r.Context(), playerID)
	if err != nil {
		writeNodeError(w, "Failed to read watch list", err)
		return
	}

	writeJSON(w, WatchResponse{
		PlayerID: playerID,
		Tile:     tile,
		Watching: watching,
	}, statusCode)
}

// Admin endpoints

// AdminListTiles handles GET /api/v1/admin/tiles
func (h *Handlers) AdminListTiles(w http.ResponseWriter, r *http.Request) {
	if !IsAdmin(r) {
		writeError(w, "Admin privileges required", http.StatusForbidden)
		return
	}

	all, err := h.node.TileStats(r.Context())
	if err != nil {
		writeNodeError(w, "Failed to list tiles", err)
		return
	}

	resp := AdminTilesResponse{Tiles: make([]TileInfo, 0, len(all))}
	for _, stats := range all {
		resp.Tiles = append(resp.Tiles, tileInfo(stats))
	}
	writeJSON(w, resp, http.StatusOK)
}

// AdminGetTile handles GET /api/v1/admin/tiles/{x},{y}
func (h *Handlers) AdminGetTile(w http.ResponseWriter, r *http.Request) {
	if !IsAdmin(r) {
		writeError(w, "Admin privileges required", http.StatusForbidden)
		return
	}
	pos, ok := GetTileFromPath(r)
	if !ok {
		writeError(w, "Tile position required", http.StatusBadRequest)
		return
	}

	detail, err := h.node.TileDetail(r.Context(), pos)
	if err != nil {
		writeNodeError(w, "Failed to read tile", err)
		return
	}

	resp := AdminTileResponse{
		TileInfo:     tileInfo(detail.Stats),
		ServiceOrder: make([]ConsumerInfo, 0, len(detail.Consumers)),
	}
	for _, c := range detail.Consumers {
		resp.ServiceOrder = append(resp.ServiceOrder, ConsumerInfo{
			PlayerID: c.ID,
			Cursor:   c.Cursor,
			LastSeq:  c.LastSeq,
			Pending:  c.Pending,
		})
	}
	writeJSON(w, resp, http.StatusOK)
}

// AdminDropTile handles DELETE /api/v1/admin/tiles/{x},{y}
func (h *Handlers) AdminDropTile(w http.ResponseWriter, r *http.Request) {
	if !IsAdmin(r) {
		writeError(w, "Admin privileges required", http.StatusForbidden)
		return
	}
	pos, ok := GetTileFromPath(r)
	if !ok {
		writeError(w, "Tile position required", http.StatusBadRequest)
		return
	}

	if err := h.node.DropTile(r.Context(), pos); err != nil {
		writeNodeError(w, "Failed to drop tile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminListPlayers handles GET /api/v1/admin/players
func (h *Handlers) AdminListPlayers(w http.ResponseWriter, r *http.Request) {
	if !IsAdmin(r) {
		writeError(w, "Admin privileges required", http.StatusForbidden)
		return
	}

	players, err := h.node.Players(r.Context())
	if err != nil {
		writeNodeError(w, "Failed to list players", err)
		return
	}

	resp := AdminPlayersResponse{Players: make([]PlayerInfo, 0, len(players))}
	for _, p := range players {
		info := PlayerInfo{
			ID:          p.ID,
			ConnectedAt: p.ConnectedAt,
			Watching:    p.Watching,
		}
		if !p.LastFetch.IsZero() {
			lastFetch := p.LastFetch
			info.LastFetch = &lastFetch
		}
		resp.Players = append(resp.Players, info)
	}
	writeJSON(w, resp, http.StatusOK)
}

// AdminGetStats handles GET /api/v1/admin/stats
func (h *Handlers) AdminGetStats(w http.ResponseWriter, r *http.Request) {
	if !IsAdmin(r) {
		writeError(w, "Admin privileges required", http.StatusForbidden)
		return
	}

	stats, err := h.node.GetStats(r.Context())
	if err != nil {
		writeNodeError(w, "Failed to get stats", err)
		return
	}

	writeJSON(w, AdminStatsResponse{
		NodeID:           h.node.GetNodeID(),
		CompactionPolicy: stats.Policy.String(),
		Tiles:            stats.Tiles,
		Players:          stats.Players,
		Consumers:        stats.Consumers,
		BufferedEvents:   stats.Buffered,
		EventsRegistered: stats.Registered,
		EventsDiscarded:  stats.Discarded,
		Fetches:          stats.Fetches,
		Compactions:      stats.Compactions,
		EventsLost:       stats.Lost,
		Ticks:            stats.Ticks,
	}, http.StatusOK)
}

// Health endpoint

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health, err := h.node.GetHealth(r.Context())
	if err != nil {
		writeError(w, "Failed to get health status", http.StatusInternalServerError)
		return
	}

	statusCode := http.StatusOK
	if !health.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, HealthResponse{
		Healthy:          health.Healthy,
		DirectoryHealthy: health.DirectoryHealthy,
		TileLinkHealthy:  health.TileLinkHealthy,
		TileLinkAddress:  health.TileLinkAddress,
		Tiles:            health.Tiles,
		Players:          health.Players,
		Message:          health.Message,
	}, statusCode)
}

// Helper functions

// statusForError maps node and tile errors onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, tilelog.ErrUnknownConsumer), errors.Is(err, world.ErrTileNotFound):
		return http.StatusNotFound
	case errors.Is(err, tilelog.ErrNilEvent),
		errors.Is(err, tilelog.ErrInvalidPosition),
		errors.Is(err, tilelog.ErrReservedHeader),
		errors.Is(err, tilelog.ErrInvalidKind),
		errors.Is(err, tilenode.ErrEmptyPlayerID):
		return http.StatusBadRequest
	case errors.Is(err, tilelog.ErrEventTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, tilenode.ErrNodeNotStarted),
		errors.Is(err, tilenode.ErrNodeClosed),
		errors.Is(err, world.ErrDirectoryClosed),
		errors.Is(err, tilelog.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeNodeError(w http.ResponseWriter, message string, err error) {
	writeError(w, fmt.Sprintf("%s: %v", message, err), statusForError(err))
}

// eventMessage converts a tile event for delivery. JSON payloads are embedded,
// anything else is sent as a string.
func eventMessage(event *tilelog.Event) EventMessage {
	var payload interface{}
	if event.Payload != nil {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			payload = string(event.Payload)
		}
	}

	return EventMessage{
		EventID:   event.ID,
		Seq:       event.Seq,
		Tile:      event.Tile,
		Kind:      event.Kind,
		Payload:   payload,
		Headers:   event.Headers,
		Timestamp: event.Timestamp,
	}
}

func fetchResponse(pos tilelog.Position, events []*tilelog.Event) FetchResponse {
	resp := FetchResponse{
		Tile:   pos,
		Events: make([]EventMessage, 0, len(events)),
		Count:  len(events),
	}
	for _, event := range events {
		resp.Events = append(resp.Events, eventMessage(event))
	}
	return resp
}

func tileInfo(stats tilelog.Stats) TileInfo {
	return TileInfo{
		Tile:        stats.Position,
		Buffered:    stats.Buffered,
		Discarded:   stats.Discarded,
		Registered:  stats.Registered,
		Consumers:   stats.Consumers,
		Fetches:     stats.Fetches,
		Compactions: stats.Compactions,
		Lost:        stats.Lost,
	}
}

// validateJSON validates that the request has valid JSON content-type
func validateJSON(r *http.Request) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}

// validatePlayerID validates player ID format
func validatePlayerID(playerID string) error {
	if playerID == "" {
		return fmt.Errorf("playerId is required")
	}
	if len(playerID) < 2 {
		return fmt.Errorf("playerId must be at least 2 characters")
	}
	if len(playerID) > 64 {
		return fmt.Errorf("playerId must be at most 64 characters")
	}
	for _, char := range playerID {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') || char == '.' || char == '-' || char == '_') {
			return fmt.Errorf("playerId contains invalid characters (allowed: letters, numbers, ., -, _)")
		}
	}
	return nil
}

// validatePublishRequest validates event publishing request fields
func validatePublishRequest(req *PublishRequest) error {
	if req.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if len(req.Kind) > 128 {
		return fmt.Errorf("kind must be at most 128 characters")
	}
	if _, ok := req.Headers[PublisherHeader]; ok {
		return fmt.Errorf("header %q is reserved", PublisherHeader)
	}
	return tilelog.CheckPlayerKind(req.Kind)
}
