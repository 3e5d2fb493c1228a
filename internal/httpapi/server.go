package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilenode"
)

const defaultSecretKey = "tilemesh-dev-secret-key-change-in-production"

// Server represents the HTTP API server
type Server struct {
	node       tilenode.Node
	jwtAuth    *JWTAuth
	handlers   *Handlers
	middleware *Middleware
	server     *http.Server
}

// Config holds server configuration
type Config struct {
	Port      string
	SecretKey string
	// NoAuth bypasses JWT checks on player endpoints (development only)
	NoAuth             bool
	TokenTTL           time.Duration
	StreamPollInterval time.Duration
	KeepaliveInterval  time.Duration
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.SecretKey == "" {
		c.SecretKey = defaultSecretKey
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.StreamPollInterval <= 0 {
		c.StreamPollInterval = 250 * time.Millisecond
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 15 * time.Second
	}
}

// NewServer creates a new HTTP API server
func NewServer(node tilenode.Node, config Config) *Server {
	config.SetDefaults()

	jwtAuth := NewJWTAuthWithTTL(config.SecretKey, config.TokenTTL)
	server := &Server{
		node:       node,
		jwtAuth:    jwtAuth,
		handlers:   NewHandlers(node, jwtAuth, config),
		middleware: NewMiddleware(jwtAuth, config.NoAuth),
	}

	server.server = &http.Server{
		Addr:        ":" + config.Port,
		Handler:     server.setupRoutes(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: SSE streams stay open until the client goes away
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return server
}

// Handler returns the routed handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. It returns nil after Stop.
func (s *Server) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	// Apply global middleware
	withMiddleware := func(handler http.HandlerFunc) http.Handler {
		return s.middleware.Recovery(
			s.middleware.Logging(
				s.middleware.CORS(
					s.middleware.ContentType(handler))))
	}

	// Authentication endpoints (no auth required)
	mux.Handle("/api/v1/auth/login", withMiddleware(s.handlers.Login))

	// Tile endpoints (auth required)
	mux.Handle("/api/v1/tiles/", withMiddleware(s.middleware.AuthRequired(s.handleTileRoutes)))

	// Player endpoints (auth required)
	mux.Handle("/api/v1/events", withMiddleware(s.middleware.AuthRequired(s.handleEvents)))
	mux.Handle("/api/v1/watching", withMiddleware(s.middleware.AuthRequired(s.handleWatching)))

	// Admin endpoints (admin auth required)
	mux.Handle("/api/v1/admin/tiles", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminListTiles)))
	mux.Handle("/api/v1/admin/tiles/", withMiddleware(s.middleware.AdminRequired(s.handleAdminTile)))
	mux.Handle("/api/v1/admin/players", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminListPlayers)))
	mux.Handle("/api/v1/admin/stats", withMiddleware(s.middleware.AdminRequired(s.handlers.AdminGetStats)))

	// Health endpoint (no auth required)
	mux.Handle("/api/v1/health", withMiddleware(s.handlers.Health))

	// Root endpoint with API info
	mux.Handle("/", withMiddleware(s.handleRoot))

	return mux
}

// Route handlers that dispatch based on HTTP method

// handleTileRoutes parses /api/v1/tiles/{x},{y}/{resource} and dispatches on resource and method
func (s *Server) handleTileRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/tiles/")
	tile, resource, found := strings.Cut(rest, "/")
	if tile == "" || !found {
		writeError(w, "Invalid tile path, expected /api/v1/tiles/{x},{y}/{events|players|stream}", http.StatusNotFound)
		return
	}

	r, ok := withTile(w, r, tile)
	if !ok {
		return
	}

	switch resource {
	case "events":
		switch r.Method {
		case http.MethodPost:
			s.handlers.PublishEvent(w, r)
		case http.MethodGet:
			s.handlers.FetchEvents(w, r)
		default:
			writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "players":
		switch r.Method {
		case http.MethodPost:
			s.handlers.JoinTile(w, r)
		case http.MethodDelete:
			s.handlers.LeaveTile(w, r)
		default:
			writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "stream":
		if r.Method != http.MethodGet {
			writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handlers.StreamTile(w, r)
	default:
		writeError(w, "Unknown tile resource "+resource, http.StatusNotFound)
	}
}

// handleEvents routes GET /api/v1/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handlers.FetchWatched(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleWatching routes watch list requests based on HTTP method
func (s *Server) handleWatching(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handlers.GetWatching(w, r)
	case http.MethodDelete:
		s.handlers.LeaveAll(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleAdminTile handles /api/v1/admin/tiles/{x},{y}
func (s *Server) handleAdminTile(w http.ResponseWriter, r *http.Request) {
	tile := strings.TrimPrefix(r.URL.Path, "/api/v1/admin/tiles/")
	if tile == "" {
		s.handlers.AdminListTiles(w, r)
		return
	}

	r, ok := withTile(w, r, tile)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handlers.AdminGetTile(w, r)
	case http.MethodDelete:
		s.handlers.AdminDropTile(w, r)
	default:
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// withTile parses the path segment into a position and stores it on the request context
func withTile(w http.ResponseWriter, r *http.Request, segment string) (*http.Request, bool) {
	pos, err := tilelog.ParsePosition(segment)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return r, false
	}
	return r.WithContext(context.WithValue(r.Context(), TileKey, pos)), true
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, "Not found", http.StatusNotFound)
		return
	}

	info := map[string]interface{}{
		"service":     "TileMesh HTTP API",
		"version":     "1.0.0",
		"description": "Per-tile event logs with per-player cursors",
		"endpoints": map[string]interface{}{
			"auth": map[string]string{
				"login": "POST /api/v1/auth/login",
			},
			"tiles": map[string]string{
				"publish": "POST /api/v1/tiles/{x},{y}/events",
				"fetch":   "GET /api/v1/tiles/{x},{y}/events",
				"join":    "POST /api/v1/tiles/{x},{y}/players",
				"leave":   "DELETE /api/v1/tiles/{x},{y}/players",
				"stream":  "GET /api/v1/tiles/{x},{y}/stream",
			},
			"player": map[string]string{
				"fetchWatched": "GET /api/v1/events",
				"watching":     "GET /api/v1/watching",
				"leaveAll":     "DELETE /api/v1/watching",
			},
			"admin": map[string]string{
				"tiles":    "GET /api/v1/admin/tiles",
				"tile":     "GET /api/v1/admin/tiles/{x},{y}",
				"dropTile": "DELETE /api/v1/admin/tiles/{x},{y}",
				"players":  "GET /api/v1/admin/players",
				"stats":    "GET /api/v1/admin/stats",
			},
			"health": "GET /api/v1/health",
		},
		"authentication": "Bearer JWT token required for most endpoints",
	}

	writeJSON(w, info, http.StatusOK)
}
