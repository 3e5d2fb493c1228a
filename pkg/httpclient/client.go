package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

// ErrNotAuthenticated is returned by calls that need a token before Authenticate succeeded
var ErrNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// APIError is returned when the server answers with a 4xx or 5xx status
type APIError struct {
	StatusCode int
	Status     string
	Response   ErrorResponse
	Body       string
}

func (e *APIError) Error() string {
	if e.Response.Error == "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("API error (%d): %s - %s", e.StatusCode, e.Status, e.Response.Error)
}

// StatusCode returns the HTTP status of an APIError anywhere in err's chain, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Client provides HTTP client for the TileMesh API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new TileMesh HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	// Validate required config
	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.PlayerID == "" && !config.NoAuth {
		return nil, fmt.Errorf("PlayerID is required")
	}

	// Parse base URL
	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		baseURL: baseURL,
	}, nil
}

// PlayerID returns the player this client acts as
func (c *Client) PlayerID() string {
	return c.config.PlayerID
}

// Authenticate logs in as the configured player and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"playerId": c.config.PlayerID,
	}

	var authResp AuthResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", authReq, &authResp, false)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// Publish registers an event on the tile at pos
func (c *Client) Publish(ctx context.Context, pos tilelog.Position, kind string, payload interface{}, headers map[string]string) (*PublishResponse, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}

	req := PublishRequest{
		Kind:    kind,
		Payload: payload,
		Headers: headers,
	}

	var resp PublishResponse
	if err := c.doRequest(ctx, http.MethodPost, tilePath(pos, "events"), req, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to publish event: %w", err)
	}

	return &resp, nil
}

// Fetch returns the events on the tile the player has not seen yet.
// Every call advances the player's cursor, so the result is never repeated.
func (c *Client) Fetch(ctx context.Context, pos tilelog.Position) (*FetchResponse, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}

	var resp FetchResponse
	if err := c.doRequest(ctx, http.MethodGet, tilePath(pos, "events"), nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	return &resp, nil
}

// Join starts watching the tile from its current tail
func (c *Client) Join(ctx context.Context, pos tilelog.Position) (*WatchResponse, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}

	var resp WatchResponse
	if err := c.doRequest(ctx, http.MethodPost, tilePath(pos, "players"), nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to join tile: %w", err)
	}

	return &resp, nil
}

// Leave stops watching the tile
func (c *Client) Leave(ctx context.Context, pos tilelog.Position) (*WatchResponse, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}

	var resp WatchResponse
	if err := c.doRequest(ctx, http.MethodDelete, tilePath(pos, "players"), nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to leave tile: %w", err)
	}

	return &resp, nil
}

// FetchWatched fetches from every tile the player watches
func (c *Client) FetchWatched(ctx context.Context) (*WatchedEventsResponse, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}

	var resp WatchedEventsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/events", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to fetch watched tiles: %w", err)
	}

	return &resp, nil
}

// Watching returns the player's watch list
func (c *Client) Watching(ctx context.Context) (*WatchResponse, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}

	var resp WatchResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/watching", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to read watch list: %w", err)
	}

	return &resp, nil
}

// LeaveAll leaves every watched tile
func (c *Client) LeaveAll(ctx context.Context) (*WatchResponse, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}

	var resp WatchResponse
	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/watching", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to leave tiles: %w", err)
	}

	return &resp, nil
}

// GetHealth returns the health status of the TileMesh server
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}

	return &resp, nil
}

// Admin Methods (require admin token)

// AdminListTiles returns counters for every tile (admin only)
func (c *Client) AdminListTiles(ctx context.Context) (*AdminTilesResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminTilesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/tiles", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list tiles: %w", err)
	}

	return &resp, nil
}

// AdminGetTile returns one tile with its consumers in service order (admin only)
func (c *Client) AdminGetTile(ctx context.Context, pos tilelog.Position) (*AdminTileResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminTileResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/tiles/"+pos.Key(), nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get tile: %w", err)
	}

	return &resp, nil
}

// AdminDropTile removes a tile and its buffered events (admin only)
func (c *Client) AdminDropTile(ctx context.Context, pos tilelog.Position) error {
	if c.token == "" {
		return ErrNotAuthenticated
	}

	if err := c.doRequest(ctx, http.MethodDelete, "/api/v1/admin/tiles/"+pos.Key(), nil, nil, true); err != nil {
		return fmt.Errorf("failed to drop tile: %w", err)
	}

	return nil
}

// AdminListPlayers returns all connected players (admin only)
func (c *Client) AdminListPlayers(ctx context.Context) (*AdminPlayersResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminPlayersResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/players", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}

	return &resp, nil
}

// AdminGetStats returns system statistics (admin only)
func (c *Client) AdminGetStats(ctx context.Context) (*AdminStatsResponse, error) {
	if c.token == "" {
		return nil, ErrNotAuthenticated
	}

	var resp AdminStatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/admin/stats", nil, &resp, true); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return &resp, nil
}

// checkAuth reports whether player calls can be made
func (c *Client) checkAuth() error {
	if c.token == "" && !c.config.NoAuth {
		return ErrNotAuthenticated
	}
	return nil
}

// authorize sets the credentials on a request and returns the query to send
func (c *Client) authorize(req *http.Request, query url.Values) url.Values {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
		return query
	}
	if c.config.NoAuth && c.config.PlayerID != "" {
		if query == nil {
			query = url.Values{}
		}
		query.Set("playerId", c.config.PlayerID)
	}
	return query
}

// newRequest builds a request against the server with optional authentication
func (c *Client) newRequest(ctx context.Context, method, path string, queryParams url.Values, body io.Reader, requireAuth bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(&url.URL{Path: path}).String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if requireAuth {
		queryParams = c.authorize(req, queryParams)
	}
	if len(queryParams) > 0 {
		req.URL.RawQuery = queryParams.Encode()
	}

	return req, nil
}

// doRequestWithQuery performs an HTTP request with query parameters and optional authentication
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, queryParams url.Values, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	// Prepare request body
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := c.newRequest(ctx, method, path, queryParams, bodyReader, requireAuth)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Execute request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Read response body
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Check status code
	if resp.StatusCode >= 400 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bodyBytes),
		}
		_ = json.Unmarshal(bodyBytes, &apiErr.Response)
		return apiErr
	}

	// Parse successful response
	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody, requireAuth)
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}

func tilePath(pos tilelog.Position, resource string) string {
	return "/api/v1/tiles/" + pos.Key() + "/" + resource
}
