package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/tilemesh-go/internal/tilenode"
)

// TestServerSetup holds common test dependencies
type TestServerSetup struct {
	Node   *tilenode.TileNode
	Server *Server
	Auth   *JWTAuth
}

// NewTestServerSetup creates a common test setup with a started tile node and HTTP server
func NewTestServerSetup(t *testing.T) *TestServerSetup {
	t.Helper()
	return newTestServerSetup(t, Config{Port: "8081", SecretKey: "test-secret-key"})
}

func newTestServerSetup(t *testing.T, config Config) *TestServerSetup {
	t.Helper()

	node, err := tilenode.NewTileNode(tilenode.NewConfig("test-node", "localhost:8080"))
	if err != nil {
		t.Fatalf("Failed to create tile node: %v", err)
	}
	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start tile node: %v", err)
	}

	if config.StreamPollInterval == 0 {
		config.StreamPollInterval = 10 * time.Millisecond
	}
	server := NewServer(node, config)
	if server == nil {
		t.Fatal("Expected server to be created, got nil")
	}

	return &TestServerSetup{
		Node:   node,
		Server: server,
		Auth:   server.jwtAuth,
	}
}

// Close cleans up test resources
func (setup *TestServerSetup) Close() {
	setup.Node.Close()
}

// GenerateTestToken creates a JWT token for testing
func (setup *TestServerSetup) GenerateTestToken(t *testing.T, playerID string, isAdmin bool) string {
	t.Helper()

	token, _, err := setup.Auth.GenerateToken(playerID, isAdmin)
	if err != nil {
		t.Fatalf("Failed to generate test token: %v", err)
	}
	return token
}

// Do sends a request through the full middleware and routing stack
func (setup *TestServerSetup) Do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(w, req)
	return w
}

// doRaw sends a request with an arbitrary body and content type
func (setup *TestServerSetup) doRaw(method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	setup.Server.Handler().ServeHTTP(w, req)
	return w
}

// DecodeJSON decodes a recorded response body into v
func DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v. Body: %s", err, w.Body.String())
	}
}

// ExpectStatus fails the test when the recorded status differs
func ExpectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("Expected status %d (%s), got %d. Body: %s", want, http.StatusText(want), w.Code, w.Body.String())
	}
}
