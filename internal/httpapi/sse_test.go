package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// sseReader reads "data:" payloads and named events from an SSE response
type sseReader struct {
	scanner *bufio.Scanner
}

// next returns the event name (empty for default events) and data of the next message
func (r *sseReader) next(t *testing.T) (string, string) {
	t.Helper()

	var name string
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			return name, strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("Stream ended before next message: %v", r.scanner.Err())
	return "", ""
}

func openStream(t *testing.T, ctx context.Context, baseURL, path, token string) (*http.Response, *sseReader) {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	return resp, &sseReader{scanner: bufio.NewScanner(resp.Body)}
}

// TestStreamTile tests the GET /api/v1/tiles/{x},{y}/stream SSE endpoint
func TestStreamTile(t *testing.T) {
	setup := NewTestServerSetup(t)
	defer setup.Close()

	ts := httptest.NewServer(setup.Server.Handler())
	defer ts.Close()

	alice := setup.GenerateTestToken(t, "alice", false)
	ExpectStatus(t, setup.Do(t, http.MethodPost, "/api/v1/tiles/4,4/players", alice, nil), http.StatusCreated)
	ExpectStatus(t, setup.Do(t, http.MethodPost, "/api/v1/tiles/4,4/events", alice, PublishRequest{Kind: "before"}), http.StatusCreated)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, reader := openStream(t, ctx, ts.URL, "/api/v1/tiles/4,4/stream", alice)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "text/event-stream" {
		t.Errorf("Expected Content-Type 'text/event-stream', got '%s'", contentType)
	}
	if cacheControl := resp.Header.Get("Cache-Control"); cacheControl != "no-cache" {
		t.Errorf("Expected Cache-Control 'no-cache', got '%s'", cacheControl)
	}

	// Pending events are delivered first
	_, data := reader.next(t)
	var msg EventMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("Failed to decode SSE data: %v", err)
	}
	if msg.Kind != "before" || msg.Seq != 0 {
		t.Errorf("Expected pending event first, got %+v", msg)
	}

	// Then new events as they are registered
	ExpectStatus(t, setup.Do(t, http.MethodPost, "/api/v1/tiles/4,4/events", alice, PublishRequest{Kind: "after"}), http.StatusCreated)
	_, data = reader.next(t)
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatalf("Failed to decode SSE data: %v", err)
	}
	if msg.Kind != "after" || msg.Seq != 1 {
		t.Errorf("Expected live event, got %+v", msg)
	}

	// The stream consumed the events, so a plain fetch sees nothing
	w := setup.Do(t, http.MethodGet, "/api/v1/tiles/4,4/events", alice, nil)
	var fetched FetchResponse
	DecodeJSON(t, w, &fetched)
	if fetched.Count != 0 {
		t.Errorf("Expected streamed events not to be fetched again, got %d", fetched.Count)
	}

	// Leaving the tile ends the stream with an error event
	ExpectStatus(t, setup.Do(t, http.MethodDelete, "/api/v1/tiles/4,4/players", alice, nil), http.StatusOK)
	name, data := reader.next(t)
	if name != "error" {
		t.Fatalf("Expected error event, got %q with %s", name, data)
	}
	var errResp ErrorResponse
	if err := json.Unmarshal([]byte(data), &errResp); err != nil {
		t.Fatalf("Failed to decode error event: %v", err)
	}
	if errResp.Code != http.StatusNotFound {
		t.Errorf("Expected 404 in error event, got %d", errResp.Code)
	}
}

// TestStreamTile_Keepalive tests that idle streams receive ping comments
func TestStreamTile_Keepalive(t *testing.T) {
	setup := newTestServerSetup(t, Config{
		Port:              "8081",
		SecretKey:         "test-secret-key",
		KeepaliveInterval: 20 * time.Millisecond,
	})
	defer setup.Close()

	ts := httptest.NewServer(setup.Server.Handler())
	defer ts.Close()

	token := setup.GenerateTestToken(t, "alice", false)
	ExpectStatus(t, setup.Do(t, http.MethodPost, "/api/v1/tiles/0,0/players", token, nil), http.StatusCreated)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, reader := openStream(t, ctx, ts.URL, "/api/v1/tiles/0,0/stream", token)
	defer resp.Body.Close()

	for reader.scanner.Scan() {
		if reader.scanner.Text() == ": ping" {
			return
		}
	}
	t.Fatalf("Expected a keepalive ping, stream ended: %v", reader.scanner.Err())
}
