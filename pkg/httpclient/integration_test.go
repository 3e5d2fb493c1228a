package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/tilemesh-go/internal/httpapi"
	"github.com/rmacdonaldsmith/tilemesh-go/internal/tilenode"
	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

// startTestServer runs a real node behind the HTTP API on an httptest server
func startTestServer(t *testing.T, noAuth bool) *httptest.Server {
	t.Helper()

	node, err := tilenode.NewTileNode(tilenode.NewConfig("integration-test-node", "localhost:0").WithSeedTiles(9))
	require.NoError(t, err)
	require.NoError(t, node.Start(context.Background()))

	api := httpapi.NewServer(node, httpapi.Config{
		SecretKey:          "integration-test-secret",
		NoAuth:             noAuth,
		StreamPollInterval: 5 * time.Millisecond,
	})

	server := httptest.NewServer(api.Handler())
	t.Cleanup(func() {
		server.Close()
		node.Close()
	})
	return server
}

func newLoggedInClient(t *testing.T, serverURL, playerID string) *Client {
	t.Helper()

	client, err := NewClient(Config{ServerURL: serverURL, PlayerID: playerID, Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.NoError(t, client.Authenticate(context.Background()))
	return client
}

// TestIntegration_TileWorkflow drives the full player workflow against a real node
func TestIntegration_TileWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := startTestServer(t, false)
	ctx := context.Background()
	tile := tilelog.Position{X: 1, Y: 0}

	alice := newLoggedInClient(t, server.URL, "alice")
	bob := newLoggedInClient(t, server.URL, "bob")
	admin := newLoggedInClient(t, server.URL, "admin")

	health, err := alice.GetHealth(ctx)
	require.NoError(t, err)
	assert.True(t, health.Healthy)
	assert.Equal(t, 9, health.Tiles)

	// Events published before a join are never delivered
	_, err = alice.Publish(ctx, tile, "spawn", nil, nil)
	require.NoError(t, err)

	_, err = alice.Join(ctx, tile)
	require.NoError(t, err)
	watching, err := bob.Join(ctx, tile)
	require.NoError(t, err)
	assert.Equal(t, []tilelog.Position{tile}, watching.Watching)

	for _, kind := range []string{"move", "chat", "move"} {
		_, err := alice.Publish(ctx, tile, kind, map[string]string{"by": "alice"}, nil)
		require.NoError(t, err)
	}

	for _, player := range []*Client{alice, bob} {
		fetched, err := player.Fetch(ctx, tile)
		require.NoError(t, err)
		require.Equal(t, 3, fetched.Count, "player %s", player.PlayerID())
		assert.Equal(t, "move", fetched.Events[0].Kind)
		assert.Equal(t, int64(1), fetched.Events[0].Seq)
		assert.Equal(t, "alice", fetched.Events[0].Headers["publisher"])

		again, err := player.Fetch(ctx, tile)
		require.NoError(t, err)
		assert.Equal(t, 0, again.Count)
	}

	watched, err := bob.FetchWatched(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, watched.Count)

	detail, err := admin.AdminGetTile(ctx, tile)
	require.NoError(t, err)
	assert.Equal(t, int64(4), detail.Registered)
	require.Len(t, detail.ServiceOrder, 2)
	assert.Equal(t, "alice", detail.ServiceOrder[0].PlayerID)

	stats, err := admin.AdminGetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "integration-test-node", stats.NodeID)
	assert.Equal(t, 2, stats.Players)

	_, err = bob.LeaveAll(ctx)
	require.NoError(t, err)
	_, err = bob.Fetch(ctx, tile)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))

	// Regular players cannot reach admin endpoints
	_, err = alice.AdminListTiles(ctx)
	assert.Equal(t, http.StatusForbidden, StatusCode(err))

	t.Log("✅ Tile workflow completed successfully")
}

// TestIntegration_Stream checks streamed events arrive in order and are consumed
func TestIntegration_Stream(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := startTestServer(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tile := tilelog.Origin
	alice := newLoggedInClient(t, server.URL, "alice")
	publisher := newLoggedInClient(t, server.URL, "bob")

	_, err := alice.Join(ctx, tile)
	require.NoError(t, err)

	streamClient, err := alice.Stream(ctx, StreamConfig{Tile: tile, ReconnectDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	defer streamClient.Close()

	for i := 0; i < 5; i++ {
		_, err := publisher.Publish(ctx, tile, "tick", i, nil)
		require.NoError(t, err)
	}

	for want := int64(0); want < 5; want++ {
		select {
		case event := <-streamClient.Events():
			assert.Equal(t, want, event.Seq)
			assert.Equal(t, "tick", event.Kind)
		case err := <-streamClient.Errors():
			t.Fatalf("unexpected stream error: %v", err)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for event %d", want)
		}
	}

	// The stream fetched on alice's behalf
	fetched, err := alice.Fetch(ctx, tile)
	require.NoError(t, err)
	assert.Equal(t, 0, fetched.Count)

	// Leaving ends the stream with a terminal error event
	_, err = alice.Leave(ctx, tile)
	require.NoError(t, err)

	select {
	case err := <-streamClient.Errors():
		var streamErr *StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, http.StatusNotFound, streamErr.Response.Code)
	case <-ctx.Done():
		t.Fatal("timed out waiting for the stream to end")
	}
}

// TestIntegration_StreamLargeEvent streams an event far above the default scanner line size
func TestIntegration_StreamLargeEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := startTestServer(t, false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := newLoggedInClient(t, server.URL, "alice")
	_, err := alice.Join(ctx, tilelog.Origin)
	require.NoError(t, err)

	streamClient, err := alice.Stream(ctx, StreamConfig{Tile: tilelog.Origin, ReconnectDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	defer streamClient.Close()

	big := strings.Repeat("x", 70*1024)
	_, err = alice.Publish(ctx, tilelog.Origin, "big", big, nil)
	require.NoError(t, err)
	_, err = alice.Publish(ctx, tilelog.Origin, "y", nil, nil)
	require.NoError(t, err)

	for _, want := range []string{"big", "y"} {
		select {
		case event := <-streamClient.Events():
			assert.Equal(t, want, event.Kind)
			if want == "big" {
				assert.Equal(t, big, event.Payload)
			}
		case err := <-streamClient.Errors():
			t.Fatalf("unexpected stream error: %v", err)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	// Events above the size limit are refused at publish time
	_, err = alice.Publish(ctx, tilelog.Origin, "huge", strings.Repeat("x", tilelog.MaxEventSize), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusCode(err))
}

// TestIntegration_NoAuth uses a server without JWT checks
func TestIntegration_NoAuth(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	server := startTestServer(t, true)
	ctx := context.Background()

	client, err := NewClient(Config{ServerURL: server.URL, PlayerID: "carol", NoAuth: true})
	require.NoError(t, err)

	_, err = client.Join(ctx, tilelog.Origin)
	require.NoError(t, err)

	watching, err := client.Watching(ctx)
	require.NoError(t, err)
	assert.Equal(t, "carol", watching.PlayerID)
	assert.Equal(t, []tilelog.Position{tilelog.Origin}, watching.Watching)
}
