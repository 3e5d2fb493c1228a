package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

// StreamError is the terminal error event a tile stream sends before closing,
// for example after the player left the tile or the tile was dropped.
// The stream is not reconnected after one.
type StreamError struct {
	Response ErrorResponse
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream closed by server (%d): %s", e.Response.Code, e.Response.Message)
}

// StreamClient handles Server-Sent Events streaming from one tile
type StreamClient struct {
	client     *Client
	httpClient *http.Client
	events     chan EventMessage
	errors     chan error
	done       chan struct{}
	cancel     context.CancelFunc

	mu       sync.Mutex
	response *http.Response
	lastSeq  int64
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// Tile to stream. The player must have joined it.
	Tile tilelog.Position

	// BufferSize for the event channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int

	// MaxFrameSize is the longest SSE line accepted. Streamed events are already
	// consumed on the server, so it must cover any event the server accepts.
	MaxFrameSize int
}

// DefaultMaxFrameSize covers an event of tilelog.MaxEventSize after JSON escaping,
// which can turn one byte into six, plus the envelope fields.
const DefaultMaxFrameSize = 6*tilelog.MaxEventSize + 64*1024

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
	if sc.MaxFrameSize == 0 {
		sc.MaxFrameSize = DefaultMaxFrameSize
	}
}

// Stream opens an SSE stream on a tile the player has joined.
// The server fetches on the player's behalf, so streamed events are consumed:
// a later Fetch will not return them again.
func (c *Client) Stream(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if err := c.checkAuth(); err != nil {
		return nil, err
	}

	config.SetDefaults()

	// Create cancellable context
	streamCtx, cancel := context.WithCancel(ctx)

	streamClient := &StreamClient{
		client: c,
		// Same transport, no overall timeout: the stream stays open
		httpClient: &http.Client{Transport: c.httpClient.Transport},
		events:     make(chan EventMessage, config.BufferSize),
		errors:     make(chan error, 10),
		done:       make(chan struct{}),
		cancel:     cancel,
		lastSeq:    -1,
	}

	// Start streaming in background
	go streamClient.startStreaming(streamCtx, config)

	return streamClient, nil
}

// Events returns the channel for receiving events
func (sc *StreamClient) Events() <-chan EventMessage {
	return sc.events
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// LastSeq returns the sequence number of the last event received, or -1
func (sc *StreamClient) LastSeq() int64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.lastSeq
}

// Close stops the streaming client and cleans up resources
func (sc *StreamClient) Close() error {
	sc.cancel()

	// Close HTTP response if open
	sc.mu.Lock()
	if sc.response != nil {
		sc.response.Body.Close()
	}
	sc.mu.Unlock()

	// Wait for streaming goroutine to finish
	<-sc.done

	return nil
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.events)
	defer close(sc.errors)

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := sc.connectAndStream(ctx, config)
		if err != nil && ctx.Err() == nil {
			var streamErr *StreamError
			var apiErr *APIError
			if errors.As(err, &streamErr) || (errors.As(err, &apiErr) && apiErr.StatusCode < 500) {
				// The server refused or ended the stream: reconnecting cannot help
				select {
				case sc.errors <- err:
				case <-ctx.Done():
				}
				return
			}

			select {
			case sc.errors <- fmt.Errorf("streaming error: %w", err):
			case <-ctx.Done():
				return
			default:
			}
		}

		// Check if we should reconnect
		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			select {
			case sc.errors <- fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts):
			case <-ctx.Done():
			}
			return
		}

		attempts++

		// Wait before reconnecting
		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndStream establishes SSE connection and processes events
func (sc *StreamClient) connectAndStream(ctx context.Context, config StreamConfig) error {
	req, err := sc.client.newRequest(ctx, http.MethodGet, tilePath(config.Tile, "stream"), nil, nil, true)
	if err != nil {
		return fmt.Errorf("failed to create streaming request: %w", err)
	}

	// Set SSE headers
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// Perform request
	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}

	sc.mu.Lock()
	sc.response = resp
	sc.mu.Unlock()
	defer func() {
		resp.Body.Close()
		sc.mu.Lock()
		sc.response = nil
		sc.mu.Unlock()
	}()

	// Check response status
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bodyBytes),
		}
		_ = json.Unmarshal(bodyBytes, &apiErr.Response)
		return apiErr
	}

	// Process SSE stream
	return sc.processSSEStream(ctx, resp.Body, config.MaxFrameSize)
}

// processSSEStream reads Server-Sent Events frames separated by blank lines.
// Comments (": ping") are skipped; "event: error" frames end the stream.
func (sc *StreamClient) processSSEStream(ctx context.Context, reader io.Reader, maxFrameSize int) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var eventType string
	var data strings.Builder

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()

		switch {
		case line == "":
			// Empty line terminates a frame
			if data.Len() > 0 {
				if err := sc.dispatch(ctx, eventType, data.String()); err != nil {
					return err
				}
			}
			eventType = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// Keepalive or informational comment
			continue
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line, "data: "))
		}
		// Other SSE fields (id:, retry:) are ignored; the seq is in the payload
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading SSE stream: %w", err)
	}

	return nil
}

// dispatch delivers one complete frame
func (sc *StreamClient) dispatch(ctx context.Context, eventType, data string) error {
	if eventType == "error" {
		streamErr := &StreamError{}
		if err := json.Unmarshal([]byte(data), &streamErr.Response); err != nil {
			streamErr.Response.Message = data
		}
		return streamErr
	}

	var event EventMessage
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		// Report but keep reading
		select {
		case sc.errors <- fmt.Errorf("failed to parse event: %w", err):
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return nil
	}

	// Streamed events are already consumed on the server, so block instead of dropping
	select {
	case sc.events <- event:
	case <-ctx.Done():
		return ctx.Err()
	}

	sc.mu.Lock()
	sc.lastSeq = event.Seq
	sc.mu.Unlock()

	return nil
}
