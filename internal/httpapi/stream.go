package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rmacdonaldsmith/tilemesh-go/pkg/tilelog"
)

// StreamTile handles GET /api/v1/tiles/{x},{y}/stream.
// The player must have joined the tile. The stream polls Fetch on the player's
// behalf, so events delivered here are not returned by a later GET .../events.
func (h *Handlers) StreamTile(w http.ResponseWriter, r *http.Request) {
	pos, ok := GetTileFromPath(r)
	if !ok {
		writeError(w, "Tile position required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	playerID := GetPlayerID(r)

	// The first fetch doubles as the membership check, before any SSE headers go out
	events, err := h.node.Fetch(ctx, playerID, pos)
	if err != nil {
		writeNodeError(w, "Failed to open stream", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, ": streaming tile %s for %s\n\n", pos, playerID); err != nil {
		return
	}
	if err := writeSSEEvents(w, events); err != nil {
		return
	}
	flusher.Flush()

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	keepalive := time.NewTicker(h.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected or request timed out
			return

		case <-keepalive.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-poll.C:
			events, err := h.node.Fetch(ctx, playerID, pos)
			if err != nil {
				if ctx.Err() == nil {
					// Player left the tile, the tile was dropped or the node stopped
					_ = writeSSEError(w, err)
					flusher.Flush()
				}
				return
			}
			if len(events) == 0 {
				continue
			}
			if err := writeSSEEvents(w, events); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvents writes each event as "id: {seq}" plus "data: {json}"
func writeSSEEvents(w http.ResponseWriter, events []*tilelog.Event) error {
	for _, event := range events {
		data, err := json.Marshal(eventMessage(event))
		if err != nil {
			return fmt.Errorf("failed to marshal SSE message: %w", err)
		}
		if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.Seq, data); err != nil {
			return err
		}
	}
	return nil
}

// writeSSEError sends a terminal error event before the stream closes
func writeSSEError(w http.ResponseWriter, cause error) error {
	statusCode := statusForError(cause)
	data, err := json.Marshal(ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: cause.Error(),
		Code:    statusCode,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
	return err
}
