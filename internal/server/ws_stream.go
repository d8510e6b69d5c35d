package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/sentiq/sentiq/internal/events"
)

// WSStreamHandler streams system events over a WebSocket connection. It
// carries the same payloads as the SSE stream for clients that cannot use
// EventSource.
type WSStreamHandler struct {
	eventBus *events.Bus
	log      zerolog.Logger
}

// NewWSStreamHandler creates a new WebSocket stream handler.
func NewWSStreamHandler(eventBus *events.Bus, log zerolog.Logger) *WSStreamHandler {
	return &WSStreamHandler{
		eventBus: eventBus,
		log:      log.With().Str("component", "ws_stream").Logger(),
	}
}

// ServeHTTP handles GET /api/events/ws requests.
func (h *WSStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	allowed := parseTypesFilter(r.URL.Query().Get("types"))
	h.log.Info().Msg("Client connected to WebSocket event stream")

	eventChan := subscribeStream(h.eventBus, allowed, h.log)
	ctx := r.Context()

	// Drain client frames so pings and close frames are processed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case <-readDone:
			h.log.Info().Msg("Client disconnected from WebSocket event stream")
			return

		case event := <-eventChan:
			if err := h.write(ctx, conn, map[string]any{
				"type":      string(event.Type),
				"timestamp": event.Timestamp.Format(time.RFC3339),
				"data":      event.Data,
			}); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := h.write(ctx, conn, map[string]any{
				"type":      "heartbeat",
				"timestamp": time.Now().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}

func (h *WSStreamHandler) write(ctx context.Context, conn *websocket.Conn, payload map[string]any) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, payload); err != nil {
		h.log.Debug().Err(err).Msg("WebSocket write failed, closing stream")
		return err
	}
	return nil
}
