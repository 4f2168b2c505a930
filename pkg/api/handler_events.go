package api

import (
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/agora-ai/agora/pkg/bus"
)

// sseHeartbeatInterval keeps idle proxies from reaping the connection.
const sseHeartbeatInterval = 15 * time.Second

// sseBufferSize bounds the per-connection event queue. A client that cannot
// keep up loses events; it catches up from the message store.
const sseBufferSize = 64

// eventsHandler handles GET /api/v1/topics/:id/events.
// Bridges the topic's bus channel to Server-Sent Events, forwarding each
// envelope verbatim as "event: <type>" + the original JSON payload.
func (s *Server) eventsHandler(c echo.Context) error {
	topicID := c.PathParam("id")
	if topicID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic id is required")
	}
	if _, err := s.topics.GetTopic(c.Request().Context(), topicID); err != nil {
		return mapStoreError(err)
	}

	var w http.ResponseWriter = c.Response()
	flusher, ok := w.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	events := make(chan *bus.Envelope, sseBufferSize)
	stream := s.streams(func(_ string, env *bus.Envelope) {
		select {
		case events <- env:
		default:
			// Slow client; drop rather than block the dispatcher.
		}
	})
	defer stream.Close()

	if err := stream.Subscribe(c.Request().Context(), bus.TopicChannel(topicID)); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream unavailable")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-events:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, env.Payload); err != nil {
				return nil
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
