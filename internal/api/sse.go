package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/XueKirby/mastodon-streaming/internal/models"
	"github.com/XueKirby/mastodon-streaming/internal/observability/logging"
	"github.com/XueKirby/mastodon-streaming/internal/streaming"
)

const (
	// sseHeartbeatInterval keeps intermediaries from closing idle
	// connections.
	sseHeartbeatInterval = 15 * time.Second
	// sseBufferSize bounds the per-connection outbound queue; a consumer
	// slower than this loses events instead of stalling shared dispatch.
	sseBufferSize = 64
)

// serveSSE holds the response open and fans events for the destination out to
// the client in text/event-stream framing.
func (h *Handler) serveSSE(w http.ResponseWriter, r *http.Request, account *models.Account, dest streaming.Destination) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	logger := logging.WithContext(r.Context(), h.logger).With(
		"transport", "sse",
		"stream", dest.StreamName,
		"remote_addr", h.remoteAddr(r),
	)

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-store")
	headers.Set("Transfer-Encoding", "chunked")
	w.WriteHeader(http.StatusOK)

	// Priming comment so proxies commit to the response immediately.
	if _, err := fmt.Fprint(w, ":)\n"); err != nil {
		return
	}
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := streaming.NewSession(h.bus, h.heartbeats, logger)
	defer session.Close(context.Background())

	events := make(chan string, sseBufferSize)
	listener := func(raw string) {
		select {
		case events <- raw:
		default:
			logger.Warn("dropping event for slow consumer")
		}
	}
	if err := session.Subscribe(ctx, dest, listener); err != nil {
		logger.Error("upstream subscribe failed", "error", err)
		return
	}
	logger.Info("stream opened")
	defer logger.Info("stream closed")

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ":thump\n"); err != nil {
				return
			}
			flusher.Flush()
		case raw := <-events:
			event, err := streaming.ParseEvent(raw)
			if err != nil {
				logger.Error("dropping malformed event", "error", err)
				continue
			}
			logger.Debug("event received", "event", event.Event, "lag_ms", event.Lag(time.Now()).Milliseconds())
			if event.Event == streaming.EventKill {
				logger.Info("closing connection on upstream request")
				return
			}
			if !h.filter.Allow(ctx, account, dest, event) {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event, event.PayloadText()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
