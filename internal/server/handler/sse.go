package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/diffpilot/diffpilot/internal/core"
)

// streamSSE drains the event channel onto the response as server-sent
// events: one `data: <json>` frame per event, flushed immediately. The
// channel contract guarantees an end frame last, so the client always
// observes a complete stream unless the transport itself dies.
func streamSSE(w http.ResponseWriter, events <-chan core.Event, logger *slog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, core.ErrTransport.Error(), "streaming unsupported by this connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			logger.Error("failed to marshal SSE event", "type", event.Type, "error", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// The client went away; the controller observes the request
			// context and finalizes the session on its own.
			logger.Debug("SSE client disconnected", "error", err)
			drain(events)
			return
		}
		flusher.Flush()
	}
}

func drain(events <-chan core.Event) {
	for range events {
	}
}
