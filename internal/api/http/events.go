package http

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StreamEvents handles GET /events as a server-sent-events stream. Each
// status change is delivered as a "status" event and each progress batch as a
// "progress" event. The stream closes when the client disconnects.
func (h *DownloadHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.manager.Subscribe()
	defer h.manager.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case c, open := <-sub.Status():
			if !open {
				return
			}
			if err := writeSSE(w, "status", c); err != nil {
				return
			}
			flusher.Flush()
		case batch, open := <-sub.Progress():
			if !open {
				return
			}
			if err := writeSSE(w, "progress", batch); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
