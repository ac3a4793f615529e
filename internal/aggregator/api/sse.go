package api

import (
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/opsentra/opsentra/internal/aggregator/hub"
)

// Subscribe upgrades the connection to a server-sent events stream,
// optionally filtered to a single service, and relays hub.Frame values
// until the client disconnects or the hub closes the subscriber.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	filter := r.URL.Query().Get("service")
	sub := h.hub.Register(newSubscriberID(), filter)
	defer h.hub.Unregister(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "retry: 3000\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sub.Send():
			if !ok {
				return
			}
			if err := writeFrame(w, frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeFrame renders one hub.Frame as a single SSE event.
func writeFrame(w http.ResponseWriter, frame hub.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", string(frame.Kind), payload)
	return err
}
