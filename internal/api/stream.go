package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/logging"
	"github.com/JakeFAU/listing-harvester/internal/progress"
)

// streamProgress handles GET /api/progress/{socket_id}. Events for the
// channel are written as Server-Sent Events named "progress". The stream ends
// after a terminal event unless follow=true is given.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	if s.streams == nil {
		writeError(w, http.StatusServiceUnavailable, "progress streaming unavailable")
		return
	}
	channelID := strings.TrimSpace(chi.URLParam(r, "socket_id"))
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "socket_id is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	follow := r.URL.Query().Get("follow") == "true"
	logger := logging.FromContext(r.Context(), s.logger).With(zap.String("socket_id", channelID))

	events, cancel := s.streams.Subscribe(channelID)
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": subscribed\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(s.opts.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, evt); err != nil {
				logger.Debug("progress stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
			if evt.Stage.Terminal() && !follow {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, evt progress.Event) error {
	data, err := json.Marshal(evt.Payload())
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: progress\ndata: %s\n\n", data); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}
