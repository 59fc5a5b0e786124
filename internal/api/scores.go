package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lanview/camnode/internal/events"
	"github.com/lanview/camnode/internal/streams"
)

// scoreKeepaliveInterval is how long the scores stream may stay silent
// before a comment line keeps the connection warm.
const scoreKeepaliveInterval = 15 * time.Second

// scoreRecord is the SSE payload: the frame timestamp plus the opaque
// score list from the scoring consumer.
type scoreRecord struct {
	Timestamp string `json:"timestamp"`
	Scores    []any  `json:"scores"`
}

// handleScores streams one camera's per-frame detection scores as
// server-sent events. Mounted raw so the comment keepalives and the
// unbounded body stay outside huma's render path.
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	status, err := s.service.StatusOf(id)
	if err != nil {
		s.writeRawError(w, r, err)
		return
	}
	if status != streams.StatusRunning && status != streams.StatusDisconnected {
		s.writeRawError(w, r, streams.NewStreamError(streams.ErrCodeStreamNotRunning,
			fmt.Sprintf("stream is %s", status), nil))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeRawError(w, r, streams.NewStreamError(streams.ErrCodeInternal, "response writer does not support streaming", nil))
		return
	}

	scoreCh := make(chan any, 16)
	unsubScores := events.SubscribeToChannel[events.ScoreEvent](s.bus, scoreCh)
	defer unsubScores()

	// Also watch lifecycle transitions so the stream closes when the
	// worker reaches a terminal state instead of idling on keepalives.
	statusCh := make(chan any, 4)
	unsubStatus := events.SubscribeToChannel[events.StreamStatusEvent](s.bus, statusCh)
	defer unsubStatus()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(scoreKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-scoreCh:
			score, ok := ev.(events.ScoreEvent)
			if !ok || score.StreamID != id {
				continue
			}
			record := scoreRecord{Timestamp: score.Timestamp, Scores: score.Scores}
			if record.Scores == nil {
				record.Scores = []any{}
			}
			payload, err := json.Marshal(record)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
			keepalive.Reset(scoreKeepaliveInterval)
		case ev := <-statusCh:
			transition, ok := ev.(events.StreamStatusEvent)
			if !ok || transition.StreamID != id {
				continue
			}
			if transition.Status == string(streams.StatusStopped) || transition.Status == string(streams.StatusError) {
				return
			}
		case <-keepalive.C:
			if _, err := io.WriteString(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
