package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/store"
)

const (
	heartbeatInterval = 20 * time.Second

	// Replay after a reconnect is capped at replayPageSize*replayMaxPages events.
	replayPageSize = 100
	replayMaxPages = 5
)

// sseWriter frames Server-Sent Events on a flushing response.
type sseWriter struct {
	w io.Writer
	f http.Flusher
}

func (s sseWriter) comment(text string) {
	fmt.Fprintf(s.w, ":%s\n\n", text)
	s.f.Flush()
}

// send writes m without flushing. Messages whose data cannot be encoded are
// skipped.
func (s sseWriter) send(m *Message) {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return
	}
	if m.ID != "" {
		fmt.Fprintf(s.w, "id: %s\n", m.ID)
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", m.Name, data)
}

// handleStream serves GET /api/v1/stream.
//
// Stored events carry their cursor as the SSE id, so a reconnecting client
// resumes after Last-Event-ID (or ?last_event_id=). Notifications have no
// id and are live only.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	resumeAfter := r.Header.Get("Last-Event-ID")
	if resumeAfter == "" {
		resumeAfter = r.URL.Query().Get("last_event_id")
	}

	// Subscribing first means an event stored during replay can be sent
	// twice but is never missed. Clients dedupe on id.
	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	out := sseWriter{w: w, f: flusher}
	out.comment(" connected")

	if resumeAfter != "" && s.events != nil {
		if err := s.replay(r.Context(), out, resumeAfter); err != nil {
			s.logger.Debug("stream replay stopped", "error", err)
		}
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case m, ok := <-sub.Messages():
			if !ok {
				return
			}
			out.send(m)
			flusher.Flush()
		case <-heartbeat.C:
			out.comment("")
		case <-sub.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

// replay sends stored events after cursor. An unknown cursor replays
// nothing.
func (s *Server) replay(ctx context.Context, out sseWriter, cursor string) error {
	filter := store.QueryFilter{Cursor: &cursor, Limit: replayPageSize}

	for range replayMaxPages {
		page, err := s.events.Query(ctx, filter)
		if errors.Is(err, store.ErrInvalidCursor) {
			return nil
		}
		if err != nil {
			return err
		}

		for i := range page.Items {
			out.send(RecordMessage(&page.Items[i]))
		}
		out.f.Flush()

		if page.NextCursor == nil {
			return nil
		}
		filter.Cursor = page.NextCursor
	}
	return nil
}
