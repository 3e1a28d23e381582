package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/graaaaa/valheim-watcher/internal/event"
	"github.com/graaaaa/valheim-watcher/internal/store"
)

const (
	defaultFailuresLimit = 50
	maxFailuresLimit     = 500
)

type eventsResponse struct {
	Items      []event.Record `json:"items"`
	NextCursor *string        `json:"next_cursor,omitempty"`
}

type failuresResponse struct {
	Items []store.ParseFailure `json:"items"`
}

// handleEvents serves GET /api/v1/events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventsFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	res, err := s.events.Query(r.Context(), filter)
	switch {
	case errors.Is(err, store.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "invalid cursor", nil)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}

	body := eventsResponse{Items: res.Items, NextCursor: res.NextCursor}
	if body.Items == nil {
		body.Items = []event.Record{}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleParseFailures serves GET /api/v1/parse-failures.
func (s *Server) handleParseFailures(w http.ResponseWriter, r *http.Request) {
	limit, err := positiveInt(r.URL.Query(), "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if limit == 0 {
		limit = defaultFailuresLimit
	}

	items, err := s.events.RecentFailures(r.Context(), min(limit, maxFailuresLimit))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	if items == nil {
		items = []store.ParseFailure{}
	}
	writeJSON(w, http.StatusOK, failuresResponse{Items: items})
}

func parseEventsFilter(q url.Values) (store.QueryFilter, error) {
	var (
		f   store.QueryFilter
		err error
	)
	if f.Since, err = timeParam(q, "since"); err != nil {
		return f, err
	}
	if f.Until, err = timeParam(q, "until"); err != nil {
		return f, err
	}
	if f.Limit, err = positiveInt(q, "limit"); err != nil {
		return f, err
	}

	if v := q.Get("type"); v != "" {
		if !event.Kind(v).Valid() {
			return f, fmt.Errorf("invalid type: %s", v)
		}
		f.Type = &v
	}
	if v := q.Get("peer_id"); v != "" {
		if _, err := strconv.ParseUint(v, 10, 64); err != nil {
			return f, fmt.Errorf("invalid peer_id: %s", v)
		}
		f.PeerID = &v
	}
	f.Character = stringParam(q, "character")
	f.Cursor = stringParam(q, "cursor")
	return f, nil
}

// positiveInt returns 0 when key is absent.
func positiveInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %s: %s", key, v)
	}
	return n, nil
}

func timeParam(q url.Values, key string) (*time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", key, err)
	}
	return &t, nil
}

func stringParam(q url.Values, key string) *string {
	if v := q.Get(key); v != "" {
		return &v
	}
	return nil
}
