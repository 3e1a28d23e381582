package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/graaaaa/valheim-watcher/internal/app"
)

// maxConfigBody bounds PUT /api/v1/config request bodies.
const maxConfigBody = 1 << 20

// handleGetConfig handles GET /api/v1/config requests.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.GetConfig(r.Context()))
}

// handlePutConfig handles PUT /api/v1/config requests.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxConfigBody)

	var req app.ConfigUpdateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil)
		return
	}

	result, err := s.cfg.UpdateConfig(r.Context(), req)
	if err != nil {
		if errors.Is(err, app.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to save config", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
