package api

import "net/http"

// handleNow serves the identity table and both pending queues.
func (s *Server) handleNow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.GetCurrentState(r.Context()))
}

// handleStats serves today's counters. Results may be a few seconds old.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.GetBasicStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
