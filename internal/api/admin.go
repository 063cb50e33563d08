package api

import (
	"net/http"
	"strconv"
)

// handleActivity returns recent activity, optionally for one entity type
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	activities, err := s.store.RecentActivity(r.Context(), r.URL.Query().Get("entity"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, activities)
}

// handleStats returns dashboard statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, http.StatusOK, stats)
}
