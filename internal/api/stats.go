package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByState       map[string]int `json:"by_state"`
	ByName        map[string]int `json:"by_name"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	LiveTasks     int            `json:"live_tasks"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetTaskStats(r.Context())
	if err != nil {
		s.logger.Error("get task stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByState:       stats.CountByState,
		ByName:        stats.CountByName,
		AvgDurationMS: stats.AvgDurationMS,
		LiveTasks:     s.registry.Len(),
	})
}
