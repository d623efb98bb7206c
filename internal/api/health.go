package api

import (
	"net/http"
)

type healthResponse struct {
	Status    string `json:"status"`
	LiveTasks int    `json:"live_tasks"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		LiveTasks: s.registry.Len(),
	})
}
