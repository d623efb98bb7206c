package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/webtasks/internal/model"
	"github.com/seantiz/webtasks/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listHistoryResponse wraps the paginated history response.
type listHistoryResponse struct {
	Tasks  []*model.TaskRecord `json:"tasks"`
	Total  int                 `json:"total"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	recs, total, err := s.store.ListTasks(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list task history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list task history")
		return
	}

	if recs == nil {
		recs = []*model.TaskRecord{}
	}

	s.writeJSON(w, http.StatusOK, listHistoryResponse{
		Tasks:  recs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// handleGetHistory returns the recorded outcome of a task. Unlike
// GET /v1/tasks/{id} it never evicts and keeps working after the live task
// has been read or expired.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task history", "task_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get task history")
		return
	}

	s.writeJSON(w, http.StatusOK, rec)
}
