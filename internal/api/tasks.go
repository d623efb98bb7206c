package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/webtasks/internal/engine"
	"github.com/seantiz/webtasks/internal/jobs"
	"github.com/seantiz/webtasks/internal/model"
)

const maxBodySize = 1 << 20 // 1 MB

// submitTaskRequest is the JSON body for POST /v1/tasks.
type submitTaskRequest struct {
	Job    string             `json:"job" validate:"required"`
	Name   string             `json:"name" validate:"omitempty,max=128"`
	Params json.RawMessage    `json:"params"`
	Config *taskConfigRequest `json:"config"`
}

// taskConfigRequest overrides the registry defaults for one task. Absent or
// zero durations keep the defaults. Durations are capped at 365 days so the
// conversion to time.Duration cannot overflow.
type taskConfigRequest struct {
	ResultExpirationMS *int64 `json:"result_expiration_ms" validate:"omitempty,gte=0,lte=31536000000"`
	WorkTimeoutMS      *int64 `json:"work_timeout_ms" validate:"omitempty,gte=0,lte=31536000000"`
	PersistOnRead      *bool  `json:"persist_on_read"`
}

type submitTaskResponse struct {
	ID string `json:"id"`
}

// taskConfig merges req over the registry defaults. The task name is the
// explicit name if given, otherwise the job name.
func (s *Server) taskConfig(req submitTaskRequest) model.Config {
	cfg := s.registry.Defaults()
	cfg.Name = req.Job
	if req.Name != "" {
		cfg.Name = req.Name
	}
	if c := req.Config; c != nil {
		if c.ResultExpirationMS != nil {
			cfg.ResultExpiration = time.Duration(*c.ResultExpirationMS) * time.Millisecond
		}
		if c.WorkTimeoutMS != nil {
			cfg.WorkTimeout = time.Duration(*c.WorkTimeoutMS) * time.Millisecond
		}
		if c.PersistOnRead != nil {
			cfg.PersistOnRead = *c.PersistOnRead
		}
	}
	return cfg
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, err := s.catalog.Build(req.Job, req.Params)
	switch {
	case errors.Is(err, jobs.ErrUnknownJob), errors.Is(err, jobs.ErrInvalidParams):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("build job", "job", req.Job, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build job")
		return
	}

	cfg := s.taskConfig(req)
	id, err := s.registry.Submit(body, &cfg)
	switch {
	case errors.Is(err, model.ErrInvalidConfig):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, engine.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	case err != nil:
		s.logger.Error("submit task", "job", req.Job, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit task")
		return
	}

	s.logger.Info("task submitted", "task_id", id, "job", req.Job, "name", cfg.Name)
	w.Header().Set("Location", "/v1/tasks/"+id)
	s.writeJSON(w, http.StatusAccepted, submitTaskResponse{ID: id})
}

// handleGetTask returns the task status. A finished task that does not
// persist on read is evicted by this request, so a repeat returns 404.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, ok := s.registry.GetStatus(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleCancelTask requests cancellation. It answers 202 whether or not the
// handle is known, matching the fire-and-forget cancellation contract.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.registry.CancelTask(id)
	s.writeJSON(w, http.StatusAccepted, submitTaskResponse{ID: id})
}
