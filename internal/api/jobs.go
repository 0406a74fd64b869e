package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/trawler-io/trawler/internal/engine"
	"github.com/trawler-io/trawler/internal/model"
)

// createJobResponse is the JSON body returned by POST /v1/jobs.
type createJobResponse struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
	Status   string `json:"status"`
}

// resourceExhaustedResponse carries cap diagnostics for 429 responses.
type resourceExhaustedResponse struct {
	Error   string `json:"error"`
	Cap     int    `json:"cap"`
	Current int    `json:"current"`
}

// listJobsResponse wraps the job listing.
type listJobsResponse struct {
	Jobs []model.Job `json:"jobs"`
}

// jobEventsResponse wraps a job's recorded event history.
type jobEventsResponse struct {
	JobID  string        `json:"job_id"`
	Events []model.Event `json:"events"`
}

// tenantID extracts the caller's tenant identity from the request header.
func tenantID(r *http.Request) string {
	return r.Header.Get(tenantHeader)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		s.writeError(w, http.StatusBadRequest, "missing "+tenantHeader+" header")
		return
	}

	job, err := s.engine.Submit(r.Context(), tenant)
	if err != nil {
		var ree *engine.ResourceExhaustedError
		if errors.As(err, &ree) {
			s.writeJSON(w, http.StatusTooManyRequests, resourceExhaustedResponse{
				Error:   ree.Error(),
				Cap:     ree.Cap,
				Current: ree.Current,
			})
			return
		}
		s.logger.Error("create job", "tenant_id", tenant, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	s.writeJSON(w, http.StatusCreated, createJobResponse{
		JobID:    job.ID(),
		TenantID: job.TenantID(),
		Status:   job.Status(),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.engine.Registry().Get(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var jobs []*engine.Job
	if tenant := tenantID(r); tenant != "" {
		jobs = s.engine.Registry().ListByTenant(tenant)
	} else {
		jobs = s.engine.Registry().List()
	}

	out := make([]model.Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Snapshot())
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{Jobs: out})
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.engine.Stop(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	var ite *engine.InvalidTransitionError
	if errors.As(err, &ite) {
		s.writeError(w, http.StatusConflict, ite.Error())
		return
	}
	if err != nil {
		s.logger.Error("stop job", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to stop job")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopping", "job_id": id})
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.engine.Registry().Get(id); errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	events := s.engine.Broadcaster().History(id)
	if events == nil {
		events = []model.Event{}
	}
	s.writeJSON(w, http.StatusOK, jobEventsResponse{JobID: id, Events: events})
}

func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.engine.Registry().Get(id)
	if errors.Is(err, engine.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	name := engine.ArtifactJSON
	if r.URL.Query().Get("type") == "excel" {
		name = engine.ArtifactExcel
	}

	path := filepath.Join(job.OutputDir(), name)
	if _, err := os.Stat(path); err != nil {
		s.writeError(w, http.StatusNotFound, "results file not found")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename="+name)
	http.ServeFile(w, r, path)
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
