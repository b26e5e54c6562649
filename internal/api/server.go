// Package api exposes the pipeline over HTTP: job submission and status,
// report retrieval, and the entity freshness check used by callers to decide
// whether to request a new report at all.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/intel-pipeline/internal/model"
	"github.com/sells-group/intel-pipeline/internal/monitoring"
	"github.com/sells-group/intel-pipeline/internal/orchestrator"
	"github.com/sells-group/intel-pipeline/internal/store"
)

// Server holds the HTTP handlers over the request-side service.
type Server struct {
	svc       *orchestrator.Service
	collector *monitoring.Collector
}

// NewRouter builds the full route tree.
func NewRouter(svc *orchestrator.Service, collector *monitoring.Collector) http.Handler {
	s := &Server{svc: svc, collector: collector}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.createJob)
		r.Post("/jobs/refresh", s.refreshJob)
		r.Get("/jobs", s.listJobs)
		r.Get("/jobs/{jobID}", s.getJob)
		r.Get("/reports/{reportID}", s.getReport)
		r.Get("/entities/status", s.entityStatus)
		r.Get("/metrics", s.metrics)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createJobRequest struct {
	Identity model.Identity   `json:"identity"`
	Kind     model.EntityKind `json:"kind,omitempty"`
	OrgID    string           `json:"org_id,omitempty"`
	UserID   string           `json:"user_id,omitempty"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Identity.Name == "" && req.Identity.ProfileURL == "" {
		writeError(w, http.StatusBadRequest, "identity.name or identity.profile_url is required")
		return
	}

	job, err := s.svc.Enqueue(r.Context(), req.Identity, req.Kind, req.OrgID, req.UserID)
	if err != nil {
		serverError(w, "enqueue", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.View())
}

type refreshJobRequest struct {
	Identifier string `json:"identifier"`
	ReportID   string `json:"report_id"`
	OrgID      string `json:"org_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

func (s *Server) refreshJob(w http.ResponseWriter, r *http.Request) {
	var req refreshJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Identifier == "" && req.ReportID == "" {
		writeError(w, http.StatusBadRequest, "identifier or report_id is required")
		return
	}

	var (
		job *model.ReportJob
		err error
	)
	if req.ReportID != "" {
		job, err = s.svc.EnqueueRefreshFromReport(r.Context(), req.ReportID, req.OrgID, req.UserID)
	} else {
		job, err = s.svc.EnqueueRefresh(r.Context(), req.Identifier, req.OrgID, req.UserID)
	}
	if errors.Is(err, orchestrator.ErrUnknownEntity) {
		writeError(w, http.StatusNotFound, "unknown entity")
		return
	}
	if err != nil {
		serverError(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.View())
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.JobStatus(r.Context(), chi.URLParam(r, "jobID"))
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		serverError(w, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		Status:   model.JobStatus(r.URL.Query().Get("status")),
		EntityID: r.URL.Query().Get("entity_id"),
		Limit:    50,
	}
	jobs, err := s.svc.ListJobs(r.Context(), filter)
	if err != nil {
		serverError(w, "list jobs", err)
		return
	}
	views := make([]model.JobStatusView, 0, len(jobs))
	for i := range jobs {
		views = append(views, jobs[i].View())
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.FetchReport(r.Context(), chi.URLParam(r, "reportID"))
	if store.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		serverError(w, "get report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) entityStatus(w http.ResponseWriter, r *http.Request) {
	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		writeError(w, http.StatusBadRequest, "identifier query parameter is required")
		return
	}

	status, err := s.svc.Status(r.Context(), identifier)
	if err != nil {
		serverError(w, "entity status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	lookback := 24
	if v := r.URL.Query().Get("lookback_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "lookback_hours must be a positive integer")
			return
		}
		lookback = n
	}

	snap, err := s.collector.Collect(r.Context(), lookback)
	if err != nil {
		serverError(w, "metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("response encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func serverError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
