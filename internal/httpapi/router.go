// Package httpapi serves the browser-facing trigger routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/joseph-ayodele/syllabus-jobs/internal/common"
	"github.com/joseph-ayodele/syllabus-jobs/internal/entity"
	"github.com/joseph-ayodele/syllabus-jobs/internal/trigger"
)

// HeaderUserID carries the caller identity issued by the upstream auth layer.
const HeaderUserID = "X-User-Id"

const maxBodyBytes = 1 << 16

// Pinger reports whether the job store is reachable.
type Pinger func(ctx context.Context) error

type Handler struct {
	svc         *trigger.Service
	sweepSecret string
	ping        Pinger
	logger      *slog.Logger
}

// NewRouter builds the HTTP surface. ping may be nil.
func NewRouter(svc *trigger.Service, sweepSecret string, corsOrigins []string, ping Pinger, logger *slog.Logger) http.Handler {
	h := &Handler{svc: svc, sweepSecret: sweepSecret, ping: ping, logger: common.OrDefault(logger)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.identity)
	r.Use(h.accessLog)

	r.Get("/healthz", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", h.submitJob)
		r.Get("/jobs", h.listJobs)
		r.Post("/process-job", h.processJob)
		r.Post("/process-queue", h.processQueue)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", HeaderUserID},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (h *Handler) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := common.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		if user := strings.TrimSpace(r.Header.Get(HeaderUserID)); user != "" {
			ctx = common.WithUserID(ctx, user)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", common.RequestIDFromContext(r.Context()),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.logger.Error("http.health.failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type submitRequest struct {
	ArtifactRef string `json:"artifactRef"`
	Mode        string `json:"mode"`
}

func (h *Handler) submitJob(w http.ResponseWriter, r *http.Request) {
	caller := common.UserIDFromContext(r.Context())
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	var req submitRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := h.svc.Submit(r.Context(), caller, strings.TrimSpace(req.ArtifactRef), trigger.Mode(req.Mode))
	if err != nil {
		h.fail(w, "submit", err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	caller := common.UserIDFromContext(r.Context())
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	jobs, err := h.svc.ListJobs(r.Context(), caller)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	if jobs == nil {
		jobs = []entity.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type processJobRequest struct {
	JobID string `json:"jobId"`
}

type processJobResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	JobID          string `json:"jobId,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	ProcessingTime int64  `json:"processingTime"`
}

func (h *Handler) processJob(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	caller := common.UserIDFromContext(r.Context())
	if caller == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req processJobRequest
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.JobID) == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}
	jobID, err := uuid.Parse(strings.TrimSpace(req.JobID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "jobId must be a UUID")
		return
	}

	res, err := h.svc.RequestClaim(r.Context(), jobID, caller)
	if err != nil {
		h.fail(w, "process-job", err)
		return
	}
	elapsed := time.Since(start).Milliseconds()
	if !res.Accepted {
		code, msg := rejection(res.Reason)
		writeJSON(w, code, processJobResponse{Error: msg, ProcessingTime: elapsed})
		return
	}
	writeJSON(w, http.StatusOK, processJobResponse{
		Success:        true,
		Message:        "Job processing started successfully",
		JobID:          res.Job.ID.String(),
		FileName:       res.Job.DisplayName(),
		ProcessingTime: elapsed,
	})
}

func rejection(reason trigger.Reason) (int, string) {
	switch reason {
	case trigger.ReasonUnauthenticated:
		return http.StatusUnauthorized, "Unauthorized"
	case trigger.ReasonNotFound, trigger.ReasonNotOwner:
		return http.StatusNotFound, "Job not found or not authorized"
	default:
		return http.StatusConflict, "Job was already processed"
	}
}

type processQueueResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Processed bool   `json:"processed"`
	JobID     string `json:"jobId,omitempty"`
	Status    string `json:"status,omitempty"`
}

func (h *Handler) processQueue(w http.ResponseWriter, r *http.Request) {
	if h.sweepSecret == "" {
		h.logger.Error("http.sweep.unconfigured")
		writeError(w, http.StatusInternalServerError, "Cron configuration error")
		return
	}
	if !common.BearerMatches(r.Header.Get("Authorization"), h.sweepSecret) {
		h.logger.Warn("http.sweep.unauthorized")
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	res, err := h.svc.SweepOnce(r.Context())
	if err != nil {
		h.fail(w, "process-queue", err)
		return
	}
	if !res.Processed {
		writeJSON(w, http.StatusOK, processQueueResponse{Success: true, Message: "No jobs to process"})
		return
	}
	writeJSON(w, http.StatusOK, processQueueResponse{
		Success:   true,
		Message:   "Job processed",
		Processed: true,
		JobID:     res.JobID.String(),
		Status:    string(res.Status),
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, common.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		h.logger.Error("http.request.failed", "op", op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}
