package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/listing-scraper/internal/database"
	"github.com/maltedev/listing-scraper/internal/jobs"
	"github.com/maltedev/listing-scraper/internal/models"
	"github.com/maltedev/listing-scraper/internal/queue"
	"github.com/maltedev/listing-scraper/internal/scraper"
)

// maxHTMLBodyBytes bounds the body of a parse request.
const maxHTMLBodyBytes = 10 << 20

// Extractor runs the live pipeline and the static HTML adapter.
type Extractor interface {
	Run(ctx context.Context, rawURL string) (*models.ParsedListing, error)
	ParseHTML(rawURL, html string) (*models.ParsedListing, error)
}

type JobManager interface {
	Submit(ctx context.Context, rawURL string, priority int) (*jobs.Job, error)
	Get(ctx context.Context, jobID string) (*jobs.Job, error)
	List(ctx context.Context, limit int) []*jobs.Job
	Stats(ctx context.Context) *jobs.Stats
}

// OutboxStats reports outbox event counts per status.
type OutboxStats interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type Handlers struct {
	extractor Extractor
	jobs      JobManager
	outbox    OutboxStats
	logger    *slog.Logger
}

// NewHandlers builds the HTTP handlers. outbox may be nil when no database
// is configured.
func NewHandlers(extractor Extractor, jobs JobManager, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		extractor: extractor,
		jobs:      jobs,
		outbox:    outbox,
		logger:    logger.With("component", "api"),
	}
}

type ExtractRequest struct {
	URL string `json:"url"`
}

type ParseRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

type CreateJobRequest struct {
	URL      string `json:"url"`
	Priority int    `json:"priority,omitempty"`
}

type CreateJobResponse struct {
	JobID   string      `json:"job_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

// ExtractListing runs the pipeline synchronously and returns the result
// envelope.
func (h *Handlers) ExtractListing(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	listing, err := h.extractor.Run(r.Context(), req.URL)
	if err != nil {
		h.logger.Warn("extraction failed", "url", req.URL, "kind", scraper.KindOf(err), "error", err)
	}

	h.respondResult(w, scraper.NewResult(req.URL, listing, err), err)
}

// ParseListing runs the field extraction over HTML supplied by the caller.
func (h *Handlers) ParseListing(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxHTMLBodyBytes)

	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" || req.HTML == "" {
		h.respondError(w, http.StatusBadRequest, "url and html are required")
		return
	}

	listing, err := h.extractor.ParseHTML(req.URL, req.HTML)
	if err != nil {
		h.logger.Warn("parse failed", "url", req.URL, "kind", scraper.KindOf(err), "error", err)
	}

	h.respondResult(w, scraper.NewResult(req.URL, listing, err), err)
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.Submit(r.Context(), req.URL, req.Priority)
	switch {
	case errors.Is(err, jobs.ErrEmptyURL):
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		h.respondError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	case err != nil:
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job created successfully",
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListJobs returns the most recent jobs; ?limit caps the count.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := jobs.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	h.respondJSON(w, http.StatusOK, h.jobs.List(r.Context(), limit))
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.Stats(r.Context()))
}

// Health reports service status and, when an outbox is configured, its
// backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
	}
	status := http.StatusOK

	if h.outbox != nil {
		counts, err := h.outbox.CountByStatus(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox status", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		pending := counts[database.OutboxStatusPending] + counts[database.OutboxStatusFailed]
		deadLetter := counts[database.OutboxStatusDeadLetter]
		health["outbox"] = map[string]interface{}{
			"pending":     pending,
			"dead_letter": deadLetter,
		}

		if pending > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

// respondResult writes the envelope with a status derived from the error
// kind.
func (h *Handlers) respondResult(w http.ResponseWriter, result *models.ScrapeResult, err error) {
	status := http.StatusOK
	if err != nil {
		status = statusForKind(scraper.KindOf(err))
	}
	h.respondJSON(w, status, result)
}

func statusForKind(kind scraper.ErrorKind) int {
	switch kind {
	case scraper.KindUnsupportedSite:
		return http.StatusBadRequest
	case scraper.KindNotImplemented:
		return http.StatusNotImplemented
	case scraper.KindNavigationTimeout:
		return http.StatusGatewayTimeout
	case scraper.KindBlockedBySource:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
