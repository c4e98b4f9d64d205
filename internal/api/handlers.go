package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/maltedev/business-contact-scraper/internal/database"
	"github.com/maltedev/business-contact-scraper/internal/jobs"
	"github.com/maltedev/business-contact-scraper/internal/models"
)

const (
	defaultMaxResults         = 20
	defaultRegistryMaxResults = 100
	searchMaxResults          = 20
	searchFallbackResults     = 10

	pendingWarnThreshold   = 1000
	deadLetterErrThreshold = 100
)

// Store is the read side of the persisted runs.
type Store interface {
	GetRun(ctx context.Context, id string) (*database.RunDetail, error)
	ListRuns(ctx context.Context, limit int) ([]models.Run, error)
	DeleteRun(ctx context.Context, id string) error
	ListBusinesses(ctx context.Context, limit int) ([]database.StoredBusiness, error)
	SearchBusinesses(ctx context.Context, keyword string, limit int) ([]database.StoredBusiness, error)
}

// Runner executes pipeline requests.
type Runner interface {
	RunSync(ctx context.Context, req models.Request) (*models.RunResult, error)
	Submit(ctx context.Context, req models.Request) (*models.Run, error)
	Stats() jobs.Stats
}

// HealthSource reports the outbox backlog.
type HealthSource interface {
	Stats(ctx context.Context) (database.OutboxStats, error)
}

type Handlers struct {
	store  Store
	runner Runner
	health HealthSource
	logger *slog.Logger
}

func NewHandlers(store Store, runner Runner, health HealthSource, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:  store,
		runner: runner,
		health: health,
		logger: logger.With("component", "api"),
	}
}

// Routes mounts the business endpoints under /api/v1/business and the
// health check under /health.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api/v1/business", func(r chi.Router) {
		r.Post("/scrape", h.ScrapeMaps)
		r.Post("/scrape/duckduckgo", h.ScrapeSearch)
		r.Post("/scrape/hsctvn", h.ScrapeRegistry)
		r.Post("/runs", h.SubmitRun)

		r.Get("/searches", h.ListSearches)
		r.Get("/searches/{searchID}", h.GetSearch)
		r.Delete("/searches/{searchID}", h.DeleteSearch)

		r.Get("/businesses", h.ListBusinesses)
		r.Get("/businesses/search/{keyword}", h.SearchBusinesses)
	})
}

// ScrapeRequest is the body of the Google Maps and DuckDuckGo endpoints.
type ScrapeRequest struct {
	Keyword    string `json:"keyword"`
	Location   string `json:"location"`
	MaxResults *int   `json:"max_results"`
}

// RegistryScrapeRequest is the body of the hsctvn endpoint.
type RegistryScrapeRequest struct {
	Date       string `json:"date"`
	MaxResults *int   `json:"max_results"`
	MaxPages   int    `json:"max_pages"`
}

// RunRequest is the body of the asynchronous submission endpoint.
type RunRequest struct {
	Source     models.SourceTag `json:"source"`
	Keyword    string           `json:"keyword"`
	Location   string           `json:"location"`
	Date       string           `json:"date"`
	MaxResults *int             `json:"max_results"`
	MaxPages   int              `json:"max_pages"`
}

type ScrapeResponse struct {
	SearchQueryID string           `json:"search_query_id"`
	Status        models.RunStatus `json:"status"`
	TotalResults  int              `json:"total_results"`
	Message       string           `json:"message"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (h *Handlers) ScrapeMaps(w http.ResponseWriter, r *http.Request) {
	var body ScrapeRequest
	if !h.decode(w, r, &body) {
		return
	}

	req := models.Request{
		Source:     models.SourceMap,
		Keyword:    body.Keyword,
		Location:   body.Location,
		MaxResults: intOr(body.MaxResults, defaultMaxResults),
	}
	h.runSync(w, r, req, "Google Maps")
}

func (h *Handlers) ScrapeSearch(w http.ResponseWriter, r *http.Request) {
	var body ScrapeRequest
	if !h.decode(w, r, &body) {
		return
	}

	req := models.Request{
		Source:     models.SourceSearch,
		Keyword:    body.Keyword,
		Location:   body.Location,
		MaxResults: searchLimit(intOr(body.MaxResults, defaultMaxResults)),
	}
	h.runSync(w, r, req, "DuckDuckGo")
}

func (h *Handlers) ScrapeRegistry(w http.ResponseWriter, r *http.Request) {
	var body RegistryScrapeRequest
	if !h.decode(w, r, &body) {
		return
	}

	date, err := models.ParseDate(body.Date)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	req := models.Request{
		Source:     models.SourceRegistry,
		Date:       date,
		MaxResults: intOr(body.MaxResults, defaultRegistryMaxResults),
		MaxPages:   body.MaxPages,
	}
	h.runSync(w, r, req, "HSCTVN")
}

// SubmitRun queues a request and answers with the pending run.
func (h *Handlers) SubmitRun(w http.ResponseWriter, r *http.Request) {
	var body RunRequest
	if !h.decode(w, r, &body) {
		return
	}

	req := models.Request{
		Source:   body.Source,
		Keyword:  body.Keyword,
		Location: body.Location,
		MaxPages: body.MaxPages,
	}
	if body.Source == models.SourceRegistry {
		date, err := models.ParseDate(body.Date)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		req.Date = date
		req.MaxResults = intOr(body.MaxResults, defaultRegistryMaxResults)
	} else {
		req.MaxResults = intOr(body.MaxResults, defaultMaxResults)
	}
	if req.Source == models.SourceSearch {
		req.MaxResults = searchLimit(req.MaxResults)
	}

	if err := req.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	run, err := h.runner.Submit(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to submit run", "error", err, "source", req.Source)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, run)
}

func (h *Handlers) ListSearches(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns(r.Context(), limitParam(r))
	if err != nil {
		h.logger.Error("failed to list searches", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "failed to list searches")
		return
	}
	if runs == nil {
		runs = []models.Run{}
	}
	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) GetSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.searchID(w, r)
	if !ok {
		return
	}

	detail, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "Not Found", fmt.Sprintf("search query %s does not exist", id))
		return
	}
	if err != nil {
		h.logger.Error("failed to get search", "error", err, "search_query_id", id)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "failed to get search")
		return
	}

	h.respondJSON(w, http.StatusOK, detail)
}

func (h *Handlers) DeleteSearch(w http.ResponseWriter, r *http.Request) {
	id, ok := h.searchID(w, r)
	if !ok {
		return
	}

	err := h.store.DeleteRun(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "Not Found", fmt.Sprintf("search query %s does not exist", id))
		return
	}
	if err != nil {
		h.logger.Error("failed to delete search", "error", err, "search_query_id", id)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "failed to delete search")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("search query %s deleted", id),
	})
}

func (h *Handlers) ListBusinesses(w http.ResponseWriter, r *http.Request) {
	businesses, err := h.store.ListBusinesses(r.Context(), limitParam(r))
	h.respondBusinesses(w, businesses, err)
}

// SearchBusinesses matches names case-insensitively.
func (h *Handlers) SearchBusinesses(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(chi.URLParam(r, "keyword"))
	if keyword == "" {
		h.respondError(w, http.StatusBadRequest, "Bad Request", "keyword is required")
		return
	}

	businesses, err := h.store.SearchBusinesses(r.Context(), keyword, limitParam(r))
	h.respondBusinesses(w, businesses, err)
}

// Health reports the outbox backlog and the job workers.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status": "ok",
		"jobs":   h.runner.Stats(),
	}
	status := http.StatusOK

	stats, err := h.health.Stats(r.Context())
	switch {
	case err != nil:
		h.logger.Warn("failed to read outbox stats", "error", err)
		health["status"] = "error"
		health["message"] = "outbox unavailable"
		status = http.StatusServiceUnavailable
	case stats.DeadLetter > deadLetterErrThreshold:
		health["status"] = "error"
		health["message"] = "High number of dead letter events"
		status = http.StatusServiceUnavailable
	case stats.Pending > pendingWarnThreshold:
		health["status"] = "warning"
		health["message"] = "High number of pending outbox events"
	}
	if err == nil {
		health["outbox"] = stats
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) runSync(w http.ResponseWriter, r *http.Request, req models.Request, sourceName string) {
	if err := req.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}

	result, err := h.runner.RunSync(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to start run", "error", err, "source", req.Source)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		return
	}
	if result.Failed() {
		h.logger.Error("run failed", "run_id", result.RunID, "source", req.Source, "reason", result.Reason)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", result.Reason)
		return
	}

	h.respondJSON(w, http.StatusOK, ScrapeResponse{
		SearchQueryID: result.RunID,
		Status:        result.Status,
		TotalResults:  result.Total,
		Message:       fmt.Sprintf("Scraped %d businesses from %s", result.Total, sourceName),
	})
}

func (h *Handlers) respondBusinesses(w http.ResponseWriter, businesses []database.StoredBusiness, err error) {
	if err != nil {
		h.logger.Error("failed to list businesses", "error", err)
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "failed to list businesses")
		return
	}
	if businesses == nil {
		businesses = []database.StoredBusiness{}
	}
	h.respondJSON(w, http.StatusOK, businesses)
}

func (h *Handlers) searchID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "searchID")
	if _, err := uuid.Parse(id); err != nil {
		h.respondError(w, http.StatusBadRequest, "Bad Request", "search query id must be a UUID")
		return "", false
	}
	return id, true
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return false
	}
	return true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message, detail string) {
	h.respondJSON(w, status, ErrorResponse{Error: message, Detail: detail})
}

// searchLimit drops oversized search requests to the fallback size.
func searchLimit(n int) int {
	if n > searchMaxResults {
		return searchFallbackResults
	}
	return n
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func limitParam(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}
