package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"filings-pipeline/internal/common/logging"
	"filings-pipeline/internal/middleware"
	"filings-pipeline/internal/models"
	"filings-pipeline/internal/pipeline"
	"filings-pipeline/internal/storage"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 500
)

// FilingStore is the storage surface the API reads from.
type FilingStore interface {
	QueryFilings(ctx context.Context, filter storage.Filter) ([]models.EnrichedRecord, error)
	QueryThresholdExits(ctx context.Context, limit int) ([]models.ThresholdExit, error)
	Health() error
}

// PipelineRunner triggers a pipeline pass.
type PipelineRunner interface {
	Run(ctx context.Context, opts pipeline.Options) (pipeline.Summary, error)
}

// Handlers holds the API's dependencies. At most one pipeline run is in
// flight at a time; a second trigger gets 409.
type Handlers struct {
	store        FilingStore
	runner       PipelineRunner
	defaultForms []string
	runTimeout   time.Duration
	logger       logging.Logger

	running     int32
	mu          sync.Mutex
	lastSummary *pipeline.Summary
	lastErr     string
}

// NewHandlers creates the handler set. runTimeout bounds each triggered
// pipeline run; zero means no bound.
func NewHandlers(store FilingStore, runner PipelineRunner, defaultForms []string, runTimeout time.Duration, logger logging.Logger) *Handlers {
	return &Handlers{
		store:        store,
		runner:       runner,
		defaultForms: defaultForms,
		runTimeout:   runTimeout,
		logger:       logger,
	}
}

// Router mounts all API routes.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging(h.logger))
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/filings", h.ListFilings).Methods(http.MethodGet)
	r.HandleFunc("/api/exits", h.ListExits).Methods(http.MethodGet)
	r.HandleFunc("/api/runs", h.StartRun).Methods(http.MethodPost)
	r.HandleFunc("/api/runs/latest", h.LatestRun).Methods(http.MethodGet)
	return r
}

// Health reports the service and storage status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "storage": "ok"}
	code := http.StatusOK
	if err := h.store.Health(); err != nil {
		status["status"] = "degraded"
		status["storage"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// ListFilings returns stored filings matching the query parameters cik,
// ticker, form_type, since, until, limit, and offset.
func (h *Handlers) ListFilings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.Filter{
		CIK:      query.Get("cik"),
		Ticker:   query.Get("ticker"),
		FormType: query.Get("form_type"),
		Limit:    defaultQueryLimit,
	}

	var err error
	if filter.Since, err = parseDateParam(query.Get("since")); err != nil {
		http.Error(w, "invalid since date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if filter.Until, err = parseDateParam(query.Get("until")); err != nil {
		http.Error(w, "invalid until date, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if limit > maxQueryLimit {
			limit = maxQueryLimit
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		filter.Offset = offset
	}

	records, err := h.store.QueryFilings(r.Context(), filter)
	if err != nil {
		h.logger.Error("querying filings failed", err)
		http.Error(w, "failed to query filings", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.EnrichedRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"filings": records,
		"count":   len(records),
	})
}

// ListExits returns stored threshold exits, newest first.
func (h *Handlers) ListExits(w http.ResponseWriter, r *http.Request) {
	limit := defaultQueryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	exits, err := h.store.QueryThresholdExits(r.Context(), limit)
	if err != nil {
		h.logger.Error("querying threshold exits failed", err)
		http.Error(w, "failed to query exits", http.StatusInternalServerError)
		return
	}
	if exits == nil {
		exits = []models.ThresholdExit{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exits": exits,
		"count": len(exits),
	})
}

type runRequest struct {
	Forms []string `json:"forms"`
	Start string   `json:"start"`
	End   string   `json:"end"`
}

// StartRun triggers a pipeline run in the background. The run's outcome
// is available from LatestRun once it finishes.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start, err := parseDateParam(req.Start)
	if err != nil || start.IsZero() {
		http.Error(w, "start is required, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	end, err := parseDateParam(req.End)
	if err != nil || end.IsZero() {
		http.Error(w, "end is required, want YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	if end.Before(start) {
		http.Error(w, "end precedes start", http.StatusBadRequest)
		return
	}
	forms := req.Forms
	if len(forms) == 0 {
		forms = h.defaultForms
	}

	if !atomic.CompareAndSwapInt32(&h.running, 0, 1) {
		http.Error(w, "a pipeline run is already in progress", http.StatusConflict)
		return
	}

	opts := pipeline.Options{Forms: forms, Start: start, End: end}
	go func() {
		defer atomic.StoreInt32(&h.running, 0)

		ctx := context.Background()
		if h.runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
			defer cancel()
		}

		summary, err := h.runner.Run(ctx, opts)
		h.mu.Lock()
		defer h.mu.Unlock()
		h.lastSummary = &summary
		h.lastErr = ""
		if err != nil {
			h.lastErr = err.Error()
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// LatestRun reports the most recent run's summary.
func (h *Handlers) LatestRun(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	summary, lastErr := h.lastSummary, h.lastErr
	h.mu.Unlock()

	if atomic.LoadInt32(&h.running) == 1 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
		return
	}
	if summary == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
		return
	}

	response := map[string]interface{}{
		"status":  "completed",
		"summary": summary,
	}
	if lastErr != "" {
		response["status"] = "failed"
		response["error"] = lastErr
	}
	writeJSON(w, http.StatusOK, response)
}

func parseDateParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", value)
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
