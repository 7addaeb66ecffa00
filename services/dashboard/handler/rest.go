package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ramiqadoumi/go-resilience/internal/domain"
	"github.com/ramiqadoumi/go-resilience/internal/version"
	"github.com/ramiqadoumi/go-resilience/pkg/telemetry"
	"github.com/ramiqadoumi/go-resilience/services/dashboard"
)

// MetricCache is the part of the metric cache engine the REST surface uses.
type MetricCache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string) bool
	Stats() domain.CacheStats
	RecordMetric(sample domain.MetricSample)
	RecordCustomMetric(name string, value float64, category domain.MetricCategory)
	ObserveVital(name string, value float64)
	Metrics(category domain.MetricCategory) []domain.MetricSample
}

// TaskQueue is the part of the task scheduler the REST surface uses.
type TaskQueue interface {
	Enqueue(kind domain.ContentKind, payload []byte, priority domain.Priority) string
	Task(id string) (domain.OptimizationTask, bool)
	Tasks() []domain.OptimizationTask
	RemoveTask(id string) bool
	ClearCompleted() int
}

// ErrorRecovery is the part of the recovery engine the REST surface uses.
type ErrorRecovery interface {
	CaptureError(report domain.ErrorReport) string
	Errors() []domain.ErrorRecord
	Error(id string) (domain.ErrorRecord, bool)
	ErrorStats() domain.ErrorStats
	Retry(id string) bool
	Clear()
}

// SnapshotSource serves the aggregated dashboard state.
type SnapshotSource interface {
	Snapshot() dashboard.Snapshot
	ClearAlerts()
}

// ReadyFunc reports whether the service can take traffic.
type ReadyFunc func(ctx context.Context) error

// REST handles HTTP requests for the dashboard.
type REST struct {
	cache    MetricCache
	tasks    TaskQueue
	errs     ErrorRecovery
	snapshot SnapshotSource
	gate     *dashboard.Gate
	kinds    []domain.ContentKind
	ready    ReadyFunc
	logger   *slog.Logger
}

// Option configures a REST handler.
type Option func(*REST)

// WithGate throttles POST /api/v1/errors.
func WithGate(g *dashboard.Gate) Option { return func(h *REST) { h.gate = g } }

// WithKinds restricts POST /api/v1/tasks to the given content kinds.
func WithKinds(kinds []domain.ContentKind) Option { return func(h *REST) { h.kinds = kinds } }

func WithReadiness(fn ReadyFunc) Option { return func(h *REST) { h.ready = fn } }
func WithLogger(l *slog.Logger) Option  { return func(h *REST) { h.logger = l } }

// NewREST creates a new REST handler.
func NewREST(cache MetricCache, tasks TaskQueue, errs ErrorRecovery, snapshot SnapshotSource, opts ...Option) *REST {
	h := &REST{
		cache:    cache,
		tasks:    tasks,
		errs:     errs,
		snapshot: snapshot,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts every endpoint on a chi router behind the given middleware.
func (h *REST) Routes(mws ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(mws...)
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/snapshot", h.GetSnapshot)
		r.Delete("/alerts", h.ClearAlerts)

		r.Get("/metrics", h.ListMetrics)
		r.Post("/metrics", h.RecordMetric)

		r.Get("/cache/stats", h.CacheStats)
		r.Get("/cache/{key}", h.GetCacheEntry)
		r.Put("/cache/{key}", h.PutCacheEntry)
		r.Delete("/cache/{key}", h.DeleteCacheEntry)

		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.EnqueueTask)
		r.Post("/tasks/clear-completed", h.ClearCompletedTasks)
		r.Get("/tasks/{id}", h.GetTask)
		r.Delete("/tasks/{id}", h.RemoveTask)

		r.Get("/errors", h.ListErrors)
		r.Post("/errors", h.CaptureError)
		r.Delete("/errors", h.ClearErrors)
		r.Get("/errors/stats", h.ErrorStats)
		r.Get("/errors/{id}", h.GetError)
		r.Post("/errors/{id}/retry", h.RetryError)
	})
	return r
}

// ── health ───────────────────────────────────────────────────────────────────

// Healthz handles GET /healthz.
func (h *REST) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": version.Get()})
}

// Readyz handles GET /readyz.
func (h *REST) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.logger.Warn("not ready", slog.String("error", err.Error()))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// GetSnapshot handles GET /api/v1/snapshot.
func (h *REST) GetSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot.Snapshot())
}

// ClearAlerts handles DELETE /api/v1/alerts.
func (h *REST) ClearAlerts(w http.ResponseWriter, _ *http.Request) {
	h.snapshot.ClearAlerts()
	w.WriteHeader(http.StatusNoContent)
}

// ── metrics ──────────────────────────────────────────────────────────────────

// RecordMetricRequest is the JSON body for POST /api/v1/metrics. Without a
// threshold, performance samples use the vital table and other categories
// the custom-metric threshold.
type RecordMetricRequest struct {
	Name      string                `json:"name"`
	Value     *float64              `json:"value"`
	Category  domain.MetricCategory `json:"category,omitempty"`
	Threshold *domain.Threshold     `json:"threshold,omitempty"`
}

// ListMetrics handles GET /api/v1/metrics?category=.
func (h *REST) ListMetrics(w http.ResponseWriter, r *http.Request) {
	category := domain.MetricCategory(r.URL.Query().Get("category"))
	if category != "" && !category.Valid() {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}
	samples := h.cache.Metrics(category)
	if samples == nil {
		samples = []domain.MetricSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

// RecordMetric handles POST /api/v1/metrics.
func (h *REST) RecordMetric(w http.ResponseWriter, r *http.Request) {
	var req RecordMetricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "field 'name' is required")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "field 'value' is required")
		return
	}
	if req.Category != "" && !req.Category.Valid() {
		writeError(w, http.StatusBadRequest, "unknown category")
		return
	}

	switch {
	case req.Threshold != nil:
		h.cache.RecordMetric(domain.MetricSample{
			Name:      req.Name,
			Value:     *req.Value,
			Category:  req.Category,
			Threshold: *req.Threshold,
		})
	case req.Category == "" || req.Category == domain.CategoryPerformance:
		h.cache.ObserveVital(req.Name, *req.Value)
	default:
		h.cache.RecordCustomMetric(req.Name, *req.Value, req.Category)
	}
	w.WriteHeader(http.StatusAccepted)
}

// ── cache ────────────────────────────────────────────────────────────────────

// PutCacheRequest is the JSON body for PUT /api/v1/cache/{key}. TTL is a Go
// duration string; empty means the cache default.
type PutCacheRequest struct {
	Value json.RawMessage `json:"value"`
	TTL   string          `json:"ttl,omitempty"`
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *REST) CacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.cache.Stats())
}

// GetCacheEntry handles GET /api/v1/cache/{key}.
func (h *REST) GetCacheEntry(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok := h.cache.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, (&domain.CacheKeyNotFoundError{Key: key}).Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

// PutCacheEntry handles PUT /api/v1/cache/{key}.
func (h *REST) PutCacheEntry(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var req PutCacheRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Value) == 0 {
		writeError(w, http.StatusBadRequest, "field 'value' is required")
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "field 'ttl' must be a duration such as 30s")
			return
		}
		ttl = d
	}

	var value any
	if err := json.Unmarshal(req.Value, &value); err != nil {
		writeError(w, http.StatusBadRequest, "invalid value")
		return
	}
	h.cache.Set(key, value, ttl)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCacheEntry handles DELETE /api/v1/cache/{key}.
func (h *REST) DeleteCacheEntry(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if !h.cache.Delete(key) {
		writeError(w, http.StatusNotFound, (&domain.CacheKeyNotFoundError{Key: key}).Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── tasks ────────────────────────────────────────────────────────────────────

// EnqueueTaskRequest is the JSON body for POST /api/v1/tasks. Content is
// taken verbatim unless Encoding is "base64".
type EnqueueTaskRequest struct {
	Kind     domain.ContentKind `json:"kind"`
	Priority domain.Priority    `json:"priority,omitempty"`
	Content  string             `json:"content"`
	Encoding string             `json:"encoding,omitempty"`
}

// EnqueueTaskResponse is the 202 response body.
type EnqueueTaskResponse struct {
	TaskID string           `json:"task_id"`
	State  domain.TaskState `json:"state"`
}

// ListTasks handles GET /api/v1/tasks.
func (h *REST) ListTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tasks.Tasks())
}

// EnqueueTask handles POST /api/v1/tasks.
func (h *REST) EnqueueTask(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer(telemetry.TracerName).Start(r.Context(), "dashboard.enqueue_task")
	defer span.End()

	var req EnqueueTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "field 'kind' is required")
		return
	}
	if h.kinds != nil && !slices.Contains(h.kinds, req.Kind) {
		writeError(w, http.StatusBadRequest, (&domain.InvalidKindError{Kind: req.Kind}).Error())
		return
	}

	payload := []byte(req.Content)
	switch req.Encoding {
	case "":
	case "base64":
		raw, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			writeError(w, http.StatusBadRequest, "field 'content' is not valid base64")
			return
		}
		payload = raw
	default:
		writeError(w, http.StatusBadRequest, "field 'encoding' must be empty or base64")
		return
	}

	id := h.tasks.Enqueue(req.Kind, payload, req.Priority)
	if id == "" {
		writeError(w, http.StatusServiceUnavailable, "scheduler is shutting down")
		return
	}
	span.SetAttributes(
		attribute.String("task.id", id),
		attribute.String("task.kind", string(req.Kind)),
	)
	h.logger.InfoContext(ctx, "task enqueued",
		slog.String("task_id", id),
		slog.String("kind", string(req.Kind)),
		slog.Int("size", len(payload)),
	)
	writeJSON(w, http.StatusAccepted, EnqueueTaskResponse{TaskID: id, State: domain.TaskPending})
}

// GetTask handles GET /api/v1/tasks/{id}.
func (h *REST) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := h.tasks.Task(id)
	if !ok {
		writeError(w, http.StatusNotFound, (&domain.TaskNotFoundError{TaskID: id}).Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// RemoveTask handles DELETE /api/v1/tasks/{id}. Only pending tasks can be
// removed.
func (h *REST) RemoveTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, ok := h.tasks.Task(id)
	if !ok {
		writeError(w, http.StatusNotFound, (&domain.TaskNotFoundError{TaskID: id}).Error())
		return
	}
	if !h.tasks.RemoveTask(id) {
		if latest, ok := h.tasks.Task(id); ok {
			task = latest
		}
		writeError(w, http.StatusConflict, (&domain.TaskNotRemovableError{TaskID: id, State: task.State}).Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCompletedTasks handles POST /api/v1/tasks/clear-completed.
func (h *REST) ClearCompletedTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"removed": h.tasks.ClearCompleted()})
}

// ── errors ───────────────────────────────────────────────────────────────────

// CaptureErrorResponse is the 202 response body of POST /api/v1/errors.
type CaptureErrorResponse struct {
	ErrorID string `json:"error_id"`
}

// ListErrors handles GET /api/v1/errors.
func (h *REST) ListErrors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.errs.Errors())
}

// CaptureError handles POST /api/v1/errors.
func (h *REST) CaptureError(w http.ResponseWriter, r *http.Request) {
	var report domain.ErrorReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(report.Message) == "" {
		writeError(w, http.StatusBadRequest, "field 'message' is required")
		return
	}
	if !h.gate.Admit(r.Context(), report.Kind) {
		writeError(w, http.StatusTooManyRequests, "error report rate limit exceeded")
		return
	}
	writeJSON(w, http.StatusAccepted, CaptureErrorResponse{ErrorID: h.errs.CaptureError(report)})
}

// ClearErrors handles DELETE /api/v1/errors.
func (h *REST) ClearErrors(w http.ResponseWriter, _ *http.Request) {
	h.errs.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// ErrorStats handles GET /api/v1/errors/stats.
func (h *REST) ErrorStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.errs.ErrorStats())
}

// GetError handles GET /api/v1/errors/{id}.
func (h *REST) GetError(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := h.errs.Error(id)
	if !ok {
		writeError(w, http.StatusNotFound, (&domain.ErrorNotFoundError{ErrorID: id}).Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// RetryError handles POST /api/v1/errors/{id}/retry.
func (h *REST) RetryError(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := h.errs.Error(id)
	if !ok {
		writeError(w, http.StatusNotFound, (&domain.ErrorNotFoundError{ErrorID: id}).Error())
		return
	}
	if rec.Recovered {
		writeError(w, http.StatusConflict, "error already recovered")
		return
	}
	if !h.errs.Retry(id) {
		writeError(w, http.StatusConflict, "a recovery is already in flight")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
