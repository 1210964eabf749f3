package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	auditmodels "gridsync/internal/audit/models"
	"gridsync/internal/grid/models"
	"gridsync/internal/platform/metrics"
	"gridsync/internal/platform/middleware"
	"gridsync/internal/scope"
	dErrors "gridsync/pkg/domain-errors"
	"gridsync/pkg/platform/httputil"
)

// Service defines the grid operations exposed over HTTP.
type Service interface {
	UpdateCell(ctx context.Context, sc scope.Scope, rowID int64, field string, value any) (*models.Row, error)
	ListRows(ctx context.Context, sc scope.Scope, filter models.RowFilter) ([]models.Row, error)
	Stats(ctx context.Context, sc scope.Scope) (models.Stats, error)
	History(ctx context.Context, sc scope.Scope, rowID int64) ([]auditmodels.Entry, error)
}

// UpdateRequest is the body of POST /api/data/update.
type UpdateRequest struct {
	ID    int64  `json:"id"`
	Field string `json:"field"`
	Value any    `json:"value"`
}

const maxBodyBytes = 64 << 10

// Handler serves the /api/data routes.
type Handler struct {
	logger    *slog.Logger
	grid      Service
	metrics   *metrics.Metrics
	validator middleware.TokenValidator
}

// New creates a new grid Handler.
func New(grid Service, validator middleware.TokenValidator, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		grid:      grid,
		metrics:   m,
		validator: validator,
	}
}

// Register registers the grid routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	dataRouter := chi.NewRouter()
	dataRouter.Use(middleware.Recovery(h.logger))
	dataRouter.Use(middleware.RequestID)
	dataRouter.Use(middleware.Logger(h.logger))
	dataRouter.Use(middleware.Timeout(30 * time.Second))
	dataRouter.Use(middleware.ContentTypeJSON)
	dataRouter.Use(middleware.LatencyMiddleware(h.metrics))
	dataRouter.Use(middleware.RequireAuth(h.validator, h.logger))
	dataRouter.Get("/", h.handleListRows)
	dataRouter.Get("/stats", h.handleStats)
	dataRouter.Post("/update", h.handleUpdate)
	dataRouter.Get("/{id}/history", h.handleHistory)

	r.Mount("/api/data", dataRouter)
}

func (h *Handler) scopeOrFail(w http.ResponseWriter, r *http.Request) (scope.Scope, bool) {
	sc, ok := scope.FromContext(r.Context())
	if !ok {
		h.logger.ErrorContext(r.Context(), "scope missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return scope.Scope{}, false
	}
	return sc, true
}

// handleUpdate applies one cell edit.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	sc, ok := h.scopeOrFail(w, r)
	if !ok {
		return
	}

	req, err := decodeUpdate(w, r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid update request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Field == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "field is required"))
		return
	}

	row, err := h.grid.UpdateCell(ctx, sc, req.ID, req.Field, req.Value)
	if err != nil {
		// The service already logged; domain codes carry their own status.
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, row)
}

func decodeUpdate(w http.ResponseWriter, r *http.Request) (UpdateRequest, error) {
	var req UpdateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	// Keep numbers as json.Number so amounts are not rounded through float64
	// before normalization.
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return req, err
	}
	return req, nil
}

func (h *Handler) handleListRows(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.scopeOrFail(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r.URL.Query().Get("ids"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "ids must be a comma separated list of integers"))
		return
	}
	rows, err := h.grid.ListRows(r.Context(), sc, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rows)
}

func parseFilter(raw string) (models.RowFilter, error) {
	var f models.RowFilter
	if strings.TrimSpace(raw) == "" {
		return f, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return models.RowFilter{}, err
		}
		f.IDs = append(f.IDs, id)
	}
	return f, nil
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.scopeOrFail(w, r)
	if !ok {
		return
	}
	st, err := h.grid.Stats(r.Context(), sc)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.scopeOrFail(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid row id"))
		return
	}
	entries, err := h.grid.History(r.Context(), sc, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}
