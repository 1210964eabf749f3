package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gridsync/internal/audit/models"
	"gridsync/internal/platform/metrics"
	"gridsync/internal/platform/middleware"
	"gridsync/internal/scope"
	dErrors "gridsync/pkg/domain-errors"
	"gridsync/pkg/platform/httputil"
)

// Service reads the audit log.
type Service interface {
	ListRecent(ctx context.Context, sc scope.Scope, limit int) ([]models.EntryView, error)
}

// Handler serves the admin audit review route.
type Handler struct {
	logger    *slog.Logger
	audit     Service
	metrics   *metrics.Metrics
	validator middleware.TokenValidator
}

func New(audit Service, validator middleware.TokenValidator, logger *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{logger: logger, audit: audit, metrics: m, validator: validator}
}

// Register mounts /api/admin behind admin-only auth.
func (h *Handler) Register(r chi.Router) {
	adminRouter := chi.NewRouter()
	adminRouter.Use(middleware.Recovery(h.logger))
	adminRouter.Use(middleware.RequestID)
	adminRouter.Use(middleware.Logger(h.logger))
	adminRouter.Use(middleware.Timeout(30 * time.Second))
	adminRouter.Use(middleware.LatencyMiddleware(h.metrics))
	adminRouter.Use(middleware.RequireAuth(h.validator, h.logger))
	adminRouter.Use(middleware.RequireRole(h.logger, scope.RoleAdmin))
	adminRouter.Get("/logs", h.handleLogs)

	r.Mount("/api/admin", adminRouter)
}

func (h *Handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sc, ok := scope.FromContext(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.logger.WarnContext(ctx, "invalid audit limit",
				"request_id", middleware.GetRequestID(ctx),
				"limit", raw,
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be an integer"))
			return
		}
		limit = n
	}

	entries, err := h.audit.ListRecent(ctx, sc, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}
