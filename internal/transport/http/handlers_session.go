package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gridsync/internal/platform/metrics"
	"gridsync/internal/platform/middleware"
	"gridsync/internal/presence"
	"gridsync/internal/scope"
	dErrors "gridsync/pkg/domain-errors"
	"gridsync/pkg/platform/httputil"
)

// Roster lists live connections visible to a scope.
type Roster interface {
	Roster(sc scope.Scope) []presence.ConnInfo
}

// SessionHandler serves the caller's own session view and the presence roster.
type SessionHandler struct {
	validator middleware.TokenValidator
	roster    Roster
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewSessionHandler(validator middleware.TokenValidator, roster Roster, logger *slog.Logger, m *metrics.Metrics) *SessionHandler {
	return &SessionHandler{validator: validator, roster: roster, logger: logger, metrics: m}
}

type meResponse struct {
	scope.Scope
	Room string `json:"room"`
}

func (h *SessionHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Timeout(10 * time.Second))
		r.Use(middleware.LatencyMiddleware(h.metrics))
		r.Use(middleware.RequireAuth(h.validator, h.logger))
		r.Get("/api/auth/me", h.handleMe)
		r.Get("/api/presence", h.handlePresence)
	})
}

func (h *SessionHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.FromContext(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, meResponse{Scope: sc, Room: presence.HomeGroup(sc)})
}

func (h *SessionHandler) handlePresence(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.FromContext(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.roster.Roster(sc))
}
