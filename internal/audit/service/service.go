// Package service exposes the audit log for operational review. Writes happen
// inside the grid update transaction; this package only reads.
package service

import (
	"context"
	"errors"
	"log/slog"

	"gridsync/internal/audit/models"
	"gridsync/internal/scope"
	dErrors "gridsync/pkg/domain-errors"
	"gridsync/pkg/requestcontext"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
)

// Store reads recent audit entries with their display joins.
type Store interface {
	ListRecent(ctx context.Context, limit int) ([]models.EntryView, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

func New(store Store, logger *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit service: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}, nil
}

// ClampLimit maps a requested page size into [1, MaxLimit]; zero or negative
// means DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// ListRecent returns the newest entries across all tables. Admin only.
func (s *Service) ListRecent(ctx context.Context, sc scope.Scope, limit int) ([]models.EntryView, error) {
	if !sc.IsAdmin() {
		return nil, dErrors.New(dErrors.CodeForbidden, "audit log is restricted to administrators")
	}
	entries, err := s.store.ListRecent(ctx, ClampLimit(limit))
	if err != nil {
		s.logger.ErrorContext(ctx, "list audit entries failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load audit log")
	}
	if entries == nil {
		entries = []models.EntryView{}
	}
	return entries, nil
}
