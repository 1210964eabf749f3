package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	auditmodels "gridsync/internal/audit/models"
	"gridsync/internal/grid/metrics"
	"gridsync/internal/grid/models"
	"gridsync/internal/scope"
	dErrors "gridsync/pkg/domain-errors"
	"gridsync/pkg/platform/sentinel"
	"gridsync/pkg/requestcontext"
)

// RowStore is the durable row store. All methods take the caller's scope
// explicitly; none of them consult ambient state.
type RowStore interface {
	LockVisible(ctx context.Context, sc scope.Scope, rowID int64) (*models.Row, error)
	GetVisible(ctx context.Context, sc scope.Scope, rowID int64) (*models.Row, error)
	UpdateField(ctx context.Context, rowID int64, f models.Field, value any, actorID int64, at time.Time) (*models.Row, error)
	ListVisible(ctx context.Context, sc scope.Scope, filter models.RowFilter) ([]models.Row, error)
	Stats(ctx context.Context, sc scope.Scope) (models.Stats, error)
}

// AuditStore appends and reads audit entries.
type AuditStore interface {
	Append(ctx context.Context, entry auditmodels.Entry) (auditmodels.Entry, error)
	ListByRecord(ctx context.Context, table string, recordID int64) ([]auditmodels.Entry, error)
}

// Transactor runs fn as one all-or-nothing unit of work. Stores called with the
// ctx handed to fn take part in the transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Publisher receives committed changes. Publish must not block.
type Publisher interface {
	Publish(ctx context.Context, change models.Change)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, models.Change) {}

// Service is the scoped transactional update engine plus the scoped reads that
// share its visibility policy.
type Service struct {
	rows      RowStore
	audit     AuditStore
	tx        Transactor
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	clock     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock sets the source of modification timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.clock = now
		}
	}
}

func New(rows RowStore, audit AuditStore, tx Transactor, opts ...Option) (*Service, error) {
	if rows == nil || audit == nil || tx == nil {
		return nil, errors.New("grid service: row store, audit store and transactor are required")
	}
	s := &Service{
		rows:      rows,
		audit:     audit,
		tx:        tx,
		publisher: noopPublisher{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("gridsync/internal/grid/service"),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func scopeAttrs(sc scope.Scope) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64("actor.id", sc.ActorID),
		attribute.String("actor.role", string(sc.Role)),
	}
	if d, ok := sc.District(); ok {
		attrs = append(attrs, attribute.Int64("scope.district_id", d))
	}
	return attrs
}

// UpdateCell writes one allow-listed field of one visible row, records the
// audit entry in the same transaction and, after commit, publishes the change.
func (s *Service) UpdateCell(ctx context.Context, sc scope.Scope, rowID int64, field string, raw any) (*models.Row, error) {
	ctx, span := s.tracer.Start(ctx, "grid.UpdateCell", trace.WithAttributes(scopeAttrs(sc)...))
	defer span.End()
	span.SetAttributes(attribute.Int64("row.id", rowID), attribute.String("row.field", field))

	start := time.Now()
	requestID := requestcontext.RequestID(ctx)

	row, change, err := s.updateCell(ctx, sc, rowID, field, raw)
	if err != nil {
		outcome := outcomeOf(err)
		s.metrics.ObserveUpdate(outcome, time.Since(start))
		span.SetStatus(codes.Error, outcome)
		if outcome == "store_failure" {
			span.RecordError(err)
			s.logger.ErrorContext(ctx, "cell update failed",
				"request_id", requestID,
				"actor_id", sc.ActorID,
				"row_id", rowID,
				"field", field,
				"error", err,
			)
			return nil, dErrors.New(dErrors.CodeInternal, "failed to update cell")
		}
		s.logger.WarnContext(ctx, "cell update rejected",
			"request_id", requestID,
			"actor_id", sc.ActorID,
			"row_id", rowID,
			"field", field,
			"outcome", outcome,
		)
		return nil, err
	}

	s.metrics.ObserveUpdate("ok", time.Since(start))
	s.metrics.IncrementAuditAppends()
	s.logger.InfoContext(ctx, "cell updated",
		"request_id", requestID,
		"actor_id", sc.ActorID,
		"row_id", rowID,
		"field", field,
		"audit_id", change.AuditID,
	)

	s.publisher.Publish(ctx, change)
	return row, nil
}

func (s *Service) updateCell(ctx context.Context, sc scope.Scope, rowID int64, field string, raw any) (*models.Row, models.Change, error) {
	f, ok := models.EditableField(field)
	if !ok {
		return nil, models.Change{}, dErrors.New(dErrors.CodeFieldNotEditable, fmt.Sprintf("field %q is not editable", field))
	}
	value, err := f.Normalize(raw)
	if err != nil {
		return nil, models.Change{}, err
	}
	if rowID <= 0 {
		return nil, models.Change{}, errAccessDeniedOrNotFound
	}

	var (
		updated *models.Row
		change  models.Change
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.rows.LockVisible(ctx, sc, rowID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return errAccessDeniedOrNotFound
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "lock row")
		}
		old := current.Value(f)
		now := s.stamp(current)

		updated, err = s.rows.UpdateField(ctx, rowID, f, value, sc.ActorID, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "write cell")
		}
		// The store may coerce the value (numeric scale); report what it kept.
		committed := updated.Value(f)

		entry, err := s.audit.Append(ctx, auditmodels.Entry{
			TableName:  auditmodels.TableProjectData,
			RecordID:   rowID,
			ActorID:    sc.ActorID,
			ActionType: auditmodels.ActionUpdate,
			Changes:    auditmodels.Changes{Old: models.FormatValue(old), New: models.FormatValue(committed)},
			CreatedAt:  now,
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "append audit entry")
		}

		change = models.Change{
			RowID:      rowID,
			DistrictID: updated.DistrictID,
			Field:      f.Name,
			OldValue:   old,
			Value:      committed,
			ActorID:    sc.ActorID,
			ActorLogin: sc.Login,
			AuditID:    entry.ID,
			At:         now,
			RequestID:  requestcontext.RequestID(ctx),
		}
		return nil
	})
	if err != nil {
		return nil, models.Change{}, err
	}
	return updated, change, nil
}

// stamp is taken while the row lock is held, so stamps on one row follow
// commit order. It never goes behind the row's previous stamp.
func (s *Service) stamp(current *models.Row) time.Time {
	now := s.clock().UTC()
	if current.LastModifiedAt != nil && now.Before(*current.LastModifiedAt) {
		return *current.LastModifiedAt
	}
	return now
}

var errAccessDeniedOrNotFound = dErrors.New(dErrors.CodeAccessDeniedOrNotFound, "row not found or not visible")

func outcomeOf(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeFieldNotEditable:
		return "field_not_editable"
	case dErrors.CodeInvalidValue:
		return "invalid_value"
	case dErrors.CodeAccessDeniedOrNotFound:
		return "access_denied_or_not_found"
	case dErrors.CodeTimeout:
		return "timeout"
	default:
		return "store_failure"
	}
}

// ListRows returns the rows visible under sc.
func (s *Service) ListRows(ctx context.Context, sc scope.Scope, filter models.RowFilter) ([]models.Row, error) {
	ctx, span := s.tracer.Start(ctx, "grid.ListRows", trace.WithAttributes(scopeAttrs(sc)...))
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveRead("list", time.Since(start)) }()

	rows, err := s.rows.ListVisible(ctx, sc, filter)
	if err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "list rows failed",
			"request_id", requestcontext.RequestID(ctx),
			"actor_id", sc.ActorID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list rows")
	}
	if rows == nil {
		rows = []models.Row{}
	}
	return rows, nil
}

// Stats aggregates the rows visible under sc.
func (s *Service) Stats(ctx context.Context, sc scope.Scope) (models.Stats, error) {
	ctx, span := s.tracer.Start(ctx, "grid.Stats", trace.WithAttributes(scopeAttrs(sc)...))
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveRead("stats", time.Since(start)) }()

	st, err := s.rows.Stats(ctx, sc)
	if err != nil {
		span.RecordError(err)
		s.logger.ErrorContext(ctx, "row stats failed",
			"request_id", requestcontext.RequestID(ctx),
			"actor_id", sc.ActorID,
			"error", err,
		)
		return models.Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute stats")
	}
	return st, nil
}

// History returns the audit trail of a row visible under sc, newest first.
func (s *Service) History(ctx context.Context, sc scope.Scope, rowID int64) ([]auditmodels.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "grid.History", trace.WithAttributes(scopeAttrs(sc)...))
	defer span.End()

	if _, err := s.rows.GetVisible(ctx, sc, rowID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, errAccessDeniedOrNotFound
		}
		s.logger.ErrorContext(ctx, "row lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"row_id", rowID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load history")
	}

	entries, err := s.audit.ListByRecord(ctx, auditmodels.TableProjectData, rowID)
	if err != nil {
		s.logger.ErrorContext(ctx, "audit history failed",
			"request_id", requestcontext.RequestID(ctx),
			"row_id", rowID,
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load history")
	}
	if entries == nil {
		entries = []auditmodels.Entry{}
	}
	return entries, nil
}
