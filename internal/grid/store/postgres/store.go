package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"gridsync/internal/grid/models"
	"gridsync/internal/scope"
	"gridsync/pkg/platform/sentinel"
	txcontext "gridsync/pkg/platform/tx"
)

// Store reads and writes project_data. Every read takes the caller's scope
// explicitly and turns it into a WHERE predicate; there is no session state.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const rowColumns = `p.id, p.region_id, p.district_id, p.client_name, p.contract_number, p.amount::float8,
	p.status, p.manager_comment, p.has_error, p.executor_id, p.last_modified_by, p.last_modified_at`

// visibility renders the scope predicate. next is the first free placeholder
// index.
func visibility(sc scope.Scope, next int) (string, []any) {
	if district, ok := sc.District(); ok {
		return fmt.Sprintf("p.district_id = $%d", next), []any{district}
	}
	if sc.IsAdmin() {
		return "TRUE", nil
	}
	// Unresolvable scopes see nothing.
	return "FALSE", nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner, extra ...any) (*models.Row, error) {
	var (
		r              models.Row
		regionID       sql.NullInt64
		executorID     sql.NullInt64
		lastModifiedBy sql.NullInt64
		lastModifiedAt sql.NullTime
	)
	dest := []any{
		&r.ID, &regionID, &r.DistrictID, &r.ClientName, &r.ContractNumber, &r.Amount,
		&r.Status, &r.ManagerComment, &r.HasError, &executorID, &lastModifiedBy, &lastModifiedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if regionID.Valid {
		r.RegionID = &regionID.Int64
	}
	if executorID.Valid {
		r.ExecutorID = &executorID.Int64
	}
	if lastModifiedBy.Valid {
		r.LastModifiedBy = &lastModifiedBy.Int64
	}
	if lastModifiedAt.Valid {
		t := lastModifiedAt.Time
		r.LastModifiedAt = &t
	}
	return &r, nil
}

func (s *Store) getVisible(ctx context.Context, sc scope.Scope, rowID int64, forUpdate bool) (*models.Row, error) {
	pred, args := visibility(sc, 2)
	query := fmt.Sprintf(`SELECT %s FROM project_data p WHERE p.id = $1 AND %s`, rowColumns, pred)
	if forUpdate {
		query += " FOR UPDATE"
	}
	row, err := scanRow(txcontext.Execer(ctx, s.db).QueryRowContext(ctx, query, append([]any{rowID}, args...)...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select row %d: %w", rowID, err)
	}
	return row, nil
}

// LockVisible selects the row under the scope predicate and holds its row lock
// until the surrounding transaction ends.
func (s *Store) LockVisible(ctx context.Context, sc scope.Scope, rowID int64) (*models.Row, error) {
	return s.getVisible(ctx, sc, rowID, true)
}

func (s *Store) GetVisible(ctx context.Context, sc scope.Scope, rowID int64) (*models.Row, error) {
	return s.getVisible(ctx, sc, rowID, false)
}

// UpdateField writes one allow-listed column and the modification stamp.
func (s *Store) UpdateField(ctx context.Context, rowID int64, f models.Field, value any, actorID int64, at time.Time) (*models.Row, error) {
	if _, ok := models.EditableField(f.Name); !ok {
		return nil, fmt.Errorf("update row %d: column %q is not editable", rowID, f.Name)
	}
	query := fmt.Sprintf(`
		UPDATE project_data AS p
		SET %s = $1, last_modified_by = $2, last_modified_at = $3
		WHERE p.id = $4
		RETURNING %s`, f.Column, rowColumns)

	row, err := scanRow(txcontext.Execer(ctx, s.db).QueryRowContext(ctx, query, value, actorID, at, rowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update row %d: %w", rowID, err)
	}
	return row, nil
}

// ListVisible returns visible rows with the executor's display name.
func (s *Store) ListVisible(ctx context.Context, sc scope.Scope, filter models.RowFilter) ([]models.Row, error) {
	pred, args := visibility(sc, 1)
	conds := []string{pred}
	if len(filter.IDs) > 0 {
		args = append(args, pq.Array(filter.IDs))
		conds = append(conds, fmt.Sprintf("p.id = ANY($%d)", len(args)))
	}
	query := fmt.Sprintf(`
		SELECT %s, COALESCE(NULLIF(u.full_name, ''), u.login)
		FROM project_data p
		LEFT JOIN users u ON u.id = p.executor_id
		WHERE %s
		ORDER BY p.id`, rowColumns, strings.Join(conds, " AND "))

	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()

	var out []models.Row
	for rows.Next() {
		var executorName sql.NullString
		r, err := scanRow(rows, &executorName)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if executorName.Valid {
			r.ExecutorName = &executorName.String
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Stats aggregates the visible rows.
func (s *Store) Stats(ctx context.Context, sc scope.Scope) (models.Stats, error) {
	pred, args := visibility(sc, 2)
	query := fmt.Sprintf(`
		SELECT COUNT(*),
		       COALESCE(SUM(p.amount), 0)::float8,
		       COUNT(*) FILTER (WHERE p.status = $1),
		       COUNT(*) FILTER (WHERE p.has_error)
		FROM project_data p
		WHERE %s`, pred)

	var st models.Stats
	err := txcontext.Execer(ctx, s.db).QueryRowContext(ctx, query, append([]any{models.StatusCompleted}, args...)...).
		Scan(&st.TotalRows, &st.TotalAmount, &st.CompletedCount, &st.ErrorCount)
	if err != nil {
		return models.Stats{}, fmt.Errorf("row stats: %w", err)
	}
	return st, nil
}
