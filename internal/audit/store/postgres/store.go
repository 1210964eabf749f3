package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gridsync/internal/audit/models"
	txcontext "gridsync/pkg/platform/tx"
)

// Store persists audit entries in audit_logs. Append joins the caller's
// transaction when one is present in the context.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts one entry and returns it with its assigned id.
func (s *Store) Append(ctx context.Context, entry models.Entry) (models.Entry, error) {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return models.Entry{}, fmt.Errorf("marshal audit changes: %w", err)
	}

	query := `
		INSERT INTO audit_logs (table_name, record_id, user_id, action_type, changes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err = txcontext.Execer(ctx, s.db).QueryRowContext(ctx, query,
		entry.TableName,
		entry.RecordID,
		entry.ActorID,
		entry.ActionType,
		changes,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return models.Entry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	return entry, nil
}

// ListByRecord returns the history of one record, newest first. Entries of
// one record are appended under its row lock, so id order is commit order.
func (s *Store) ListByRecord(ctx context.Context, table string, recordID int64) ([]models.Entry, error) {
	query := `
		SELECT id, table_name, record_id, user_id, action_type, changes, created_at
		FROM audit_logs
		WHERE table_name = $1 AND record_id = $2
		ORDER BY id DESC
	`
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, query, table, recordID)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}
	defer rows.Close()

	var out []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit history: %w", err)
	}
	return out, nil
}

// ListRecent returns the newest entries with the actor login and, for grid
// rows, the client name.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]models.EntryView, error) {
	query := `
		SELECT a.id, a.table_name, a.record_id, a.user_id, a.action_type, a.changes, a.created_at,
		       u.login, p.client_name
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.user_id
		LEFT JOIN project_data p ON a.table_name = 'project_data' AND p.id = a.record_id
		ORDER BY a.id DESC
		LIMIT $1
	`
	rows, err := txcontext.Execer(ctx, s.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit entries: %w", err)
	}
	defer rows.Close()

	var out []models.EntryView
	for rows.Next() {
		var (
			view       models.EntryView
			changes    []byte
			login      sql.NullString
			clientName sql.NullString
		)
		if err := rows.Scan(
			&view.ID, &view.TableName, &view.RecordID, &view.ActorID, &view.ActionType, &changes, &view.CreatedAt,
			&login, &clientName,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if err := json.Unmarshal(changes, &view.Changes); err != nil {
			return nil, fmt.Errorf("decode audit changes: %w", err)
		}
		if login.Valid {
			view.ActorLogin = &login.String
		}
		if clientName.Valid {
			view.ClientName = &clientName.String
		}
		out = append(out, view)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent audit entries: %w", err)
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (models.Entry, error) {
	var (
		e       models.Entry
		changes []byte
	)
	if err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &e.ActorID, &e.ActionType, &changes, &e.CreatedAt); err != nil {
		return models.Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}
	if err := json.Unmarshal(changes, &e.Changes); err != nil {
		return models.Entry{}, fmt.Errorf("decode audit changes: %w", err)
	}
	return e, nil
}
