package tx

import (
	"context"
	"database/sql"
	"time"

	dErrors "gridsync/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

// SQLTransactor runs a unit of work inside one database transaction. The
// transaction holds a single pooled connection for its lifetime and always
// releases it: the deferred Rollback is a no-op after Commit.
type SQLTransactor struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQL creates a transactor. A zero timeout uses the default.
func NewSQL(db *sql.DB, timeout time.Duration) *SQLTransactor {
	return &SQLTransactor{db: db, timeout: timeout}
}

func (t *SQLTransactor) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}

	return sqlTx.Commit()
}
