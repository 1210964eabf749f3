//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	auditmodels "gridsync/internal/audit/models"
	auditpostgres "gridsync/internal/audit/store/postgres"
	"gridsync/internal/grid/models"
	"gridsync/internal/grid/service"
	"gridsync/internal/grid/store/postgres"
	"gridsync/pkg/platform/sentinel"
	"gridsync/pkg/platform/tx"
	"gridsync/pkg/testutil"
	"gridsync/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	audit    *auditpostgres.Store
	service  *service.Service
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.audit = auditpostgres.New(s.postgres.DB)

	svc, err := service.New(s.store, s.audit, tx.NewSQL(s.postgres.DB, 0))
	s.Require().NoError(err)
	s.service = svc
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	// TRUNCATE does not fire the row-level guards on audit_logs.
	s.Require().NoError(s.postgres.TruncateTables(ctx, "audit_logs", "project_data", "users", "districts", "regions"))

	s.exec(`INSERT INTO regions (id, name) VALUES (1, 'North')`)
	s.exec(`INSERT INTO districts (id, region_id, name) VALUES (3, 1, 'D3'), (5, 1, 'D5')`)
	s.exec(`INSERT INTO users (id, login, full_name, role, district_id) VALUES (20, 'ivan', 'Ivan Petrov', 'executor', 3), (21, 'olga', '', 'executor', 5)`)
	s.exec(`INSERT INTO project_data (id, region_id, district_id, client_name, amount, status, has_error, executor_id) VALUES
		(7, 1, 3, 'ACME', 1000, 'Новый', FALSE, 20),
		(8, 1, 3, 'Globex', 500, 'Завершен', TRUE, NULL),
		(9, 1, 5, 'Initech', 20, 'Новый', FALSE, 21)`)
}

func (s *PostgresStoreSuite) exec(query string, args ...any) {
	_, err := s.postgres.DB.ExecContext(context.Background(), query, args...)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestListVisibleIsScoped() {
	ctx := context.Background()

	rows, err := s.store.ListVisible(ctx, testutil.ManagerScope(3), models.RowFilter{})
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal(int64(7), rows[0].ID)
	s.Require().NotNil(rows[0].ExecutorName)
	s.Equal("Ivan Petrov", *rows[0].ExecutorName)
	s.Nil(rows[1].ExecutorName)

	rows, err = s.store.ListVisible(ctx, testutil.AdminScope(), models.RowFilter{})
	s.Require().NoError(err)
	s.Len(rows, 3)
	s.Require().NotNil(rows[2].ExecutorName)
	s.Equal("olga", *rows[2].ExecutorName)

	rows, err = s.store.ListVisible(ctx, testutil.ManagerScope(3), models.RowFilter{IDs: []int64{8, 9}})
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(int64(8), rows[0].ID)
}

func (s *PostgresStoreSuite) TestForeignRowIsNotFound() {
	ctx := context.Background()

	_, err := s.store.GetVisible(ctx, testutil.ManagerScope(3), 9)
	s.True(errors.Is(err, sentinel.ErrNotFound))
	_, err = s.store.GetVisible(ctx, testutil.ManagerScope(3), 404)
	s.True(errors.Is(err, sentinel.ErrNotFound))

	row, err := s.store.GetVisible(ctx, testutil.AdminScope(), 9)
	s.Require().NoError(err)
	s.Equal("Initech", row.ClientName)
}

func (s *PostgresStoreSuite) TestStats() {
	st, err := s.store.Stats(context.Background(), testutil.ManagerScope(3))
	s.Require().NoError(err)
	s.Equal(models.Stats{TotalRows: 2, TotalAmount: 1500, CompletedCount: 1, ErrorCount: 1}, st)
}

func (s *PostgresStoreSuite) TestUpdateWritesRowAndAuditTogether() {
	ctx := context.Background()

	row, err := s.service.UpdateCell(ctx, testutil.AdminScope(), 7, models.FieldAmount, json.Number("2500"))
	s.Require().NoError(err)
	s.Equal(2500.0, row.Amount)
	s.Require().NotNil(row.LastModifiedBy)
	s.Equal(int64(1), *row.LastModifiedBy)

	history, err := s.audit.ListByRecord(ctx, auditmodels.TableProjectData, 7)
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(auditmodels.Changes{Old: "1000", New: "2500"}, history[0].Changes)
	s.Equal(auditmodels.ActionUpdate, history[0].ActionType)
}

func (s *PostgresStoreSuite) TestFailedUnitOfWorkLeavesNothing() {
	ctx := context.Background()
	field, _ := models.EditableField(models.FieldStatus)
	boom := errors.New("boom")

	err := tx.NewSQL(s.postgres.DB, 0).RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.UpdateField(ctx, 7, field, "В работе", 1, time.Now()); err != nil {
			return err
		}
		if _, err := s.audit.Append(ctx, auditmodels.Entry{
			TableName: auditmodels.TableProjectData, RecordID: 7, ActorID: 1,
			ActionType: auditmodels.ActionUpdate, CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	row, err := s.store.GetVisible(ctx, testutil.AdminScope(), 7)
	s.Require().NoError(err)
	s.Equal("Новый", row.Status)
	history, err := s.audit.ListByRecord(ctx, auditmodels.TableProjectData, 7)
	s.Require().NoError(err)
	s.Empty(history)
}

// Concurrent writers to one cell serialize on the row lock, so the audit
// entries chain: every entry's old value is the previous entry's new value.
func (s *PostgresStoreSuite) TestConcurrentUpdatesFormAChain() {
	ctx := context.Background()
	const writers = 16

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.service.UpdateCell(ctx, testutil.ManagerScope(3), 7, models.FieldManagerComment, fmt.Sprintf("note %d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	history, err := s.audit.ListByRecord(ctx, auditmodels.TableProjectData, 7)
	s.Require().NoError(err)
	s.Require().Len(history, writers)
	// newest first
	s.Equal("", history[writers-1].Changes.Old)
	for i := 0; i < writers-1; i++ {
		s.Equal(history[i+1].Changes.New, history[i].Changes.Old)
	}
	row, err := s.store.GetVisible(ctx, testutil.AdminScope(), 7)
	s.Require().NoError(err)
	s.Equal(history[0].Changes.New, row.ManagerComment)
}

func (s *PostgresStoreSuite) TestOutOfScopeUpdateWritesNothing() {
	ctx := context.Background()

	_, err := s.service.UpdateCell(ctx, testutil.ManagerScope(3), 9, models.FieldAmount, 1)
	s.Require().Error(err)

	row, err := s.store.GetVisible(ctx, testutil.AdminScope(), 9)
	s.Require().NoError(err)
	s.Equal(20.0, row.Amount)
	history, err := s.audit.ListByRecord(ctx, auditmodels.TableProjectData, 9)
	s.Require().NoError(err)
	s.Empty(history)
}

func (s *PostgresStoreSuite) TestHistoryFollowsCommitOrderWhenClockLags() {
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{t0.Add(time.Second), t0}
	svc, err := service.New(s.store, s.audit, tx.NewSQL(s.postgres.DB, 0),
		service.WithClock(func() time.Time {
			t := stamps[0]
			stamps = stamps[1:]
			return t
		}))
	s.Require().NoError(err)

	_, err = svc.UpdateCell(ctx, testutil.AdminScope(), 7, models.FieldAmount, 2000)
	s.Require().NoError(err)
	row, err := svc.UpdateCell(ctx, testutil.AdminScope(), 7, models.FieldAmount, 3000)
	s.Require().NoError(err)
	s.Require().NotNil(row.LastModifiedAt)
	s.True(row.LastModifiedAt.Equal(t0.Add(time.Second)))

	history, err := s.audit.ListByRecord(ctx, auditmodels.TableProjectData, 7)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal("3000", history[0].Changes.New)
	s.Equal("2000", history[1].Changes.New)

	recent, err := s.audit.ListRecent(ctx, 1)
	s.Require().NoError(err)
	s.Require().Len(recent, 1)
	s.Equal("3000", recent[0].Changes.New)
}
