package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sjperalta/cropcoef-api/internal/dbctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockPostgres(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func pendingRow(version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "subject_id", "kc_ini", "kc_dev", "kc_mid", "kc_end",
		"l_ini", "l_dev", "l_mid", "l_late", "season_length",
		"source", "submitter_name", "submitter_contact", "status", "version",
	}).AddRow(
		"p-1", "maize-grain", 0.4, 0.7, 1.15, 0.8,
		25, 35, 40, 30, 130,
		"FAO-56", "Ana Ruiz", "ana@example.org", "pending", version,
	)
}

const lockQuery = `SELECT \* FROM "coefficient_proposals" WHERE id = \$1 .*FOR UPDATE`

func TestProposalStore_Postgres_StaleVersionUnderLock(t *testing.T) {
	db, mock := newMockPostgres(t)
	store := NewProposalStore(db, WithLockTimeout(2*time.Second))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = '2000ms'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(lockQuery).WillReturnRows(pendingRow(5))
	mock.ExpectRollback()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := store.Approve(dbctx.WithTx(context.Background(), tx), "p-1", 3)
		return err
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProposalStore_Postgres_ApproveSwapsVersion(t *testing.T) {
	db, mock := newMockPostgres(t)
	store := NewProposalStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WillReturnRows(pendingRow(1))
	mock.ExpectExec(`UPDATE "coefficient_proposals" SET .* WHERE .*version = .*`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var m *Mutation
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		m, err = store.Approve(dbctx.WithTx(context.Background(), tx), "p-1", 1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.Proposal.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProposalStore_Postgres_LostSwapIsConflict(t *testing.T) {
	db, mock := newMockPostgres(t)
	store := NewProposalStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WillReturnRows(pendingRow(1))
	mock.ExpectExec(`UPDATE "coefficient_proposals" SET .*`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := store.Reject(dbctx.WithTx(context.Background(), tx), "p-1", 1)
		return err
	})
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
