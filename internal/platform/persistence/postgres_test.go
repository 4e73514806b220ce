package persistence

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*PostgresDB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return &PostgresDB{
		begin:  mock,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	}, mock
}

func TestPostgresDB_Pool(t *testing.T) {
	var nilPool *pgxpool.Pool
	db := &PostgresDB{pool: nilPool}
	assert.Equal(t, nilPool, db.Pool(), "Pool() should return the initialized pool")
}

func TestPostgresDB_ExecuteTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		db, mock := newTestDB(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE holds").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := db.ExecuteTx(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "UPDATE holds SET status = 'expired'")
			return err
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and keeps the typed error", func(t *testing.T) {
		db, mock := newTestDB(t)
		sentinel := errors.New("insufficient funds")
		mock.ExpectBegin()
		mock.ExpectRollback()

		err := db.ExecuteTx(ctx, func(tx pgx.Tx) error { return sentinel })
		assert.Same(t, sentinel, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback failure still wraps the cause", func(t *testing.T) {
		db, mock := newTestDB(t)
		sentinel := errors.New("cas lost")
		mock.ExpectBegin()
		mock.ExpectRollback().WillReturnError(errors.New("conn closed"))

		err := db.ExecuteTx(ctx, func(tx pgx.Tx) error { return sentinel })
		assert.ErrorIs(t, err, sentinel)
		assert.Contains(t, err.Error(), "rollback failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit failure is flagged", func(t *testing.T) {
		db, mock := newTestDB(t)
		commitErr := errors.New("connection reset by peer")
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(commitErr)

		err := db.ExecuteTx(ctx, func(tx pgx.Tx) error { return nil })
		assert.ErrorIs(t, err, ErrCommitFailed)
		assert.ErrorIs(t, err, commitErr)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		db, mock := newTestDB(t)
		mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))

		called := false
		err := db.ExecuteTx(ctx, func(tx pgx.Tx) error { called = true; return nil })
		assert.Error(t, err)
		assert.False(t, called)
		assert.Contains(t, err.Error(), "failed to begin transaction")
	})

	t.Run("panic rolls back and re-panics", func(t *testing.T) {
		db, mock := newTestDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.PanicsWithValue(t, "boom", func() {
			_ = db.ExecuteTx(ctx, func(tx pgx.Tx) error { panic("boom") })
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
