package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/referral-system/internal/model"
)

func TestWithinTx_CommitsUnitOfWork(t *testing.T) {
	db, mock := newMockDB(t)
	storage := newStorageFromDB(db, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO purchases`).
		WithArgs(sqlmock.AnyArg(), "u-1", int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`UPDATE users`).
		WithArgs("u-1", int64(2), true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := storage.WithinTx(context.Background(), func(ctx context.Context, tx Unit) error {
		if err := tx.Purchases().Create(ctx, &model.Purchase{UserID: "u-1", Amount: 1}); err != nil {
			return err
		}
		return tx.Users().Save(ctx, &model.User{ID: "u-1", Credits: 2, HasConverted: true})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	storage := newStorageFromDB(db, []time.Duration{0, 0})

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO purchases`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(`UPDATE users`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := storage.WithinTx(context.Background(), func(ctx context.Context, tx Unit) error {
		if err := tx.Purchases().Create(ctx, &model.Purchase{UserID: "u-1"}); err != nil {
			return err
		}
		return tx.Users().Save(ctx, &model.User{ID: "u-1", HasConverted: true})
	})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RetriesDeadlock(t *testing.T) {
	db, mock := newMockDB(t)
	storage := newStorageFromDB(db, []time.Duration{0, 0})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.DeadlockDetected})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WillReturnError(&pgconn.PgError{Code: pgerrcode.SerializationFailure})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	attempts := 0
	err := storage.WithinTx(context.Background(), func(ctx context.Context, tx Unit) error {
		attempts++
		if attempts == 3 {
			return nil
		}
		_, err := tx.Users().FindByIDForUpdate(ctx, "u-1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_DoesNotRetryDomainErrors(t *testing.T) {
	db, mock := newMockDB(t)
	storage := newStorageFromDB(db, []time.Duration{0, 0})

	mock.ExpectBegin()
	mock.ExpectRollback()

	attempts := 0
	err := storage.WithinTx(context.Background(), func(ctx context.Context, tx Unit) error {
		attempts++
		return ErrUserNotFound
	})
	require.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, 1, attempts)
}

func TestWithinTx_GivesUpAfterRetries(t *testing.T) {
	db, mock := newMockDB(t)
	storage := newStorageFromDB(db, []time.Duration{0})

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	attempts := 0
	err := storage.WithinTx(context.Background(), func(ctx context.Context, tx Unit) error {
		attempts++
		return &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	})

	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, 2, attempts)
}
