package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/referral-system/internal/dbx"
	"github.com/mmeshcher/referral-system/internal/metrics"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var defaultRetryDelays = []time.Duration{100 * time.Millisecond, 300 * time.Millisecond, 500 * time.Millisecond}

// PostgresStorage предоставляет доступ к реестру пользователей и журналу покупок в PostgreSQL.
type PostgresStorage struct {
	pool        *pgxpool.Pool
	db          *sql.DB
	retryDelays []time.Duration
}

// NewPostgresStorage создаёт пул соединений и применяет миграции.
func NewPostgresStorage(dsn string) (*PostgresStorage, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStorage{
		pool:        pool,
		db:          stdlib.OpenDBFromPool(pool),
		retryDelays: defaultRetryDelays,
	}

	if err := s.runMigrations(ctx); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

func newStorageFromDB(db *sql.DB, retryDelays []time.Duration) *PostgresStorage {
	return &PostgresStorage{db: db, retryDelays: retryDelays}
}

func (s *PostgresStorage) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает соединения с БД.
func (s *PostgresStorage) Close() error {
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// Users возвращает нетранзакционный реестр пользователей.
func (s *PostgresStorage) Users() UserLedger {
	return NewUserRepository(s.db)
}

// Purchases возвращает нетранзакционный журнал покупок.
func (s *PostgresStorage) Purchases() PurchaseLedger {
	return NewPurchaseRepository(s.db)
}

// WithinTx выполняет fn в транзакции READ COMMITTED. Сериализация конкурентных изменений
// обеспечивается блокировками строк (SELECT ... FOR UPDATE) внутри fn.
// Конфликты сериализации и взаимоблокировки повторяются целиком: в этих случаях
// PostgreSQL гарантирует откат, поэтому повтор не создаёт дубликатов.
func (s *PostgresStorage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Unit) error) error {
	return s.withRetry(ctx, func() error {
		return dbx.WithTx(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx dbx.Querier) error {
			return fn(ctx, txUnit{db: tx})
		})
	})
}

type txUnit struct {
	db dbx.Querier
}

func (u txUnit) Users() UserLedger {
	return NewUserRepository(u.db)
}

func (u txUnit) Purchases() PurchaseLedger {
	return NewPurchaseRepository(u.db)
}

func (s *PostgresStorage) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(s.retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		// Если ошибка контекста — выходим сразу
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		reason, retryable := retryReason(err)
		if !retryable || i == len(s.retryDelays) {
			break
		}

		metrics.ObserveTxRetry(reason)

		timer := time.NewTimer(s.retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}

	return err
}

func retryReason(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure:
			return "serialization_failure", true
		case pgerrcode.DeadlockDetected:
			return "deadlock", true
		}
	}
	return "", false
}
