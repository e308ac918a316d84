// Package dbx связывает репозитории с database/sql: репозиторий получает Querier
// и не знает, работает он с пулом или внутри транзакции.
package dbx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Querier реализуют *sql.DB и *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxFunc выполняется внутри транзакции, открытой WithTx.
type TxFunc func(ctx context.Context, q Querier) error

// WithTx выполняет fn в одной транзакции. Ошибка fn откатывает транзакцию и
// возвращается вызывающему вместе с ошибкой отката, если она была. Паника в fn
// также откатывает транзакцию и пробрасывается.
//
// Начисление кредитов при первой покупке:
//
//	err := dbx.WithTx(ctx, db, &sql.TxOptions{Isolation: sql.LevelReadCommitted},
//		func(ctx context.Context, q dbx.Querier) error {
//			if _, err := q.ExecContext(ctx, "INSERT INTO purchases ..."); err != nil {
//				return err
//			}
//			_, err := q.ExecContext(ctx, "UPDATE users SET credits = credits + $1 ...", 10)
//			return err
//		})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn TxFunc) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		err = rollback(tx, err)
	}()

	if err = fn(ctx, tx); err != nil {
		return err
	}

	committed = true
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func rollback(tx *sql.Tx, cause error) error {
	rbErr := tx.Rollback()
	if rbErr == nil || errors.Is(rbErr, sql.ErrTxDone) {
		return cause
	}
	return errors.Join(cause, fmt.Errorf("rollback tx: %w", rbErr))
}
