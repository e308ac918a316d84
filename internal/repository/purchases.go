package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/referral-system/internal/dbx"
	"github.com/mmeshcher/referral-system/internal/model"
)

// MaxAmount наибольшая сумма покупки, чьи сотые доли представимы в BIGINT с запасом.
const MaxAmount = 1e15

// PurchaseRepository реализует PurchaseLedger поверх пула или транзакции PostgreSQL.
// Суммы хранятся в сотых долях.
type PurchaseRepository struct {
	db dbx.Querier
}

// NewPurchaseRepository создаёт журнал покупок, привязанный к db.
func NewPurchaseRepository(db dbx.Querier) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// Create добавляет запись о покупке, заполняя ID и CreatedAt.
// Если владелец покупки не существует, возвращается ErrUserNotFound.
func (r *PurchaseRepository) Create(ctx context.Context, p *model.Purchase) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO purchases (id, user_id, amount) VALUES ($1, $2, $3) RETURNING created_at`,
		p.ID, p.UserID, toHundredths(p.Amount),
	).Scan(&p.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: %s", ErrUserNotFound, p.UserID)
		}
		return fmt.Errorf("insert purchase: %w", err)
	}

	return nil
}

// ListByUser возвращает покупки пользователя, новые первыми.
func (r *PurchaseRepository) ListByUser(ctx context.Context, userID string) ([]model.Purchase, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, amount, created_at
		 FROM purchases
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select purchases: %w", err)
	}
	defer rows.Close()

	var res []model.Purchase
	for rows.Next() {
		var (
			p         model.Purchase
			amount    int64
			createdAt time.Time
		)
		if err := rows.Scan(&p.ID, &p.UserID, &amount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		p.Amount = float64(amount) / 100
		p.CreatedAt = createdAt
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// toHundredths переводит сумму в сотые доли. Суммы вне [0, MaxAmount] и нечисловые
// значения дают 0.
func toHundredths(amount float64) int64 {
	if !ValidAmount(amount) {
		return 0
	}
	return int64(math.Round(amount * 100))
}

// ValidAmount сообщает, можно ли сохранить сумму без потери представимости.
func ValidAmount(amount float64) bool {
	return !math.IsNaN(amount) && amount >= 0 && amount <= MaxAmount
}
