package service

import (
	"context"

	"github.com/mmeshcher/referral-system/internal/model"
	"github.com/mmeshcher/referral-system/internal/repository"
)

// SanitizeAmount заменяет NaN, бесконечности, отрицательные суммы и суммы больше
// repository.MaxAmount нулём. Сумма носит информационный характер, поэтому покупка
// записывается всегда.
func SanitizeAmount(amount float64) float64 {
	if !repository.ValidAmount(amount) {
		return 0
	}
	return amount
}

// recordPurchase добавляет покупку в журнал в рамках текущей единицы работы.
// Для несуществующего пользователя возвращается repository.ErrUserNotFound.
func recordPurchase(ctx context.Context, purchases repository.PurchaseLedger, userID string, amount float64) (*model.Purchase, error) {
	p := &model.Purchase{
		UserID: userID,
		Amount: SanitizeAmount(amount),
	}
	if err := purchases.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
