// Package repository содержит реестр пользователей и журнал покупок реферальной системы.
package repository

import (
	"context"
	"errors"

	"github.com/mmeshcher/referral-system/internal/model"
)

var (
	// ErrUserExists возвращается при попытке создать пользователя с уже занятым email.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrReferralCodeTaken возвращается, если реферальный код уже принадлежит другому пользователю.
	ErrReferralCodeTaken = errors.New("referral code already taken")
)

// UserLedger описывает операции над реестром пользователей.
// Методы *ForUpdate блокируют строку до конца текущей транзакции.
type UserLedger interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByIDForUpdate(ctx context.Context, id string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByReferralCode(ctx context.Context, code string) (*model.User, error)
	FindByReferralCodeForUpdate(ctx context.Context, code string) (*model.User, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, u *model.User) error
	Save(ctx context.Context, u *model.User) error
	CountReferred(ctx context.Context, code string) (int64, error)
	CountConvertedReferred(ctx context.Context, code string) (int64, error)
}

// PurchaseLedger описывает журнал покупок. Записи только добавляются.
type PurchaseLedger interface {
	Create(ctx context.Context, p *model.Purchase) error
	ListByUser(ctx context.Context, userID string) ([]model.Purchase, error)
}

// Unit объединяет репозитории, работающие в рамках одного контекста: транзакции или пула.
type Unit interface {
	Users() UserLedger
	Purchases() PurchaseLedger
}

// Store предоставляет нетранзакционный доступ к данным и атомарные единицы работы.
type Store interface {
	Unit
	// WithinTx выполняет fn в транзакции. Ошибка fn откатывает все изменения.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Unit) error) error
	Close() error
}
