package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/referral-system/internal/metrics"
	"github.com/mmeshcher/referral-system/internal/model"
	"github.com/mmeshcher/referral-system/internal/repository"
)

// conversion фиксирует решение, принятое внутри транзакции покупки.
type conversion struct {
	purchase   model.Purchase
	user       model.User
	referrerID string
	outcome    string
}

// Buy записывает покупку и, если это первая покупка пользователя, переводит его в
// состояние «сконвертирован» и начисляет вознаграждение ему и пригласившему.
//
// Запись покупки, признак конверсии и оба начисления фиксируются одной транзакцией.
// Строки покупателя и пригласившего блокируются до её завершения, поэтому
// конкурентные покупки одного пользователя начисляют вознаграждение ровно один раз.
func (s *Service) Buy(ctx context.Context, userID string, amount float64) (*model.ConversionResult, error) {
	var c conversion

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx repository.Unit) error {
		c = conversion{}
		return s.convert(ctx, tx, userID, amount, &c)
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			metrics.ObservePurchase(metrics.PurchaseUserNotFound)
			return nil, err
		}
		metrics.ObservePurchase(metrics.PurchaseFailed)
		return nil, fmt.Errorf("%w: %w", ErrPurchaseFailed, err)
	}

	metrics.ObservePurchase(metrics.PurchaseRecorded)
	if c.outcome != "" {
		s.afterConversion(ctx, &c)
	}

	res := &model.ConversionResult{
		Purchase:     c.purchase,
		Credits:      c.user.Credits,
		HasConverted: c.user.HasConverted,
		Rewarded:     c.outcome == metrics.ConversionRewarded,
	}

	// Транзакция уже зафиксирована: перечитываем актуальный баланс вне её.
	refreshed, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		s.logger.Warn("reload user after purchase", zap.Error(err), zap.String("userID", userID))
		return res, nil
	}
	res.Credits = refreshed.Credits
	res.HasConverted = refreshed.HasConverted

	return res, nil
}

func (s *Service) convert(ctx context.Context, tx repository.Unit, userID string, amount float64, c *conversion) error {
	users := tx.Users()

	user, err := users.FindByIDForUpdate(ctx, userID)
	if err != nil {
		return err
	}

	p, err := recordPurchase(ctx, tx.Purchases(), user.ID, amount)
	if err != nil {
		return err
	}
	c.purchase = *p
	c.user = *user

	if user.HasConverted {
		return nil
	}

	user.HasConverted = true

	if user.ReferredBy == "" {
		c.outcome = metrics.ConversionOrganic
		return s.saveConverted(ctx, users, user, c)
	}

	referrer, err := users.FindByReferralCodeForUpdate(ctx, user.ReferredBy)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return err
	}
	if referrer == nil || referrer.ID == user.ID {
		c.outcome = metrics.ConversionUnresolved
		return s.saveConverted(ctx, users, user, c)
	}

	user.Credits += s.reward
	referrer.Credits += s.reward

	if err := users.Save(ctx, referrer); err != nil {
		return fmt.Errorf("credit referrer: %w", err)
	}
	c.referrerID = referrer.ID
	c.outcome = metrics.ConversionRewarded

	return s.saveConverted(ctx, users, user, c)
}

func (s *Service) saveConverted(ctx context.Context, users repository.UserLedger, user *model.User, c *conversion) error {
	if err := users.Save(ctx, user); err != nil {
		return fmt.Errorf("mark converted: %w", err)
	}
	c.user = *user
	return nil
}

func (s *Service) afterConversion(ctx context.Context, c *conversion) {
	var granted int64
	switch c.outcome {
	case metrics.ConversionRewarded:
		granted = 2 * s.reward
		s.logger.Info("referral reward granted",
			zap.String("userID", c.user.ID),
			zap.String("referrerID", c.referrerID),
			zap.Int64("reward", s.reward),
		)
	case metrics.ConversionUnresolved:
		s.logger.Warn("referral code does not resolve, no reward granted",
			zap.String("userID", c.user.ID),
			zap.String("referredBy", c.user.ReferredBy),
		)
	default:
		s.logger.Info("user converted", zap.String("userID", c.user.ID))
	}

	metrics.ObserveConversion(c.outcome, granted)
	s.invalidateStats(ctx, c.user.ReferredBy)
}
