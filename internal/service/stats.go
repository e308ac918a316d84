package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/referral-system/internal/model"
	"github.com/mmeshcher/referral-system/internal/validation"
)

// Dashboard возвращает сводку личного кабинета пользователя.
func (s *Service) Dashboard(ctx context.Context, userID string) (*model.Dashboard, error) {
	users := s.store.Users()

	u, err := users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	total, err := users.CountReferred(ctx, u.ReferralCode)
	if err != nil {
		return nil, err
	}

	converted, err := users.CountConvertedReferred(ctx, u.ReferralCode)
	if err != nil {
		return nil, err
	}

	return &model.Dashboard{
		ReferralCode:         u.ReferralCode,
		TotalReferred:        total,
		ReferredWhoPurchased: converted,
		TotalCredits:         u.Credits,
		HasConverted:         u.HasConverted,
		User:                 u,
	}, nil
}

// ReferralStats возвращает публичную статистику по коду. Данные могут отставать
// от реестра на время жизни записи в кэше.
func (s *Service) ReferralStats(ctx context.Context, code string) (*model.ReferralStats, error) {
	code = validation.NormalizeReferralCode(code)

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, code)
		if err != nil {
			s.logger.Warn("read referral stats cache", zap.Error(err), zap.String("code", code))
		}
		if ok {
			return cached, nil
		}
	}

	users := s.store.Users()

	referrer, err := users.FindByReferralCode(ctx, code)
	if err != nil {
		return nil, err
	}

	total, err := users.CountReferred(ctx, code)
	if err != nil {
		return nil, err
	}

	converted, err := users.CountConvertedReferred(ctx, code)
	if err != nil {
		return nil, err
	}

	stats := &model.ReferralStats{
		ReferralCode:         code,
		ReferrerName:         referrer.Name,
		TotalReferred:        total,
		ReferredWhoPurchased: converted,
		ReferrerCredits:      referrer.Credits,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, stats); err != nil {
			s.logger.Warn("write referral stats cache", zap.Error(err), zap.String("code", code))
		}
	}

	return stats, nil
}

// PurchasesByUser возвращает историю покупок пользователя, новые первыми.
func (s *Service) PurchasesByUser(ctx context.Context, userID string) ([]model.Purchase, error) {
	return s.store.Purchases().ListByUser(ctx, userID)
}
