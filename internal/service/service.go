// Package service реализует бизнес-логику реферальной системы: регистрацию,
// покупки с начислением реферального вознаграждения и отчётность.
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/referral-system/internal/model"
	"github.com/mmeshcher/referral-system/internal/referralcode"
	"github.com/mmeshcher/referral-system/internal/repository"
)

var (
	// ErrInvalidCredentials возвращается при неверной паре email/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrPurchaseFailed возвращается, если транзакция покупки не была зафиксирована.
	// Состояние пользователя при этом не изменилось.
	ErrPurchaseFailed = errors.New("purchase transaction failed")
)

// StatsCache кэширует статистику по реферальным кодам. Допускает устаревшие данные.
type StatsCache interface {
	Get(ctx context.Context, code string) (*model.ReferralStats, bool, error)
	Set(ctx context.Context, stats *model.ReferralStats) error
	Invalidate(ctx context.Context, code string) error
}

// Config содержит параметры бизнес-логики.
type Config struct {
	// Reward — число кредитов, начисляемых и пригласившему, и приглашённому.
	Reward          int64
	CodeMaxAttempts int
	BcryptCost      int
}

// Service содержит бизнес-логику реферальной системы.
type Service struct {
	store  repository.Store
	codes  *referralcode.Generator
	cache  StatsCache
	logger *zap.Logger

	reward          int64
	codeMaxAttempts int
	bcryptCost      int
}

// NewService создаёт сервис. cache может быть nil.
func NewService(store repository.Store, codes *referralcode.Generator, cache StatsCache, logger *zap.Logger, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CodeMaxAttempts == 0 {
		cfg.CodeMaxAttempts = referralcode.DefaultMaxAttempts
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	return &Service{
		store:           store,
		codes:           codes,
		cache:           cache,
		logger:          logger,
		reward:          cfg.Reward,
		codeMaxAttempts: cfg.CodeMaxAttempts,
		bcryptCost:      cfg.BcryptCost,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

func (s *Service) invalidateStats(ctx context.Context, code string) {
	if s.cache == nil || code == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, code); err != nil {
		s.logger.Warn("invalidate referral stats", zap.Error(err), zap.String("code", code))
	}
}
