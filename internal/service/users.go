package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/referral-system/internal/model"
	"github.com/mmeshcher/referral-system/internal/repository"
	"github.com/mmeshcher/referral-system/internal/validation"
)

// Registration содержит данные для регистрации пользователя.
type Registration struct {
	Name     string
	Email    string
	Password string
	// RefCode — код пригласившего. Сохраняется без проверки существования владельца.
	RefCode string
}

// GenerateOptions задаёт параметры подбора реферального кода.
// Нулевые значения заменяются настройками сервиса.
type GenerateOptions struct {
	NameHint    string
	Length      int
	MaxAttempts int
}

// RegisterUser регистрирует пользователя и выдаёт ему уникальный реферальный код.
func (s *Service) RegisterUser(ctx context.Context, reg Registration) (*model.User, error) {
	email := validation.NormalizeEmail(reg.Email)

	_, err := s.store.Users().FindByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", repository.ErrUserExists, email)
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	name := strings.TrimSpace(reg.Name)

	code, err := s.GenerateReferralCode(ctx, GenerateOptions{NameHint: name})
	if err != nil {
		return nil, err
	}

	u := &model.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		ReferralCode: code,
		ReferredBy:   validation.NormalizeReferralCode(reg.RefCode),
	}

	if err := s.store.Users().Create(ctx, u); err != nil {
		return nil, err
	}

	s.invalidateStats(ctx, u.ReferredBy)

	return u, nil
}

// AuthenticateUser проверяет email и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.User, error) {
	u, err := s.store.Users().FindByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// GenerateReferralCode подбирает свободный реферальный код. Код не резервируется.
func (s *Service) GenerateReferralCode(ctx context.Context, opts GenerateOptions) (string, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.codeMaxAttempts
	}

	return s.codes.GenerateUnique(ctx, s.store.Users().ReferralCodeExists, opts.NameHint, opts.Length, maxAttempts)
}
