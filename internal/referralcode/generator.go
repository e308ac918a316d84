// Package referralcode генерирует короткие реферальные коды и проверяет их уникальность.
package referralcode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	// DefaultLength длина кода по умолчанию.
	DefaultLength = 8
	// DefaultPrefixLength максимальная длина префикса, полученного из имени.
	DefaultPrefixLength = 4
	// DefaultMaxAttempts число попыток подобрать свободный код.
	DefaultMaxAttempts = 10
	// MinLength минимально допустимая длина кода.
	MinLength = 3
	// MaxLength максимально допустимая длина кода.
	MaxLength = 64
	// MaxAttempts верхняя граница числа попыток подбора.
	MaxAttempts = 100

	charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	// ErrInvalidConfig возвращается при недопустимых параметрах генерации.
	ErrInvalidConfig = errors.New("invalid referral code config")
	// ErrGenerationExhausted возвращается, если за отведённые попытки не найден свободный код.
	ErrGenerationExhausted = errors.New("referral code generation exhausted")
)

// ExistsFunc сообщает, занят ли код-кандидат.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generator генерирует реферальные коды заданной длины.
type Generator struct {
	length       int
	prefixLength int
}

// NewGenerator создаёт генератор. Длина вне [MinLength, MaxLength] считается ошибкой конфигурации.
func NewGenerator(length, prefixLength int) (*Generator, error) {
	if err := checkLength(length); err != nil {
		return nil, err
	}
	if prefixLength < 0 {
		return nil, fmt.Errorf("%w: negative prefix length %d", ErrInvalidConfig, prefixLength)
	}
	return &Generator{length: length, prefixLength: prefixLength}, nil
}

// Length возвращает длину кода по умолчанию.
func (g *Generator) Length() int {
	return g.length
}

// Generate возвращает код длиной по умолчанию.
func (g *Generator) Generate(nameHint string) (string, error) {
	return g.GenerateWithLength(nameHint, g.length)
}

// GenerateWithLength возвращает код указанной длины: санитизированный префикс из nameHint
// и случайный хвост. Хотя бы один символ кода всегда случайный.
func (g *Generator) GenerateWithLength(nameHint string, length int) (string, error) {
	if err := checkLength(length); err != nil {
		return "", err
	}

	prefix := SanitizePrefix(nameHint, min(g.prefixLength, length-1))

	suffix, err := randomString(length - len(prefix))
	if err != nil {
		return "", err
	}

	return prefix + suffix, nil
}

// GenerateUnique перебирает кандидатов, пока exists не сообщит, что код свободен.
// Нулевые length и maxAttempts заменяются значениями по умолчанию.
func (g *Generator) GenerateUnique(ctx context.Context, exists ExistsFunc, nameHint string, length, maxAttempts int) (string, error) {
	if exists == nil {
		return "", fmt.Errorf("%w: exists check is required", ErrInvalidConfig)
	}
	if length == 0 {
		length = g.length
	}
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxAttempts < 0 || maxAttempts > MaxAttempts {
		return "", fmt.Errorf("%w: max attempts %d out of range [1, %d]", ErrInvalidConfig, maxAttempts, MaxAttempts)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := g.GenerateWithLength(nameHint, length)
		if err != nil {
			return "", err
		}

		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check referral code: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: after %d attempts", ErrGenerationExhausted, maxAttempts)
}

func checkLength(length int) error {
	if length < MinLength {
		return fmt.Errorf("%w: length %d is less than %d", ErrInvalidConfig, length, MinLength)
	}
	if length > MaxLength {
		return fmt.Errorf("%w: length %d is greater than %d", ErrInvalidConfig, length, MaxLength)
	}
	return nil
}

// SanitizePrefix оставляет только латинские буквы и цифры, переводит их в верхний регистр
// и обрезает результат до maxLen символов.
func SanitizePrefix(name string, maxLen int) string {
	if maxLen <= 0 || name == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			continue
		}
		if b.Len() == maxLen {
			break
		}
	}

	return b.String()
}

func randomString(n int) (string, error) {
	limit := big.NewInt(int64(len(charset)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = charset[idx.Int64()]
	}
	return string(buf), nil
}
