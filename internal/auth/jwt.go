// Package auth выпускает и проверяет токены доступа.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken возвращается для просроченных, повреждённых или чужих токенов.
var ErrInvalidToken = errors.New("invalid token")

// Claims — утверждения токена: стандартные и идентификатор пользователя с его кодом.
type Claims struct {
	jwt.RegisteredClaims
	UserID       string `json:"userId"`
	ReferralCode string `json:"referralCode,omitempty"`
}

// Identity описывает аутентифицированного пользователя.
type Identity struct {
	UserID       string
	ReferralCode string
}

// Issuer подписывает и проверяет токены HS256.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer создаёт Issuer. Пустой секрет заменяется случайным ключом: токены
// перестанут быть действительными после перезапуска.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			key = []byte("default-secret-key")
		}
	}

	return &Issuer{secret: key, ttl: ttl}
}

// TTL возвращает срок жизни выпускаемых токенов.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue выпускает токен для пользователя.
func (i *Issuer) Issue(userID, referralCode string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		UserID:       userID,
		ReferralCode: referralCode,
	})

	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse проверяет подпись и срок действия токена и возвращает личность пользователя.
func (i *Issuer) Parse(tokenString string) (Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return Identity{}, ErrInvalidToken
	}

	return Identity{UserID: claims.UserID, ReferralCode: claims.ReferralCode}, nil
}
