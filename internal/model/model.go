// Package model содержит доменные сущности реферальной системы.
package model

import "time"

// User представляет зарегистрированного пользователя и его реферальное состояние.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
	ReferralCode string
	// ReferredBy хранит код пригласившего в том виде, в каком он был передан при регистрации.
	// Пустая строка означает органическую регистрацию.
	ReferredBy   string
	Credits      int64
	HasConverted bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Purchase описывает неизменяемый факт покупки.
type Purchase struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversionResult содержит итог операции покупки, прочитанный после фиксации транзакции.
type ConversionResult struct {
	Purchase     Purchase
	Credits      int64
	HasConverted bool
	// Rewarded равен true, если эта покупка начислила реферальное вознаграждение.
	Rewarded bool
}

// ReferralStats содержит публичную статистику по реферальному коду.
type ReferralStats struct {
	ReferralCode         string `json:"referralCode"`
	ReferrerName         string `json:"referrerName,omitempty"`
	TotalReferred        int64  `json:"totalReferred"`
	ReferredWhoPurchased int64  `json:"referredWhoPurchased"`
	ReferrerCredits      int64  `json:"referrerCredits"`
}

// Dashboard содержит сводку для личного кабинета пользователя.
type Dashboard struct {
	ReferralCode         string
	TotalReferred        int64
	ReferredWhoPurchased int64
	TotalCredits         int64
	HasConverted         bool
	User                 *User
}
