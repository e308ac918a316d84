// Package validation содержит функции нормализации и валидации входных данных.
package validation

import (
	"net/mail"
	"strings"
)

const (
	// MinPasswordLength минимальная длина пароля.
	MinPasswordLength = 6
	// MaxPasswordLength ограничение bcrypt на длину пароля в байтах.
	MaxPasswordLength = 72
)

// NormalizeEmail приводит email к виду, в котором он хранится и сравнивается.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail проверяет, что строка является одиночным адресом без отображаемого имени.
func IsValidEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}

// IsValidPassword проверяет длину пароля.
func IsValidPassword(password string) bool {
	return len(password) >= MinPasswordLength && len(password) <= MaxPasswordLength
}

// NormalizeReferralCode убирает пробелы по краям и переводит код в верхний регистр.
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidReferralCode проверяет, что код состоит только из заглавных латинских букв и цифр.
func IsValidReferralCode(code string) bool {
	if code == "" {
		return false
	}

	for i := 0; i < len(code); i++ {
		ch := code[i]
		if (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return false
		}
	}

	return true
}
