// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const (
	maxIDLength   = 64
	minCodeLength = 3
	maxCodeLength = 32
)

// IsValidID проверяет идентификатор справочной записи: латиница, цифры, '-' и '_'.
func IsValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, ch := range id {
		if ch > unicode.MaxASCII {
			return false
		}
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) && ch != '-' && ch != '_' {
			return false
		}
	}
	return true
}

// IsValidSessionID проверяет идентификатор сессии замены (UUID).
func IsValidSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// NormalizeBatteryCode убирает пробелы по краям и приводит код к верхнему регистру.
func NormalizeBatteryCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidBatteryCode проверяет код батареи, нанесённый на корпус.
func IsValidBatteryCode(code string) bool {
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return false
	}
	for _, ch := range code {
		if ch > unicode.MaxASCII {
			return false
		}
		if !unicode.IsUpper(ch) && !unicode.IsDigit(ch) && ch != '-' {
			return false
		}
	}
	return true
}
