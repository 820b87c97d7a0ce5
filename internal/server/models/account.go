package models

import (
	"strings"
	"time"
)

// Account is a human principal. Email is the unique key, stored lowercase.
//
// IsLocked is true exactly when LockedAt is non-nil. FailedAttempts is reset
// whenever the lock is cleared or a login succeeds.
type Account struct {
	ID             string
	Email          string
	Name           string
	PasswordHash   string
	Role           Role
	FailedAttempts int
	LastFailedAt   *time.Time
	IsLocked       bool
	LockedAt       *time.Time
	CreatedAt      time.Time
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccountSummary is the administrative listing view; it never carries the hash.
type AccountSummary struct {
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Role           Role      `json:"role"`
	FailedAttempts int       `json:"failed_attempts"`
	IsLocked       bool      `json:"is_locked"`
	CreatedAt      time.Time `json:"created_at"`
}

func (a *Account) Summary() AccountSummary {
	return AccountSummary{
		Email:          a.Email,
		Name:           a.Name,
		Role:           a.Role,
		FailedAttempts: a.FailedAttempts,
		IsLocked:       a.IsLocked,
		CreatedAt:      a.CreatedAt,
	}
}
