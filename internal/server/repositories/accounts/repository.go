// Package accounts declares the repository contract for account rows,
// including the lock-state mutations used by the lockout machine.
package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/clinicguard/internal/server/models"
)

// Repository is keyed by normalized lowercase email.
// Lookups of missing rows return common.ErrorNotFound.
type Repository interface {
	// Create inserts a new account. A duplicate email yields common.ErrAlreadyExists.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	CountByRole(ctx context.Context, role models.Role) (int, error)

	// RecordFailure increments the failed-attempt counter, stamps
	// last_failed_at and locks the account when the counter reaches
	// threshold, all in one statement. The updated row is returned.
	RecordFailure(ctx context.Context, email string, now time.Time, threshold int) (*models.Account, error)
	// ResetFailures clears the counter and last_failed_at.
	ResetFailures(ctx context.Context, email string) error
	// UnlockIfExpired clears the lock when it was set at or before lockedBefore.
	// It reports whether a row was unlocked.
	UnlockIfExpired(ctx context.Context, email string, lockedBefore time.Time) (bool, error)
	// Lock sets the lock flag. An existing lock keeps its original timestamp.
	Lock(ctx context.Context, email string, now time.Time) error
	// Unlock clears the lock and resets the counter unconditionally.
	Unlock(ctx context.Context, email string) error

	UpdateRole(ctx context.Context, email string, role models.Role) error
	UpdatePassword(ctx context.Context, email string, passwordHash string) error
	UpdateName(ctx context.Context, email string, name string) error
	Delete(ctx context.Context, email string) error
}
