// Package sessions declares the repository contract for server-side sessions.
package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/clinicguard/internal/server/models"
)

// Repository stores session rows. A session exists only while its row does.
type Repository interface {
	Create(ctx context.Context, session *models.Session) error
	// Get returns common.ErrorNotFound for missing sessions.
	Get(ctx context.Context, id string) (*models.Session, error)
	// Delete removes one session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
	// DeleteByAccount terminates every session of an account.
	DeleteByAccount(ctx context.Context, accountID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
