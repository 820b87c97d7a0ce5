// Package auditlogs persists audit entries for both channels.
package auditlogs

import (
	"context"

	"github.com/dmitrijs2005/clinicguard/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, entry *models.AuditEntry) error
	// List returns entries newest first.
	List(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error)
}
