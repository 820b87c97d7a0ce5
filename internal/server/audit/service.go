package audit

import (
	"context"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/auditlogs"
)

// Service serves administrative audit listings.
type Service struct {
	repo auditlogs.Repository
}

func NewService(repo auditlogs.Repository) *Service {
	return &Service{repo: repo}
}

// List returns entries newest first. The channel is required.
func (s *Service) List(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, error) {
	if !f.Channel.Valid() {
		return nil, common.NewValidationError("channel", "unknown channel")
	}
	if f.Level != nil && ClampLevel(*f.Level) != *f.Level {
		return nil, common.NewValidationError("level", "level must be between 0 and 4")
	}
	return s.repo.List(ctx, f)
}
