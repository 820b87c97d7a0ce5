// Package patients declares the repository contract for patient rows. The
// sensitive numeric columns arrive here already encrypted.
package patients

import (
	"context"

	"github.com/dmitrijs2005/clinicguard/internal/server/models"
)

type Repository interface {
	// Insert fails with common.ErrAlreadyExists when the id is taken; the
	// primary key is the final word on identifier uniqueness.
	Insert(ctx context.Context, row *models.PatientRow) error
	Update(ctx context.Context, row *models.PatientRow) error
	Get(ctx context.Context, patientID string) (*models.PatientRow, error)
	Exists(ctx context.Context, patientID string) (bool, error)
	List(ctx context.Context, limit, offset int) ([]*models.PatientRow, error)
	// SearchByName matches a case-insensitive name prefix, newest first.
	SearchByName(ctx context.Context, prefix string, limit, offset int) ([]models.PatientMatch, error)
	Delete(ctx context.Context, patientID string) error
}
