package patients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/dbx"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const patientColumns = `patient_id, name, age, gender, ever_married, work_type, residence_type, heart_disease, hypertension, avg_glucose_level, bmi, smoking_status, stroke_risk, created_by, created_at, updated_by, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanPatient(s scanner) (*models.PatientRow, error) {
	var (
		p         models.PatientRow
		updatedBy sql.NullString
		updatedAt sql.NullTime
	)
	err := s.Scan(&p.PatientID, &p.Name, &p.Age, &p.Gender, &p.EverMarried, &p.WorkType, &p.ResidenceType,
		&p.HeartDisease, &p.Hypertension, &p.AvgGlucoseLevel, &p.BMI, &p.SmokingStatus, &p.StrokeRisk,
		&p.CreatedBy, &p.CreatedAt, &updatedBy, &updatedAt)
	if err != nil {
		return nil, err
	}
	if updatedBy.Valid {
		p.UpdatedBy = &updatedBy.String
	}
	if updatedAt.Valid {
		t := updatedAt.Time
		p.UpdatedAt = &t
	}
	return &p, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, p *models.PatientRow) error {
	query :=
		`INSERT INTO patients (patient_id, name, age, gender, ever_married, work_type, residence_type,
		     heart_disease, hypertension, avg_glucose_level, bmi, smoking_status, stroke_risk, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		p.PatientID, p.Name, p.Age, p.Gender, p.EverMarried, p.WorkType, p.ResidenceType,
		p.HeartDisease, p.Hypertension, p.AvgGlucoseLevel, p.BMI, p.SmokingStatus, p.StrokeRisk, p.CreatedBy,
	).Scan(&p.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, p *models.PatientRow) error {
	query :=
		`UPDATE patients
		 SET name = $2, age = $3, gender = $4, ever_married = $5, work_type = $6, residence_type = $7,
		     heart_disease = $8, hypertension = $9, avg_glucose_level = $10, bmi = $11,
		     smoking_status = $12, stroke_risk = $13, updated_by = $14, updated_at = $15
		 WHERE patient_id = $1`

	res, err := r.db.ExecContext(ctx, query,
		p.PatientID, p.Name, p.Age, p.Gender, p.EverMarried, p.WorkType, p.ResidenceType,
		p.HeartDisease, p.Hypertension, p.AvgGlucoseLevel, p.BMI, p.SmokingStatus, p.StrokeRisk,
		p.UpdatedBy, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, patientID string) (*models.PatientRow, error) {
	p, err := scanPatient(r.db.QueryRowContext(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE patient_id = $1`, patientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, patientID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM patients WHERE patient_id = $1)`, patientID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) List(ctx context.Context, limit, offset int) ([]*models.PatientRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+patientColumns+` FROM patients ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]*models.PatientRow, 0)
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) SearchByName(ctx context.Context, prefix string, limit, offset int) ([]models.PatientMatch, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT patient_id, name FROM patients
		 WHERE name ILIKE $1 ESCAPE '\'
		 ORDER BY created_at DESC, patient_id
		 LIMIT $2 OFFSET $3`, likePrefix(prefix), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]models.PatientMatch, 0)
	for rows.Next() {
		var m models.PatientMatch
		if err := rows.Scan(&m.PatientID, &m.Name); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}

func (r *PostgresRepository) Delete(ctx context.Context, patientID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM patients WHERE patient_id = $1`, patientID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
