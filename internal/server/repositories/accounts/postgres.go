package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/dbx"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, email, name, password_hash, role, failed_attempts, last_failed_at, is_locked, locked_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*models.Account, error) {
	var (
		a          models.Account
		role       string
		lastFailed sql.NullTime
		lockedAt   sql.NullTime
	)
	if err := s.Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &role, &a.FailedAttempts,
		&lastFailed, &a.IsLocked, &lockedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Role = models.Role(role)
	if lastFailed.Valid {
		t := lastFailed.Time
		a.LastFailedAt = &t
	}
	if lockedAt.Valid {
		t := lockedAt.Time
		a.LockedAt = &t
	}
	return &a, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, args ...any) (*models.Account, error) {
	a, err := scanAccount(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// exec runs a single-row mutation and maps "no rows affected" to ErrorNotFound.
func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

func (r *PostgresRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	query :=
		`INSERT INTO accounts (id, email, name, password_hash, role)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		account.ID, account.Email, account.Name, account.PasswordHash, string(account.Role)).Scan(&account.CreatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return account, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.queryOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.queryOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *PostgresRepository) List(ctx context.Context) ([]*models.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) CountByRole(ctx context.Context, role models.Role) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE role = $1`, string(role)).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) RecordFailure(ctx context.Context, email string, now time.Time, threshold int) (*models.Account, error) {
	query :=
		`UPDATE accounts
		 SET failed_attempts = failed_attempts + 1,
		     last_failed_at = $2,
		     is_locked = is_locked OR failed_attempts + 1 >= $3,
		     locked_at = CASE
		         WHEN is_locked THEN locked_at
		         WHEN failed_attempts + 1 >= $3 THEN $2
		         ELSE NULL
		     END
		 WHERE email = $1
		 RETURNING ` + accountColumns

	return r.queryOne(ctx, query, email, now, threshold)
}

func (r *PostgresRepository) ResetFailures(ctx context.Context, email string) error {
	return r.exec(ctx,
		`UPDATE accounts SET failed_attempts = 0, last_failed_at = NULL WHERE email = $1`, email)
}

func (r *PostgresRepository) UnlockIfExpired(ctx context.Context, email string, lockedBefore time.Time) (bool, error) {
	query :=
		`UPDATE accounts
		 SET is_locked = FALSE, locked_at = NULL, failed_attempts = 0, last_failed_at = NULL
		 WHERE email = $1 AND is_locked AND locked_at <= $2`

	res, err := r.db.ExecContext(ctx, query, email, lockedBefore)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Lock(ctx context.Context, email string, now time.Time) error {
	return r.exec(ctx,
		`UPDATE accounts SET is_locked = TRUE, locked_at = COALESCE(locked_at, $2) WHERE email = $1`, email, now)
}

func (r *PostgresRepository) Unlock(ctx context.Context, email string) error {
	return r.exec(ctx,
		`UPDATE accounts SET is_locked = FALSE, locked_at = NULL, failed_attempts = 0, last_failed_at = NULL WHERE email = $1`, email)
}

func (r *PostgresRepository) UpdateRole(ctx context.Context, email string, role models.Role) error {
	return r.exec(ctx, `UPDATE accounts SET role = $2 WHERE email = $1`, email, string(role))
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, email string, passwordHash string) error {
	return r.exec(ctx, `UPDATE accounts SET password_hash = $2 WHERE email = $1`, email, passwordHash)
}

func (r *PostgresRepository) UpdateName(ctx context.Context, email string, name string) error {
	return r.exec(ctx, `UPDATE accounts SET name = $2 WHERE email = $1`, email, name)
}

func (r *PostgresRepository) Delete(ctx context.Context, email string) error {
	return r.exec(ctx, `DELETE FROM accounts WHERE email = $1`, email)
}
