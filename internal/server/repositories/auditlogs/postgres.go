package auditlogs

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/clinicguard/internal/dbx"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
)

// DefaultLimit applies when the filter leaves Limit unset; MaxLimit caps
// any explicit limit.
const (
	DefaultLimit = 200
	MaxLimit     = 10000
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, e *models.AuditEntry) error {
	query :=
		`INSERT INTO audit_logs (id, channel, level, message, client_ip, client_os, user_name, user_role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		e.ID, string(e.Channel), e.Level, e.Message, e.ClientIP, e.ClientOS, e.UserName, e.UserRole, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, f models.AuditFilter) ([]*models.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.Channel != "" {
		args = append(args, string(f.Channel))
		where = append(where, fmt.Sprintf("channel = $%d", len(args)))
	}
	if f.Level != nil {
		args = append(args, *f.Level)
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}

	limit := f.Limit
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	args = append(args, limit)

	query := `SELECT id, channel, level, message, client_ip, client_os, user_name, user_role, created_at FROM audit_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	out := make([]*models.AuditEntry, 0)
	for rows.Next() {
		var (
			e       models.AuditEntry
			channel string
		)
		if err := rows.Scan(&e.ID, &channel, &e.Level, &e.Message, &e.ClientIP, &e.ClientOS,
			&e.UserName, &e.UserRole, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		e.Channel = models.AuditChannel(channel)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
