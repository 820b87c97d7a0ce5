package auditlogs

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

var columns = []string{"id", "channel", "level", "message", "client_ip", "client_os", "user_name", "user_role", "created_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

func TestInsert(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	e := &models.AuditEntry{
		ID: "l-1", Channel: models.ChannelSecurity, Level: 2, Message: "Forbidden",
		ClientIP: "10.0.0.1", ClientOS: "Linux", UserName: "Jane", UserRole: "Clinician-Read", CreatedAt: at,
	}
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+audit_logs\s*\(id,\s*channel,\s*level,.*created_at\)\s*VALUES\s*\(\$1,.*\$9\)$`).
		WithArgs("l-1", "security", 2, "Forbidden", "10.0.0.1", "Linux", "Jane", "Clinician-Read", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), e))
}

func TestInsert_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`INSERT\s+INTO\s+audit_logs`).WillReturnError(errors.New("boom"))
	require.Error(t, repo.Insert(context.Background(), &models.AuditEntry{}))
}

func TestList(t *testing.T) {
	level := 3

	tests := []struct {
		name   string
		filter models.AuditFilter
		query  string
		args   []driver.Value
	}{
		{
			name:   "no filter uses default limit",
			filter: models.AuditFilter{},
			query:  `(?s)FROM\s+audit_logs\s+ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+\$1$`,
			args:   []driver.Value{DefaultLimit},
		},
		{
			name:   "channel only",
			filter: models.AuditFilter{Channel: models.ChannelActivity, Limit: 10},
			query:  `(?s)FROM\s+audit_logs\s+WHERE\s+channel\s*=\s*\$1\s+ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+\$2$`,
			args:   []driver.Value{"activity", 10},
		},
		{
			name:   "channel and level",
			filter: models.AuditFilter{Channel: models.ChannelSecurity, Level: &level, Limit: MaxLimit + 1},
			query:  `(?s)WHERE\s+channel\s*=\s*\$1\s+AND\s+level\s*=\s*\$2\s+ORDER\s+BY\s+created_at\s+DESC\s+LIMIT\s+\$3$`,
			args:   []driver.Value{"security", 3, MaxLimit},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newRepoWithMock(t)
			rows := sqlmock.NewRows(columns).
				AddRow("l-2", "security", 3, "Transaction failed", "10.0.0.1", "Windows", "Ann", "Administrator", at.Add(time.Minute)).
				AddRow("l-1", "security", 3, "Transaction failed", "10.0.0.2", "Linux", "Bob", "Administrator", at)

			mock.ExpectQuery(tt.query).WithArgs(tt.args...).WillReturnRows(rows)

			got, err := repo.List(context.Background(), tt.filter)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "l-2", got[0].ID)
			assert.Equal(t, models.ChannelSecurity, got[0].Channel)
		})
	}
}

func TestList_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectQuery(`FROM\s+audit_logs`).WillReturnError(errors.New("boom"))

	_, err := repo.List(context.Background(), models.AuditFilter{})
	require.Error(t, err)
}
