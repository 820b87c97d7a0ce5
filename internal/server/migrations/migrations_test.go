package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Embedded(t *testing.T) {
	names, err := fs.Glob(Migrations, "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"00001_accounts.sql",
		"00002_sessions.sql",
		"00003_patients.sql",
		"00004_audit_logs.sql",
	}, names)

	for _, n := range names {
		b, err := Migrations.ReadFile(n)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(b), "-- +goose Up"), n)
		assert.True(t, strings.Contains(string(b), "-- +goose Down"), n)
	}
}

func TestMigrations_PatientKeyIsPrimary(t *testing.T) {
	b, err := Migrations.ReadFile("00003_patients.sql")
	require.NoError(t, err)
	assert.Contains(t, string(b), "patient_id        CHAR(9) PRIMARY KEY")
}
