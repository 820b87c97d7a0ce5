package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/clinicguard/internal/dbx"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/patients"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/sessions"
)

// RepositoryManager vends repositories bound to a DBTX, so the same code
// path runs against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	Patients(db dbx.DBTX) patients.Repository
	AuditLogs(db dbx.DBTX) auditlogs.Repository
}
