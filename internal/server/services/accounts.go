// Package services contains server-side business logic. AccountService is the
// administrator's account management; PatientService owns patient records;
// ArchiveService exports audit channels to object storage.
package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/dbx"
	"github.com/dmitrijs2005/clinicguard/internal/server/audit"
	"github.com/dmitrijs2005/clinicguard/internal/server/auth"
	"github.com/dmitrijs2005/clinicguard/internal/server/guard"
	"github.com/dmitrijs2005/clinicguard/internal/server/lockout"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/repomanager"
)

// ResetPasswordLength is the length of administrator-generated passwords.
const ResetPasswordLength = 12

// AccountService performs administrator operations on other accounts.
// Callers are expected to have passed the AdminOnly role check.
type AccountService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	guard       *guard.Guard
	machine     *lockout.Machine
	security    audit.Sink
	hash        func(string) string
}

func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, g *guard.Guard, machine *lockout.Machine, security audit.Sink) *AccountService {
	return &AccountService{
		db:          db,
		repomanager: m,
		guard:       g,
		machine:     machine,
		security:    security,
		hash:        auth.HashPassword,
	}
}

// List returns every account with its lock status.
func (s *AccountService) List(ctx context.Context) ([]models.AccountSummary, error) {
	accounts, err := s.repomanager.Accounts(s.db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]models.AccountSummary, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Summary())
	}
	return out, nil
}

func notSelf(actor *models.Principal, email string) error {
	if actor != nil && strings.EqualFold(actor.Email, email) {
		return common.ErrorForbidden
	}
	return nil
}

func actorName(actor *models.Principal) string {
	if actor == nil {
		return "System"
	}
	return actor.Email
}

// ChangeRole assigns one of the clinician roles. Administrators cannot be
// created this way and nobody can change their own role.
func (s *AccountService) ChangeRole(ctx context.Context, actor *models.Principal, email, role string) error {
	email = models.NormalizeEmail(email)
	if err := notSelf(actor, email); err != nil {
		return err
	}

	r, err := models.ParseRole(role)
	if err != nil || !r.IsClinician() {
		return common.NewValidationError("role", "Invalid role specified.")
	}

	if err := s.guard.Transactional(ctx, "role change", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Accounts(tx).UpdateRole(ctx, email, r)
	}); err != nil {
		return err
	}

	s.security.Log(ctx, fmt.Sprintf("Role of %s changed to %s by %s", email, r.DisplayName(), actorName(actor)), models.LevelWarning)
	return nil
}

// Lock locks another account until an administrator unlocks it or the
// lockout period passes.
func (s *AccountService) Lock(ctx context.Context, actor *models.Principal, email string) error {
	email = models.NormalizeEmail(email)
	if err := notSelf(actor, email); err != nil {
		return err
	}
	return s.guard.Transactional(ctx, "account lock", func(ctx context.Context, tx dbx.DBTX) error {
		return s.machine.LockIn(ctx, s.repomanager.Accounts(tx), email)
	})
}

// Unlock clears the lock and the failed-attempt counter.
func (s *AccountService) Unlock(ctx context.Context, email string) error {
	email = models.NormalizeEmail(email)
	return s.guard.Transactional(ctx, "account unlock", func(ctx context.Context, tx dbx.DBTX) error {
		return s.machine.UnlockIn(ctx, s.repomanager.Accounts(tx), email)
	})
}

// ResetPassword sets a generated password, ends the account's sessions and
// returns the new password so it can be handed over.
func (s *AccountService) ResetPassword(ctx context.Context, actor *models.Principal, email string) (string, error) {
	email = models.NormalizeEmail(email)

	pw, err := auth.GeneratePassword(ResetPasswordLength)
	if err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}

	if err := s.guard.Transactional(ctx, "password reset", func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if err := s.repomanager.Accounts(tx).UpdatePassword(ctx, email, s.hash(pw)); err != nil {
			return err
		}
		_, err = s.repomanager.Sessions(tx).DeleteByAccount(ctx, account.ID)
		return err
	}); err != nil {
		return "", err
	}

	s.security.Log(ctx, fmt.Sprintf("Password reset for %s by %s", email, actorName(actor)), models.LevelWarning)
	return pw, nil
}

// Delete removes an account and all of its sessions in one transaction.
func (s *AccountService) Delete(ctx context.Context, actor *models.Principal, email string) error {
	email = models.NormalizeEmail(email)
	if err := notSelf(actor, email); err != nil {
		return err
	}

	if err := s.guard.Transactional(ctx, "account deletion", func(ctx context.Context, tx dbx.DBTX) error {
		account, err := s.repomanager.Accounts(tx).GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if _, err := s.repomanager.Sessions(tx).DeleteByAccount(ctx, account.ID); err != nil {
			return err
		}
		return s.repomanager.Accounts(tx).Delete(ctx, email)
	}); err != nil {
		return err
	}

	s.security.Log(ctx, fmt.Sprintf("Account %s deleted by %s", email, actorName(actor)), models.LevelWarning)
	return nil
}
