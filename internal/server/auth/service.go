// Package auth implements account registration, login and server-side
// sessions. Login attempts are decided by the lockout machine; the access
// token only names a session row, which must still exist to be honoured.
package auth

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hengadev/errsx"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/dbx"
	"github.com/dmitrijs2005/clinicguard/internal/logging"
	"github.com/dmitrijs2005/clinicguard/internal/server/audit"
	"github.com/dmitrijs2005/clinicguard/internal/server/config"
	"github.com/dmitrijs2005/clinicguard/internal/server/guard"
	"github.com/dmitrijs2005/clinicguard/internal/server/lockout"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/repomanager"
)

// RegisterInput is a self-registration request.
type RegisterInput struct {
	Name       string
	Email      string
	Password   string
	Role       string
	InviteCode string
}

// LoginResult is handed back to a successful caller.
type LoginResult struct {
	AccessToken string
	ExpiresAt   time.Time
	Account     models.AccountSummary
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	guard       *guard.Guard
	machine     *lockout.Machine
	security    audit.Sink
	log         logging.Logger
	jwtSecret   []byte
	sessionTTL  time.Duration
	inviteCode  string
	now         func() time.Time
	hash        func(string) string
	verify      lockout.PasswordVerifier
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithHasher replaces the argon2id hash and verify functions.
func WithHasher(hash func(string) string, verify lockout.PasswordVerifier) Option {
	return func(s *Service) {
		s.hash = hash
		s.verify = verify
	}
}

func NewService(db *sql.DB, m repomanager.RepositoryManager, g *guard.Guard, machine *lockout.Machine, security audit.Sink, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		db:          db,
		repomanager: m,
		guard:       g,
		machine:     machine,
		security:    security,
		log:         logging.Nop(),
		jwtSecret:   []byte(cfg.SecretKey),
		sessionTTL:  cfg.SessionTTL,
		inviteCode:  cfg.AdminInviteCode,
		now:         time.Now,
		hash:        HashPassword,
		verify:      VerifyPassword,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("module", "auth")
	return s
}

// Register creates an account. Administrators need the configured invite
// code; with none configured only the first administrator may register.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.AccountSummary, error) {
	email := models.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)

	var errs errsx.Map
	setIf(&errs, "name", ValidateName(name))
	setIf(&errs, "email", ValidateEmail(email))
	setIf(&errs, "password", CheckPassword(in.Password))
	role, err := models.ParseRole(in.Role)
	if err != nil {
		errs.Set("role", "Please choose a valid role")
	}
	if err := common.AsValidationError(errs); err != nil {
		return nil, err
	}

	var created *models.Account
	opts := &sql.TxOptions{Isolation: sql.LevelSerializable}
	err = s.guard.TransactionalWith(ctx, "registration", opts, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)

		if role == models.RoleAdmin {
			if err := s.checkAdminRegistration(ctx, repo.CountByRole, email, in.InviteCode); err != nil {
				return err
			}
		}

		var err error
		created, err = repo.Create(ctx, &models.Account{
			Email:        email,
			Name:         name,
			PasswordHash: s.hash(in.Password),
			Role:         role,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.security.Log(ctx, fmt.Sprintf("Registered new user '%s' (%s) with role '%s'.", audit.MaskName(created.Name), created.Email, created.Role.DisplayName()), models.LevelInfo)
	sum := created.Summary()
	return &sum, nil
}

func (s *Service) checkAdminRegistration(ctx context.Context, count func(context.Context, models.Role) (int, error), email, provided string) error {
	if s.inviteCode != "" {
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(provided)), []byte(s.inviteCode)) != 1 {
			s.security.Log(ctx, fmt.Sprintf("Unauthorized Admin registration attempt for email '%s'.", email), models.LevelCritical)
			return common.ErrorForbidden
		}
		return nil
	}

	n, err := count(ctx, models.RoleAdmin)
	if err != nil {
		return err
	}
	if n > 0 {
		s.security.Log(ctx, fmt.Sprintf("Attempt to create second Admin by email '%s'.", email), models.LevelCritical)
		return common.ErrorForbidden
	}
	return nil
}

// Login authenticates through the lockout machine and opens a session.
// It returns lockout.ErrInvalidCredentials or lockout.ErrAccountLocked on
// rejection.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	account, err := s.machine.Authenticate(ctx, email, password, s.verify)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &models.Session{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.guard.Transactional(ctx, "login", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Sessions(tx).Create(ctx, session)
	}); err != nil {
		return nil, err
	}

	token, err := GenerateToken(session.ID, account.ID, account.Role, s.jwtSecret, session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	s.security.Log(ctx, fmt.Sprintf("Login successful for user '%s'.", account.Email), models.LevelInfo)
	return &LoginResult{
		AccessToken: token,
		ExpiresAt:   session.ExpiresAt,
		Account:     account.Summary(),
	}, nil
}

// Logout deletes the principal's session row.
func (s *Service) Logout(ctx context.Context, p *models.Principal) error {
	if p == nil {
		return common.ErrorUnauthorized
	}
	if err := s.guard.Transactional(ctx, "logout", func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Sessions(tx).Delete(ctx, p.SessionID)
	}); err != nil {
		return err
	}
	s.security.Log(ctx, fmt.Sprintf("User '%s' logged out.", p.Email), models.LevelInfo)
	return nil
}

// ParseSession resolves an access token to a principal. The session row
// must exist and be unexpired. The principal's name and email are filled in
// later by the guard's account re-read.
func (s *Service) ParseSession(ctx context.Context, token string) (*models.Principal, error) {
	claims, err := ParseToken(token, s.jwtSecret, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.Sessions(s.db)
	session, err := repo.Get(ctx, claims.SessionID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrSessionRevoked
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.AccountID != claims.Subject {
		return nil, common.ErrInvalidToken
	}
	if !session.ExpiresAt.After(s.now()) {
		if err := repo.Delete(ctx, session.ID); err != nil {
			s.log.Warn(ctx, "could not delete expired session", "session", session.ID, "error", err)
		}
		return nil, common.ErrTokenExpired
	}

	return &models.Principal{
		SessionID: session.ID,
		AccountID: session.AccountID,
		Role:      claims.Role,
	}, nil
}

// PurgeExpiredSessions removes session rows past their expiry.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.repomanager.Sessions(s.db).DeleteExpired(ctx, s.now().UTC())
}

// UpdateProfile changes the caller's own display name.
func (s *Service) UpdateProfile(ctx context.Context, p *models.Principal, name string) (*models.AccountSummary, error) {
	if p == nil {
		return nil, common.ErrorUnauthorized
	}
	name = strings.TrimSpace(name)
	var errs errsx.Map
	setIf(&errs, "name", ValidateName(name))
	if err := common.AsValidationError(errs); err != nil {
		return nil, err
	}

	var updated *models.Account
	err := s.guard.Transactional(ctx, "profile update", func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)
		account, err := repo.GetByID(ctx, p.AccountID)
		if err != nil {
			return err
		}
		if err := repo.UpdateName(ctx, account.Email, name); err != nil {
			return err
		}
		account.Name = name
		updated = account
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.security.Log(ctx, fmt.Sprintf("Profile updated for user '%s'.", updated.Email), models.LevelInfo)
	sum := updated.Summary()
	return &sum, nil
}

// ChangePassword replaces the caller's own password after checking the
// current one.
func (s *Service) ChangePassword(ctx context.Context, p *models.Principal, current, next string) error {
	if p == nil {
		return common.ErrorUnauthorized
	}

	var email string
	err := s.guard.Transactional(ctx, "password change", func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Accounts(tx)
		account, err := repo.GetByID(ctx, p.AccountID)
		if err != nil {
			return err
		}

		ok, err := s.verify(account.PasswordHash, current)
		if err != nil {
			return fmt.Errorf("verify password: %w", err)
		}
		if !ok {
			s.security.Log(ctx, fmt.Sprintf("Password change rejected for '%s': current password incorrect.", account.Email), models.LevelWarning)
			return common.NewValidationError("current_password", "Current password is incorrect.")
		}

		var errs errsx.Map
		setIf(&errs, "new_password", CheckPassword(next))
		if next == current {
			errs.Set("new_password", "New password must differ from the current one.")
		}
		if err := common.AsValidationError(errs); err != nil {
			return err
		}

		email = account.Email
		return repo.UpdatePassword(ctx, account.Email, s.hash(next))
	})
	if err != nil {
		return err
	}
	s.security.Log(ctx, fmt.Sprintf("Password changed for user '%s'.", email), models.LevelInfo)
	return nil
}
