// Package guard is the access guard in front of every protected operation:
// a session integrity check, a per-operation role check and a transactional
// wrapper for mutations. The same Guard backs the HTTP middleware and the
// gRPC interceptors.
package guard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/dbx"
	"github.com/dmitrijs2005/clinicguard/internal/logging"
	"github.com/dmitrijs2005/clinicguard/internal/server/audit"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/repomanager"
)

// Reason is a machine-readable denial code.
type Reason string

const (
	ReasonUnauthenticated    Reason = "unauthenticated"
	ReasonForbidden          Reason = "forbidden"
	ReasonLocked             Reason = "locked"
	ReasonTransactionError   Reason = "transaction-error"
	ReasonInvalidCredentials Reason = "invalid-credentials"
	ReasonValidation         Reason = "validation"
	ReasonRateLimited        Reason = "rate-limited"
)

// Decision is the outcome of a check. Reason is empty when Allowed.
type Decision struct {
	Allowed bool
	Reason  Reason
}

func Allow() Decision        { return Decision{Allowed: true} }
func Deny(r Reason) Decision { return Decision{Reason: r} }

// Err converts a denial into an *Error, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &Error{Reason: d.Reason}
}

// Error carries a denial through error returns. Its text is the reason code
// only, so it is safe to show to callers.
type Error struct {
	Reason Reason
}

func (e *Error) Error() string { return string(e.Reason) }

// ErrTransaction is what callers see when a guarded transaction fails.
var ErrTransaction = &Error{Reason: ReasonTransactionError}

// ReasonOf extracts the denial reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason, true
	}
	return "", false
}

// SessionResolver turns an access token into a principal.
type SessionResolver interface {
	ParseSession(ctx context.Context, token string) (*models.Principal, error)
}

// tokenRejected reports whether a resolver error means the token itself is
// unusable, as opposed to the session store failing.
func tokenRejected(err error) bool {
	return errors.Is(err, common.ErrInvalidToken) ||
		errors.Is(err, common.ErrTokenExpired) ||
		errors.Is(err, common.ErrSessionRevoked)
}

type Guard struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	security    audit.Sink
	log         logging.Logger
	passthrough []error
}

type Option func(*Guard)

// WithPassthrough adds errors that Transactional returns to the caller as-is
// (after rollback) instead of masking them as ErrTransaction.
func WithPassthrough(errs ...error) Option {
	return func(g *Guard) { g.passthrough = append(g.passthrough, errs...) }
}

func New(db *sql.DB, rm repomanager.RepositoryManager, security audit.Sink, log logging.Logger, opts ...Option) *Guard {
	g := &Guard{
		db:          db,
		repomanager: rm,
		security:    security,
		log:         log.With("module", "guard"),
		passthrough: []error{
			common.ErrValidation,
			common.ErrorNotFound,
			common.ErrAlreadyExists,
			common.ErrorForbidden,
		},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// CheckSession re-reads the principal's account. A locked or deleted account
// terminates the session and yields ReasonLocked. On success the principal
// is refreshed from the stored account, so role changes apply immediately.
// A nil principal is allowed; the role check decides about anonymous callers.
func (g *Guard) CheckSession(ctx context.Context, p *models.Principal) (Decision, error) {
	if p == nil {
		return Allow(), nil
	}

	account, err := g.repomanager.Accounts(g.db).GetByID(ctx, p.AccountID)
	if err != nil && !errors.Is(err, common.ErrorNotFound) {
		return Decision{}, fmt.Errorf("session check: %w", err)
	}

	if account == nil || account.IsLocked {
		if err := g.repomanager.Sessions(g.db).Delete(ctx, p.SessionID); err != nil {
			g.log.Error(ctx, "could not terminate session", "session", p.SessionID, "error", err)
		}
		who := p.AccountID
		if account != nil {
			who = account.Email
		}
		g.security.Log(ctx, fmt.Sprintf("Session terminated: account %s is locked or removed", who), models.LevelWarning)
		return Deny(ReasonLocked), nil
	}

	p.Email = account.Email
	p.Name = account.Name
	p.Role = account.Role
	return Allow(), nil
}

// Authorize allows p iff it is present and its role is in required.
// Forbidden attempts are logged with the path, identity, role and required set.
func (g *Guard) Authorize(ctx context.Context, p *models.Principal, path string, required models.RoleSet) Decision {
	if p == nil {
		return Deny(ReasonUnauthenticated)
	}
	if !required.Contains(p.Role) {
		g.security.Log(ctx, fmt.Sprintf(
			"Unauthorized access attempt to %s by %s (role: %s). Required: %s",
			path, p.Email, p.Role.DisplayName(), required,
		), models.LevelWarning)
		return Deny(ReasonForbidden)
	}
	return Allow()
}

// Transactional runs fn in one transaction: commit on success, rollback on
// error or panic. Unexpected failures are logged at level 3 and reported as
// ErrTransaction; passthrough errors are returned unchanged. Nothing is retried.
func (g *Guard) Transactional(ctx context.Context, op string, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return g.TransactionalWith(ctx, op, nil, fn)
}

// TransactionalWith is Transactional with explicit transaction options.
func (g *Guard) TransactionalWith(ctx context.Context, op string, opts *sql.TxOptions, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = g.txFailed(ctx, op, fmt.Errorf("panic: %v", r))
		}
	}()

	err = dbx.WithTx(ctx, g.db, opts, fn)
	if err == nil {
		return nil
	}
	if g.isPassthrough(err) {
		return err
	}
	return g.txFailed(ctx, op, err)
}

func (g *Guard) txFailed(ctx context.Context, op string, err error) error {
	g.log.Error(ctx, "transaction failed", "op", op, "error", err)
	g.security.Log(ctx, fmt.Sprintf("DB Transaction Error during %s", op), models.LevelError)
	return ErrTransaction
}

func (g *Guard) isPassthrough(err error) bool {
	if _, ok := ReasonOf(err); ok {
		return true
	}
	for _, p := range g.passthrough {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}
