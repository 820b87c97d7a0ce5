// Package lockout is the per-account brute-force state machine.
//
// States are Active and Locked. Failed attempts increment a persisted counter;
// reaching the threshold locks the account. A lock older than the period is
// lifted lazily on the next attempt, before credentials are evaluated.
// There are no timers and no in-process locks: every transition is a single
// UPDATE statement, so the database serializes concurrent attempts.
package lockout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/cryptox"
	"github.com/dmitrijs2005/clinicguard/internal/logging"
	"github.com/dmitrijs2005/clinicguard/internal/retryx"
	"github.com/dmitrijs2005/clinicguard/internal/server/audit"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
)

const (
	DefaultThreshold = 5
	DefaultPeriod    = 900 * time.Second
)

var (
	// ErrAccountLocked is the distinct "you are locked out" outcome.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidCredentials covers both unknown accounts and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Store is the persistence the machine needs; accounts.Repository satisfies it.
type Store interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	RecordFailure(ctx context.Context, email string, now time.Time, threshold int) (*models.Account, error)
	ResetFailures(ctx context.Context, email string) error
	UnlockIfExpired(ctx context.Context, email string, lockedBefore time.Time) (bool, error)
	Lock(ctx context.Context, email string, now time.Time) error
	Unlock(ctx context.Context, email string) error
}

// PasswordVerifier checks password against a stored hash.
type PasswordVerifier func(encodedHash, password string) (bool, error)

type Machine struct {
	store     Store
	sink      audit.Sink
	log       logging.Logger
	now       func() time.Time
	threshold int
	period    time.Duration

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*Machine)

func WithThreshold(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.threshold = n
		}
	}
}

func WithPeriod(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.period = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithLogger(l logging.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithDummyHash sets the hash verified for unknown accounts so that they
// cost the same as a wrong password.
func WithDummyHash(h string) Option {
	return func(m *Machine) { m.dummyHash = h }
}

func New(store Store, sink audit.Sink, opts ...Option) *Machine {
	m := &Machine{
		store:     store,
		sink:      sink,
		log:       logging.Nop(),
		now:       time.Now,
		threshold: DefaultThreshold,
		period:    DefaultPeriod,
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("module", "lockout")
	return m
}

func (m *Machine) Threshold() int        { return m.threshold }
func (m *Machine) Period() time.Duration { return m.period }

// RecordFailure persists one failed attempt before returning. It returns
// ErrAccountLocked when this attempt reached the threshold. The account is
// updated in place with the stored state.
func (m *Machine) RecordFailure(ctx context.Context, account *models.Account) error {
	updated, err := m.store.RecordFailure(ctx, account.Email, m.now().UTC(), m.threshold)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	*account = *updated

	if account.IsLocked {
		m.sink.Log(ctx, fmt.Sprintf("Account locked due to %d failed login attempts: %s", account.FailedAttempts, account.Email), models.LevelError)
		return ErrAccountLocked
	}
	m.sink.Log(ctx, fmt.Sprintf("Failed login attempt %d/%d for %s", account.FailedAttempts, m.threshold, account.Email), models.LevelWarning)
	return nil
}

// RecordSuccess resets the counter. A failed write is retried once and then
// only logged; the login itself is not affected.
func (m *Machine) RecordSuccess(ctx context.Context, account *models.Account) {
	if account.FailedAttempts == 0 && account.LastFailedAt == nil {
		return
	}

	err := retryx.Do(ctx, retryx.Once, func(ctx context.Context, _ int) error {
		return retryx.Retryable(m.store.ResetFailures(ctx, account.Email))
	})
	if err != nil {
		m.log.Error(ctx, "could not reset failed attempts", "email", account.Email, "error", err)
		m.sink.Log(ctx, fmt.Sprintf("Could not reset failed login counter for %s", account.Email), models.LevelError)
		return
	}
	account.FailedAttempts = 0
	account.LastFailedAt = nil
}

// IsLocked reports whether account is locked at now. A lock at least one
// period old is cleared (counter reset) as a side effect.
func (m *Machine) IsLocked(ctx context.Context, account *models.Account, now time.Time) (bool, error) {
	if !account.IsLocked {
		return false, nil
	}
	if account.LockedAt == nil || now.Sub(*account.LockedAt) < m.period {
		return true, nil
	}

	unlocked, err := m.store.UnlockIfExpired(ctx, account.Email, now.Add(-m.period))
	if err != nil {
		return true, fmt.Errorf("auto-unlock: %w", err)
	}
	if !unlocked {
		// state changed underneath us; trust the stored row
		fresh, err := m.store.GetByEmail(ctx, account.Email)
		if err != nil {
			return true, fmt.Errorf("auto-unlock: %w", err)
		}
		*account = *fresh
		return account.IsLocked, nil
	}

	clearLock(account)
	m.sink.Log(ctx, fmt.Sprintf("Account automatically unlocked after lockout period: %s", account.Email), models.LevelInfo)
	return false, nil
}

// Lock is the administrative lock. Locking a locked account keeps its
// original lock time.
func (m *Machine) Lock(ctx context.Context, email string) error {
	return m.LockIn(ctx, m.store, email)
}

// LockIn is Lock against store, typically one bound to a transaction.
func (m *Machine) LockIn(ctx context.Context, store Store, email string) error {
	if err := store.Lock(ctx, email, m.now().UTC()); err != nil {
		return err
	}
	m.sink.Log(ctx, fmt.Sprintf("Account locked by administrator: %s", email), models.LevelWarning)
	return nil
}

// Unlock is the administrative unlock; it always resets the counter.
func (m *Machine) Unlock(ctx context.Context, email string) error {
	return m.UnlockIn(ctx, m.store, email)
}

// UnlockIn is Unlock against store.
func (m *Machine) UnlockIn(ctx context.Context, store Store, email string) error {
	if err := store.Unlock(ctx, email); err != nil {
		return err
	}
	m.sink.Log(ctx, fmt.Sprintf("Account unlocked by administrator: %s", email), models.LevelInfo)
	return nil
}

// Authenticate runs one login attempt through the machine:
//
//  1. unknown account: a dummy hash is verified and ErrInvalidCredentials returned;
//  2. locked and within the period: ErrAccountLocked, the password is not checked;
//  3. lock expired: auto-unlock, then continue;
//  4. wrong password: RecordFailure (ErrAccountLocked if that hit the threshold,
//     ErrInvalidCredentials otherwise);
//  5. correct password: RecordSuccess and the account is returned.
func (m *Machine) Authenticate(ctx context.Context, email, password string, verify PasswordVerifier) (*models.Account, error) {
	email = models.NormalizeEmail(email)

	account, err := m.store.GetByEmail(ctx, email)
	if errors.Is(err, common.ErrorNotFound) {
		_, _ = verify(m.dummy(), password)
		m.sink.Log(ctx, "Failed login attempt for unknown account", models.LevelWarning)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	locked, err := m.IsLocked(ctx, account, m.now().UTC())
	if err != nil {
		return nil, err
	}
	if locked {
		m.sink.Log(ctx, fmt.Sprintf("Login attempt on locked account: %s", email), models.LevelWarning)
		return nil, ErrAccountLocked
	}

	ok, err := verify(account.PasswordHash, password)
	if err != nil {
		m.log.Error(ctx, "stored password hash is unusable", "email", email, "error", err)
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		if err := m.RecordFailure(ctx, account); err != nil {
			return nil, err
		}
		return nil, ErrInvalidCredentials
	}

	m.RecordSuccess(ctx, account)
	return account, nil
}

func (m *Machine) dummy() string {
	m.dummyOnce.Do(func() {
		if m.dummyHash == "" {
			m.dummyHash = cryptox.HashPassword("not-a-real-password", cryptox.DefaultArgon2Params)
		}
	})
	return m.dummyHash
}

func clearLock(a *models.Account) {
	a.IsLocked = false
	a.LockedAt = nil
	a.FailedAttempts = 0
	a.LastFailedAt = nil
}
