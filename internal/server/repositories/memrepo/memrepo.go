// Package memrepo is an in-memory RepositoryManager for service tests. It
// mirrors the Postgres repositories' observable semantics, including the
// single-statement lockout transitions, but ignores the DBTX it is handed.
package memrepo

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/dbx"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/patients"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/sessions"
)

// Store holds every table. Err, when set, is returned by every call.
type Store struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
	sessions map[string]*models.Session
	patients map[string]*models.PatientRow
	audit    []*models.AuditEntry

	Err error
}

func New() *Store {
	return &Store{
		accounts: map[string]*models.Account{},
		sessions: map[string]*models.Session{},
		patients: map[string]*models.PatientRow{},
	}
}

func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }
func (s *Store) Accounts(dbx.DBTX) accounts.Repository        { return (*accountRepo)(s) }
func (s *Store) Sessions(dbx.DBTX) sessions.Repository        { return (*sessionRepo)(s) }
func (s *Store) Patients(dbx.DBTX) patients.Repository        { return (*patientRepo)(s) }
func (s *Store) AuditLogs(dbx.DBTX) auditlogs.Repository      { return (*auditRepo)(s) }

// PutAccount inserts or replaces an account as-is.
func (s *Store) PutAccount(a *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.accounts[c.Email] = &c
}

// Account returns a copy of the stored account, or nil.
func (s *Store) Account(email string) *models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return nil
	}
	c := *a
	return &c
}

func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) PatientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patients)
}

// Patient returns a copy of the stored row, or nil.
func (s *Store) Patient(id string) *models.PatientRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil
	}
	c := *p
	return &c
}

type accountRepo Store

func (r *accountRepo) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if _, ok := s.accounts[a.Email]; ok {
		return nil, common.ErrAlreadyExists
	}
	c := *a
	c.ID = uuid.NewString()
	c.CreatedAt = time.Now().UTC()
	s.accounts[c.Email] = &c
	out := c
	return &out, nil
}

func (r *accountRepo) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	a, ok := s.accounts[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *a
	return &c, nil
}

func (r *accountRepo) GetByID(_ context.Context, id string) (*models.Account, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	for _, a := range s.accounts {
		if a.ID == id {
			c := *a
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *accountRepo) List(context.Context) ([]*models.Account, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (r *accountRepo) CountByRole(_ context.Context, role models.Role) (int, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	n := 0
	for _, a := range s.accounts {
		if a.Role == role {
			n++
		}
	}
	return n, nil
}

func (r *accountRepo) mutate(email string, fn func(a *models.Account)) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	a, ok := s.accounts[email]
	if !ok {
		return common.ErrorNotFound
	}
	fn(a)
	return nil
}

func (r *accountRepo) RecordFailure(_ context.Context, email string, now time.Time, threshold int) (*models.Account, error) {
	var out models.Account
	err := r.mutate(email, func(a *models.Account) {
		a.FailedAttempts++
		t := now
		a.LastFailedAt = &t
		if !a.IsLocked && a.FailedAttempts >= threshold {
			a.IsLocked = true
			l := now
			a.LockedAt = &l
		}
		out = *a
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *accountRepo) ResetFailures(_ context.Context, email string) error {
	return r.mutate(email, func(a *models.Account) {
		a.FailedAttempts = 0
		a.LastFailedAt = nil
	})
}

func (r *accountRepo) UnlockIfExpired(_ context.Context, email string, lockedBefore time.Time) (bool, error) {
	unlocked := false
	err := r.mutate(email, func(a *models.Account) {
		if a.IsLocked && a.LockedAt != nil && !a.LockedAt.After(lockedBefore) {
			clearLock(a)
			unlocked = true
		}
	})
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	return unlocked, err
}

func (r *accountRepo) Lock(_ context.Context, email string, now time.Time) error {
	return r.mutate(email, func(a *models.Account) {
		if !a.IsLocked {
			a.IsLocked = true
			t := now
			a.LockedAt = &t
		}
	})
}

func (r *accountRepo) Unlock(_ context.Context, email string) error {
	return r.mutate(email, clearLock)
}

func (r *accountRepo) UpdateRole(_ context.Context, email string, role models.Role) error {
	return r.mutate(email, func(a *models.Account) { a.Role = role })
}

func (r *accountRepo) UpdatePassword(_ context.Context, email string, hash string) error {
	return r.mutate(email, func(a *models.Account) { a.PasswordHash = hash })
}

func (r *accountRepo) UpdateName(_ context.Context, email string, name string) error {
	return r.mutate(email, func(a *models.Account) { a.Name = name })
}

func (r *accountRepo) Delete(_ context.Context, email string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	a, ok := s.accounts[email]
	if !ok {
		return common.ErrorNotFound
	}
	delete(s.accounts, email)
	for id, sess := range s.sessions {
		if sess.AccountID == a.ID {
			delete(s.sessions, id)
		}
	}
	return nil
}

func clearLock(a *models.Account) {
	a.IsLocked = false
	a.LockedAt = nil
	a.FailedAttempts = 0
	a.LastFailedAt = nil
}

type sessionRepo Store

func (r *sessionRepo) Create(_ context.Context, sess *models.Session) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	sess.CreatedAt = time.Now().UTC()
	c := *sess
	s.sessions[c.ID] = &c
	return nil
}

func (r *sessionRepo) Get(_ context.Context, id string) (*models.Session, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *sess
	return &c, nil
}

func (r *sessionRepo) Delete(_ context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	delete(s.sessions, id)
	return nil
}

func (r *sessionRepo) DeleteByAccount(_ context.Context, accountID string) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for id, sess := range s.sessions {
		if sess.AccountID == accountID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *sessionRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	var n int64
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

type patientRepo Store

func (r *patientRepo) Insert(_ context.Context, row *models.PatientRow) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.patients[row.PatientID]; ok {
		return common.ErrAlreadyExists
	}
	c := *row
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.patients[c.PatientID] = &c
	return nil
}

func (r *patientRepo) Update(_ context.Context, row *models.PatientRow) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	old, ok := s.patients[row.PatientID]
	if !ok {
		return common.ErrorNotFound
	}
	c := *row
	c.CreatedBy = old.CreatedBy
	c.CreatedAt = old.CreatedAt
	s.patients[c.PatientID] = &c
	return nil
}

func (r *patientRepo) Get(_ context.Context, id string) (*models.PatientRow, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	p, ok := s.patients[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *p
	return &c, nil
}

func (r *patientRepo) Exists(_ context.Context, id string) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	_, ok := s.patients[id]
	return ok, nil
}

func (r *patientRepo) List(_ context.Context, limit, offset int) ([]*models.PatientRow, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	all := make([]*models.PatientRow, 0, len(s.patients))
	for _, p := range s.patients {
		c := *p
		all = append(all, &c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PatientID < all[j].PatientID })
	if offset >= len(all) {
		return []*models.PatientRow{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *patientRepo) SearchByName(_ context.Context, prefix string, limit, offset int) ([]models.PatientMatch, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	prefix = strings.ToLower(prefix)
	all := make([]models.PatientMatch, 0)
	for _, p := range s.patients {
		if strings.HasPrefix(strings.ToLower(p.Name), prefix) {
			all = append(all, models.PatientMatch{PatientID: p.PatientID, Name: p.Name})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PatientID < all[j].PatientID })
	if offset >= len(all) {
		return []models.PatientMatch{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *patientRepo) Delete(_ context.Context, id string) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.patients[id]; !ok {
		return common.ErrorNotFound
	}
	delete(s.patients, id)
	return nil
}

type auditRepo Store

func (r *auditRepo) Insert(_ context.Context, e *models.AuditEntry) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c := *e
	s.audit = append(s.audit, &c)
	return nil
}

func (r *auditRepo) List(_ context.Context, f models.AuditFilter) ([]*models.AuditEntry, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*models.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		e := s.audit[i]
		if f.Channel != "" && e.Channel != f.Channel {
			continue
		}
		if f.Level != nil && e.Level != *f.Level {
			continue
		}
		c := *e
		out = append(out, &c)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
