package lockout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/clinicguard/internal/server/audit/audittest"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/clinicguard/internal/server/repositories/memrepo"
)

const email = "nurse@clinic.test"

type clock struct{ t time.Time }

func newClock() *clock                   { return &clock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)} }
func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func plainVerify(hash, pw string) (bool, error) { return hash == "hash:"+pw, nil }

func setup(t *testing.T, opts ...Option) (*Machine, *memrepo.Store, *audittest.Recorder, *clock) {
	t.Helper()
	store := memrepo.New()
	store.PutAccount(&models.Account{Email: email, Name: "Nina Nurse", PasswordHash: "hash:Correct#1", Role: models.RoleClinicianRead})
	rec := &audittest.Recorder{}
	clk := newClock()
	opts = append([]Option{WithClock(clk.Now), WithDummyHash("hash:dummy")}, opts...)
	return New(store.Accounts(nil), rec, opts...), store, rec, clk
}

func TestAuthenticate_WrongPasswordBelowThreshold(t *testing.T) {
	m, store, _, _ := setup(t)
	ctx := context.Background()

	for i := 0; i < DefaultThreshold-1; i++ {
		_, err := m.Authenticate(ctx, email, "wrong", plainVerify)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	a := store.Account(email)
	assert.Equal(t, DefaultThreshold-1, a.FailedAttempts)
	assert.False(t, a.IsLocked)
	assert.NotNil(t, a.LastFailedAt)
}

func TestAuthenticate_ThresholdAttemptReturnsLocked(t *testing.T) {
	m, store, rec, clk := setup(t)
	ctx := context.Background()

	for i := 0; i < DefaultThreshold-1; i++ {
		_, _ = m.Authenticate(ctx, email, "wrong", plainVerify)
	}
	_, err := m.Authenticate(ctx, email, "wrong", plainVerify)
	require.ErrorIs(t, err, ErrAccountLocked)

	a := store.Account(email)
	assert.True(t, a.IsLocked)
	require.NotNil(t, a.LockedAt)
	assert.Equal(t, clk.Now(), *a.LockedAt)

	e, ok := rec.Find("Account locked due to 5 failed login attempts")
	require.True(t, ok)
	assert.Equal(t, models.LevelError, e.Level)
}

func TestAuthenticate_LockedRejectsEvenCorrectPassword(t *testing.T) {
	m, store, _, clk := setup(t)
	ctx := context.Background()
	for i := 0; i < DefaultThreshold; i++ {
		_, _ = m.Authenticate(ctx, email, "wrong", plainVerify)
	}

	clk.Advance(DefaultPeriod - time.Second)
	verified := false
	_, err := m.Authenticate(ctx, email, "Correct#1", func(h, p string) (bool, error) {
		verified = true
		return plainVerify(h, p)
	})
	require.ErrorIs(t, err, ErrAccountLocked)
	assert.False(t, verified, "password must not be evaluated while locked")
	assert.Equal(t, DefaultThreshold, store.Account(email).FailedAttempts)
}

func TestAuthenticate_AutoUnlockThenEvaluate(t *testing.T) {
	m, store, rec, clk := setup(t)
	ctx := context.Background()
	for i := 0; i < DefaultThreshold; i++ {
		_, _ = m.Authenticate(ctx, email, "wrong", plainVerify)
	}

	clk.Advance(DefaultPeriod)
	acct, err := m.Authenticate(ctx, email, "Correct#1", plainVerify)
	require.NoError(t, err)
	assert.Equal(t, email, acct.Email)

	a := store.Account(email)
	assert.False(t, a.IsLocked)
	assert.Nil(t, a.LockedAt)
	assert.Zero(t, a.FailedAttempts)
	_, ok := rec.Find("automatically unlocked")
	assert.True(t, ok)
}

func TestAuthenticate_AutoUnlockThenWrongPasswordCountsFromOne(t *testing.T) {
	m, store, _, clk := setup(t)
	ctx := context.Background()
	for i := 0; i < DefaultThreshold; i++ {
		_, _ = m.Authenticate(ctx, email, "wrong", plainVerify)
	}

	clk.Advance(DefaultPeriod + time.Minute)
	_, err := m.Authenticate(ctx, email, "wrong", plainVerify)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, 1, store.Account(email).FailedAttempts)
}

func TestAuthenticate_SuccessResetsCounter(t *testing.T) {
	m, store, _, _ := setup(t)
	ctx := context.Background()
	_, _ = m.Authenticate(ctx, email, "wrong", plainVerify)
	_, _ = m.Authenticate(ctx, email, "wrong", plainVerify)

	_, err := m.Authenticate(ctx, email, "Correct#1", plainVerify)
	require.NoError(t, err)

	a := store.Account(email)
	assert.Zero(t, a.FailedAttempts)
	assert.Nil(t, a.LastFailedAt)
}

func TestAuthenticate_UnknownAccountIsIndistinguishable(t *testing.T) {
	m, _, rec, _ := setup(t)
	var checked string
	_, err := m.Authenticate(context.Background(), "ghost@clinic.test", "whatever", func(h, p string) (bool, error) {
		checked = h
		return false, nil
	})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "hash:dummy", checked)
	assert.Equal(t, []int{models.LevelWarning}, rec.Levels())
}

func TestAuthenticate_NormalizesEmail(t *testing.T) {
	m, _, _, _ := setup(t)
	acct, err := m.Authenticate(context.Background(), "  NURSE@Clinic.Test ", "Correct#1", plainVerify)
	require.NoError(t, err)
	assert.Equal(t, email, acct.Email)
}

func TestAuthenticate_VerifierError(t *testing.T) {
	m, store, _, _ := setup(t)
	_, err := m.Authenticate(context.Background(), email, "x", func(string, string) (bool, error) {
		return false, errors.New("bad hash")
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
	assert.Zero(t, store.Account(email).FailedAttempts)
}

func TestAuthenticate_CustomThreshold(t *testing.T) {
	m, _, _, _ := setup(t, WithThreshold(2))
	ctx := context.Background()
	_, err := m.Authenticate(ctx, email, "wrong", plainVerify)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = m.Authenticate(ctx, email, "wrong", plainVerify)
	require.ErrorIs(t, err, ErrAccountLocked)
}

func TestLock_IsIdempotentAndKeepsOriginalTime(t *testing.T) {
	m, store, _, clk := setup(t)
	ctx := context.Background()

	require.NoError(t, m.Lock(ctx, email))
	first := *store.Account(email).LockedAt

	clk.Advance(time.Minute)
	require.NoError(t, m.Lock(ctx, email))
	a := store.Account(email)
	assert.True(t, a.IsLocked)
	assert.Equal(t, first, *a.LockedAt)
}

func TestUnlock_ResetsCounterAndIsIdempotent(t *testing.T) {
	m, store, _, _ := setup(t)
	ctx := context.Background()
	_, _ = m.Authenticate(ctx, email, "wrong", plainVerify)
	require.NoError(t, m.Lock(ctx, email))

	require.NoError(t, m.Unlock(ctx, email))
	require.NoError(t, m.Unlock(ctx, email))

	a := store.Account(email)
	assert.False(t, a.IsLocked)
	assert.Zero(t, a.FailedAttempts)
}

func TestIsLocked_NotLocked(t *testing.T) {
	m, _, _, clk := setup(t)
	locked, err := m.IsLocked(context.Background(), &models.Account{Email: email}, clk.Now())
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestIsLocked_ConcurrentUnlockReloads(t *testing.T) {
	m, store, _, clk := setup(t)
	ctx := context.Background()
	lockedAt := clk.Now().Add(-2 * DefaultPeriod)

	// stale in-memory view: the row was already unlocked by another request
	stale := &models.Account{Email: email, IsLocked: true, LockedAt: &lockedAt}
	locked, err := m.IsLocked(ctx, stale, clk.Now())
	require.NoError(t, err)
	assert.False(t, locked)
	assert.False(t, stale.IsLocked)
	assert.False(t, store.Account(email).IsLocked)
}

type flakyStore struct {
	accounts.Repository
	resetErrs []error
	resets    int
}

func (f *flakyStore) ResetFailures(ctx context.Context, email string) error {
	f.resets++
	if len(f.resetErrs) > 0 {
		err := f.resetErrs[0]
		f.resetErrs = f.resetErrs[1:]
		return err
	}
	return f.Repository.ResetFailures(ctx, email)
}

func TestRecordSuccess_RetriesOnce(t *testing.T) {
	mem := memrepo.New()
	mem.PutAccount(&models.Account{Email: email, FailedAttempts: 3})
	fs := &flakyStore{Repository: mem.Accounts(nil), resetErrs: []error{errors.New("conn reset")}}
	rec := &audittest.Recorder{}
	m := New(fs, rec)

	acct := mem.Account(email)
	m.RecordSuccess(context.Background(), acct)

	assert.Equal(t, 2, fs.resets)
	assert.Zero(t, acct.FailedAttempts)
	assert.Zero(t, mem.Account(email).FailedAttempts)
	assert.Empty(t, rec.Entries())
}

func TestRecordSuccess_GivesUpAfterRetryAndLogs(t *testing.T) {
	mem := memrepo.New()
	mem.PutAccount(&models.Account{Email: email, FailedAttempts: 3})
	boom := errors.New("db down")
	fs := &flakyStore{Repository: mem.Accounts(nil), resetErrs: []error{boom, boom, boom}}
	rec := &audittest.Recorder{}
	m := New(fs, rec)

	acct := mem.Account(email)
	m.RecordSuccess(context.Background(), acct)

	assert.Equal(t, 2, fs.resets)
	assert.Equal(t, 3, acct.FailedAttempts)
	assert.Equal(t, []int{models.LevelError}, rec.Levels())
}

func TestRecordSuccess_CleanAccountSkipsWrite(t *testing.T) {
	mem := memrepo.New()
	mem.PutAccount(&models.Account{Email: email})
	fs := &flakyStore{Repository: mem.Accounts(nil)}
	m := New(fs, &audittest.Recorder{})

	m.RecordSuccess(context.Background(), mem.Account(email))
	assert.Zero(t, fs.resets)
}

func TestRecordFailure_StoreError(t *testing.T) {
	mem := memrepo.New()
	mem.PutAccount(&models.Account{Email: email})
	mem.Err = errors.New("db down")
	m := New(mem.Accounts(nil), &audittest.Recorder{})

	err := m.RecordFailure(context.Background(), &models.Account{Email: email})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAccountLocked)
}
