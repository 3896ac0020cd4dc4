package account

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kinga-app/kinga/internal/datastore/repository"
	"github.com/kinga-app/kinga/internal/notification"
	"github.com/kinga-app/kinga/internal/observability/metrics"
	"github.com/kinga-app/kinga/internal/testutil"
)

type sentCode struct {
	email   string
	code    string
	purpose notification.Purpose
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentCode
}

func (f *fakeSender) SendOTP(email, code string, purpose notification.Purpose) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCode{email, code, purpose})
}

func (f *fakeSender) last(t *testing.T) sentCode {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no code was sent")
	return f.sent[len(f.sent)-1]
}

type harness struct {
	svc      *Service
	users    repository.UserRepository
	sender   *fakeSender
	recorder *metrics.TestRecorder
	now      time.Time
	codes    int
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		users:    repository.NewUserRepository(testutil.OpenTestDB(t)),
		sender:   &fakeSender{},
		recorder: metrics.NewTestRecorder(),
		now:      time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.MinCost
	}
	if cfg.OTPTTL == 0 {
		cfg.OTPTTL = 10 * time.Minute
	}
	h.svc = NewService(h.users, h.sender, cfg,
		WithRecorder(h.recorder),
		WithClock(func() time.Time { return h.now }),
		WithCodeGenerator(func() (string, error) {
			h.codes++
			return strconv.Itoa(100000 + h.codes), nil
		}))
	return h
}

func (h *harness) register(t *testing.T, email, password string) string {
	t.Helper()
	_, err := h.svc.Register(t.Context(), "Asha Mwangi", email, password)
	require.NoError(t, err)
	return h.sender.last(t).code
}

func (h *harness) registerVerified(t *testing.T, email, password string) {
	t.Helper()
	code := h.register(t, email, password)
	require.NoError(t, h.svc.Verify(t.Context(), email, code))
}

func TestRegisterCreatesUnverifiedAccount(t *testing.T) {
	h := newHarness(t, Config{})

	user, err := h.svc.Register(t.Context(), " Asha Mwangi ", " Asha@Example.com", "p1")
	require.NoError(t, err)

	assert.Equal(t, "asha@example.com", user.Email)
	assert.Equal(t, "Asha Mwangi", user.FullName)
	assert.False(t, user.IsVerified)
	require.True(t, user.OTP.Present())
	assert.Equal(t, "100001", *user.OTP.Code)
	assert.Equal(t, h.now.Add(10*time.Minute), *user.OTP.ExpiresAt)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("p1")))

	sent := h.sender.last(t)
	assert.Equal(t, sentCode{"asha@example.com", "100001", notification.PurposeVerify}, sent)
	assert.Equal(t, 1, h.recorder.OperationCount(metrics.OpSignup, metrics.StatusSuccess))
}

func TestRegisterDuplicateEmail(t *testing.T) {
	h := newHarness(t, Config{})
	h.register(t, "a@x.com", "p1")

	_, err := h.svc.Register(t.Context(), "A", "A@X.com", "p2")
	require.ErrorIs(t, err, ErrDuplicateEmail)

	count, err := h.users.Count(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.Len(t, h.sender.sent, 1)
}

func TestRegisterRejectsBadPasswords(t *testing.T) {
	h := newHarness(t, Config{})

	for _, pw := range []string{"", string(make([]byte, 73))} {
		_, err := h.svc.Register(t.Context(), "A", "a@x.com", pw)
		require.ErrorIs(t, err, ErrInvalidPassword)
	}
	count, err := h.users.Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestVerifyIsSingleUse(t *testing.T) {
	h := newHarness(t, Config{})
	code := h.register(t, "a@x.com", "p1")

	require.NoError(t, h.svc.Verify(t.Context(), "a@x.com", code))
	user, err := h.users.GetByEmail(t.Context(), "a@x.com")
	require.NoError(t, err)
	assert.True(t, user.IsVerified)
	assert.False(t, user.OTP.Present())

	require.ErrorIs(t, h.svc.Verify(t.Context(), "a@x.com", code), ErrInvalidCode)
}

func TestVerifyFailures(t *testing.T) {
	h := newHarness(t, Config{})
	code := h.register(t, "a@x.com", "p1")

	assert.ErrorIs(t, h.svc.Verify(t.Context(), "a@x.com", "999999"), ErrInvalidCode)
	assert.ErrorIs(t, h.svc.Verify(t.Context(), "nobody@x.com", code), ErrInvalidCode)
	assert.ErrorIs(t, h.svc.Verify(t.Context(), "a@x.com", ""), ErrInvalidCode)

	h.now = h.now.Add(10 * time.Minute)
	assert.ErrorIs(t, h.svc.Verify(t.Context(), "a@x.com", code), ErrInvalidCode, "expired code")

	user, err := h.users.GetByEmail(t.Context(), "a@x.com")
	require.NoError(t, err)
	assert.False(t, user.IsVerified)
	assert.Equal(t, 4, h.recorder.OperationCount(metrics.OpVerify, metrics.StatusRejected))
}

func TestVerifyConcurrentUseSucceedsOnce(t *testing.T) {
	h := newHarness(t, Config{})
	code := h.register(t, "a@x.com", "p1")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for range 5 {
		wg.Go(func() {
			if h.svc.Verify(context.Background(), "a@x.com", code) == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestAuthenticate(t *testing.T) {
	h := newHarness(t, Config{})
	h.registerVerified(t, "a@x.com", "p1")

	session, err := h.svc.Authenticate(t.Context(), "A@x.com ", "p1")
	require.NoError(t, err)
	assert.NotZero(t, session.UserID)
	assert.Equal(t, "Asha Mwangi", session.Name)
	assert.Empty(t, session.Token)

	_, err = h.svc.Authenticate(t.Context(), "a@x.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.svc.Authenticate(t.Context(), "ghost@x.com", "p1")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateUnverified(t *testing.T) {
	h := newHarness(t, Config{})
	h.register(t, "a@x.com", "p1")

	_, err := h.svc.Authenticate(t.Context(), "a@x.com", "p1")
	require.ErrorIs(t, err, ErrUnverified)

	_, err = h.svc.Authenticate(t.Context(), "a@x.com", "nope")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateLockout(t *testing.T) {
	h := newHarness(t, Config{MaxLoginFailures: 2, LockoutWindow: 200 * time.Millisecond})
	h.registerVerified(t, "a@x.com", "p1")

	for range 2 {
		_, err := h.svc.Authenticate(t.Context(), "a@x.com", "bad")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := h.svc.Authenticate(t.Context(), "a@x.com", "p1")
	require.ErrorIs(t, err, ErrTooManyAttempts)

	assert.Eventually(t, func() bool {
		_, err := h.svc.Authenticate(t.Context(), "a@x.com", "p1")
		return err == nil
	}, 2*time.Second, 50*time.Millisecond)
}

func TestAuthenticateSuccessResetsFailures(t *testing.T) {
	h := newHarness(t, Config{MaxLoginFailures: 2, LockoutWindow: time.Minute})
	h.registerVerified(t, "a@x.com", "p1")

	_, err := h.svc.Authenticate(t.Context(), "a@x.com", "bad")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.svc.Authenticate(t.Context(), "a@x.com", "p1")
	require.NoError(t, err)
	_, err = h.svc.Authenticate(t.Context(), "a@x.com", "bad")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.svc.Authenticate(t.Context(), "a@x.com", "p1")
	require.NoError(t, err)
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t, Config{})
	h.registerVerified(t, "a@x.com", "old")

	require.NoError(t, h.svc.RequestReset(t.Context(), "a@x.com"))
	sent := h.sender.last(t)
	assert.Equal(t, notification.PurposeReset, sent.purpose)

	require.ErrorIs(t, h.svc.CompleteReset(t.Context(), "a@x.com", "000000", "new"), ErrInvalidCode)
	require.NoError(t, h.svc.CompleteReset(t.Context(), "a@x.com", sent.code, "new"))
	require.ErrorIs(t, h.svc.CompleteReset(t.Context(), "a@x.com", sent.code, "newer"), ErrInvalidCode)

	_, err := h.svc.Authenticate(t.Context(), "a@x.com", "old")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = h.svc.Authenticate(t.Context(), "a@x.com", "new")
	require.NoError(t, err)
}

func TestRequestResetUnknownEmail(t *testing.T) {
	h := newHarness(t, Config{})
	require.ErrorIs(t, h.svc.RequestReset(t.Context(), "ghost@x.com"), ErrUnknownEmail)
	assert.Empty(t, h.sender.sent)
}

func TestRequestResetReplacesPendingCode(t *testing.T) {
	h := newHarness(t, Config{})
	first := h.register(t, "a@x.com", "p1")

	require.NoError(t, h.svc.RequestReset(t.Context(), "a@x.com"))
	second := h.sender.last(t).code
	require.NotEqual(t, first, second)

	require.ErrorIs(t, h.svc.Verify(t.Context(), "a@x.com", first), ErrInvalidCode)
	require.NoError(t, h.svc.Verify(t.Context(), "a@x.com", second))
}

func TestGenerateOTP(t *testing.T) {
	for range 200 {
		code, err := GenerateOTP()
		require.NoError(t, err)
		require.Len(t, code, 6)
		n, err := strconv.Atoi(code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
	}
}
