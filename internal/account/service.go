// Package account implements signup with emailed one-time codes, login and
// password reset on top of the user repository.
package account

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/datastore/entities"
	"github.com/kinga-app/kinga/internal/datastore/repository"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
	"github.com/kinga-app/kinga/internal/notification"
	"github.com/kinga-app/kinga/internal/observability/metrics"
)

// CodeSender delivers one-time codes. It must not block on delivery and
// never reports failures to the caller.
type CodeSender interface {
	SendOTP(email, code string, purpose notification.Purpose)
}

// Config holds the account policy.
type Config struct {
	BcryptCost       int
	OTPTTL           time.Duration // zero means codes never expire
	MaxLoginFailures int           // zero disables lockout
	LockoutWindow    time.Duration
	JWTSecret        string // empty disables tokens
	JWTTTL           time.Duration
}

// ConfigFromSettings builds a Config from application settings.
func ConfigFromSettings(a *conf.AccountSettings, s *conf.SecuritySettings) Config {
	return Config{
		BcryptCost:       a.BcryptCost,
		OTPTTL:           a.OTPTTL,
		MaxLoginFailures: a.MaxLoginFailures,
		LockoutWindow:    a.LockoutWindow,
		JWTSecret:        s.JWTSecret,
		JWTTTL:           s.JWTTTL,
	}
}

// Session is the result of a successful login.
type Session struct {
	UserID    uint
	Name      string
	Token     string    // empty when tokens are disabled
	ExpiresAt time.Time // zero when Token is empty
}

// Service implements the account lifecycle. It is safe for concurrent use.
type Service struct {
	users    repository.UserRepository
	sender   CodeSender
	cfg      Config
	lockout  *lockout
	recorder metrics.Recorder
	now      func() time.Time
	newCode  func() (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(s *Service) {
		s.recorder = metrics.OrNoOp(r)
	}
}

// WithClock overrides the time source for code expiry and tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithCodeGenerator overrides one-time code generation.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		s.newCode = gen
	}
}

// NewService creates a Service.
func NewService(users repository.UserRepository, sender CodeSender, cfg Config, opts ...Option) *Service {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	s := &Service{
		users:    users,
		sender:   sender,
		cfg:      cfg,
		lockout:  newLockout(cfg.MaxLoginFailures, cfg.LockoutWindow),
		recorder: metrics.NoOpRecorder{},
		now:      time.Now,
		newCode:  GenerateOTP,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TokensEnabled reports whether Authenticate issues bearer tokens.
func (s *Service) TokensEnabled() bool {
	return s.cfg.JWTSecret != ""
}

// Register creates an unverified account and sends it a verification code.
func (s *Service) Register(ctx context.Context, name, email, password string) (*entities.User, error) {
	email = repository.NormalizeEmail(email)

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, s.fail(metrics.OpSignup, err)
	}
	if exists {
		s.recorder.RecordOperation(metrics.OpSignup, metrics.StatusRejected)
		return nil, ErrDuplicateEmail
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		s.recorder.RecordOperation(metrics.OpSignup, metrics.StatusRejected)
		return nil, err
	}
	otp, code, err := s.issueOTP()
	if err != nil {
		return nil, s.fail(metrics.OpSignup, err)
	}

	user := &entities.User{
		FullName:     strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		OTP:          otp,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			// lost a race with a concurrent signup
			s.recorder.RecordOperation(metrics.OpSignup, metrics.StatusRejected)
			return nil, ErrDuplicateEmail
		}
		return nil, s.fail(metrics.OpSignup, err)
	}

	s.sender.SendOTP(email, code, notification.PurposeVerify)
	s.recorder.RecordOperation(metrics.OpSignup, metrics.StatusSuccess)
	GetLogger().Info("account registered", logger.Int64("user_id", int64(user.ID)))
	return user, nil
}

// Verify marks the account verified and clears the code. The code is
// single use; a second call with the same code fails with ErrInvalidCode.
func (s *Service) Verify(ctx context.Context, email, code string) error {
	if err := s.consume(ctx, metrics.OpVerify, email, code, repository.OTPUpdate{MarkVerified: true}); err != nil {
		return err
	}
	s.recorder.RecordOperation(metrics.OpVerify, metrics.StatusSuccess)
	return nil
}

// Authenticate checks credentials. It never succeeds for an unverified account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	start := time.Now()
	defer func() {
		s.recorder.RecordDuration(metrics.OpLogin, time.Since(start).Seconds())
	}()

	email = repository.NormalizeEmail(email)
	if s.lockout.locked(email) {
		s.recorder.RecordOperation(metrics.OpLogin, "locked")
		return nil, ErrTooManyAttempts
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		s.lockout.fail(email)
		s.recorder.RecordOperation(metrics.OpLogin, metrics.StatusRejected)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, s.fail(metrics.OpLogin, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.lockout.fail(email)
		s.recorder.RecordOperation(metrics.OpLogin, metrics.StatusRejected)
		return nil, ErrInvalidCredentials
	}
	if !user.IsVerified {
		s.recorder.RecordOperation(metrics.OpLogin, metrics.StatusRejected)
		return nil, ErrUnverified
	}
	s.lockout.reset(email)

	session := &Session{UserID: user.ID, Name: user.FullName}
	if s.TokensEnabled() {
		session.Token, session.ExpiresAt, err = s.issueToken(user)
		if err != nil {
			return nil, s.fail(metrics.OpLogin, err)
		}
	}
	s.recorder.RecordOperation(metrics.OpLogin, metrics.StatusSuccess)
	return session, nil
}

// RequestReset stores a fresh code for the account and sends it.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		s.recorder.RecordOperation(metrics.OpForgotPassword, metrics.StatusRejected)
		return ErrUnknownEmail
	}
	if err != nil {
		return s.fail(metrics.OpForgotPassword, err)
	}

	otp, code, err := s.issueOTP()
	if err != nil {
		return s.fail(metrics.OpForgotPassword, err)
	}
	if err := s.users.IssueOTP(ctx, user.ID, otp); err != nil {
		return s.fail(metrics.OpForgotPassword, err)
	}

	s.sender.SendOTP(user.Email, code, notification.PurposeReset)
	s.recorder.RecordOperation(metrics.OpForgotPassword, metrics.StatusSuccess)
	return nil
}

// CompleteReset replaces the password when code is valid and clears the code.
func (s *Service) CompleteReset(ctx context.Context, email, code, newPassword string) error {
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		s.recorder.RecordOperation(metrics.OpResetPassword, metrics.StatusRejected)
		return err
	}
	if err := s.consume(ctx, metrics.OpResetPassword, email, code, repository.OTPUpdate{PasswordHash: hash}); err != nil {
		return err
	}
	s.lockout.reset(repository.NormalizeEmail(email))
	s.recorder.RecordOperation(metrics.OpResetPassword, metrics.StatusSuccess)
	return nil
}

// consume checks code against the stored one and clears it atomically with update.
func (s *Service) consume(ctx context.Context, op, email, code string, update repository.OTPUpdate) error {
	now := s.now()
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		s.recorder.RecordOperation(op, metrics.StatusRejected)
		return ErrInvalidCode
	}
	if err != nil {
		return s.fail(op, err)
	}
	if !codeMatches(user.OTP, code, now) {
		s.recorder.RecordOperation(op, metrics.StatusRejected)
		return ErrInvalidCode
	}

	ok, err := s.users.ConsumeOTP(ctx, user.ID, *user.OTP.Code, now, update)
	if err != nil {
		return s.fail(op, err)
	}
	if !ok {
		// consumed or replaced by a concurrent request
		s.recorder.RecordOperation(op, metrics.StatusRejected)
		return ErrInvalidCode
	}
	return nil
}

func (s *Service) issueOTP() (entities.OTP, string, error) {
	code, err := s.newCode()
	if err != nil {
		return entities.OTP{}, "", errors.New(err).
			Component("account").
			Category(errors.CategoryGeneric).
			Context("operation", "generate_otp").
			Build()
	}
	if s.cfg.OTPTTL <= 0 {
		return entities.OTP{Code: &code}, code, nil
	}
	return entities.NewOTP(code, s.now().UTC().Add(s.cfg.OTPTTL)), code, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	if password == "" || len(password) > 72 {
		return "", ErrInvalidPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", errors.New(err).
			Component("account").
			Category(errors.CategoryGeneric).
			Context("operation", "hash_password").
			Build()
	}
	return string(hash), nil
}

func (s *Service) fail(op string, err error) error {
	s.recorder.RecordOperation(op, metrics.StatusError)
	s.recorder.RecordError(op, string(errors.CategoryOf(err)))
	GetLogger().Error("account operation failed",
		logger.String("operation", op),
		logger.Error(err))
	return err
}
