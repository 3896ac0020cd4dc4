package account

import "github.com/kinga-app/kinga/internal/errors"

// Errors returned by Service. Handlers map them to status codes.
var (
	// ErrDuplicateEmail indicates the email is already registered.
	ErrDuplicateEmail = errors.NewStd("email already exists")

	// ErrInvalidCode covers an unknown email, a wrong code, a consumed code
	// and an expired code alike.
	ErrInvalidCode = errors.NewStd("invalid one-time code")

	// ErrInvalidCredentials covers an unknown email and a wrong password alike.
	ErrInvalidCredentials = errors.NewStd("invalid email or password")

	// ErrUnverified indicates correct credentials for an unverified account.
	ErrUnverified = errors.NewStd("account not verified")

	// ErrUnknownEmail indicates a reset was requested for an unregistered email.
	ErrUnknownEmail = errors.NewStd("email not found")

	// ErrTooManyAttempts indicates the email is locked out after repeated login failures.
	ErrTooManyAttempts = errors.NewStd("too many failed login attempts")

	// ErrInvalidPassword indicates an empty password or one longer than bcrypt accepts.
	ErrInvalidPassword = errors.NewStd("password must be between 1 and 72 bytes")

	// ErrInvalidToken indicates a bearer token that is malformed, expired or badly signed.
	ErrInvalidToken = errors.NewStd("invalid token")

	// ErrTokensDisabled indicates no signing secret is configured.
	ErrTokensDisabled = errors.NewStd("token authentication is not configured")
)
