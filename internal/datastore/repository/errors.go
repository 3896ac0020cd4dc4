// Package repository provides ctx-aware data access for users, the pest
// knowledge base and prediction history.
//
// # Error Handling
//
// Repositories return sentinel errors (ErrUserNotFound, ErrDuplicateEmail, ...)
// instead of leaking GORM errors, so callers never depend on the driver in use.
// The gorm.DB must be opened with TranslateError enabled for duplicate keys to be
// recognized.
//
// # Thread Safety
//
// All repository methods are safe for concurrent use. ConsumeOTP is a single
// conditional UPDATE, so a code can only be consumed once even when two requests
// race on it.
package repository

import "github.com/kinga-app/kinga/internal/errors"

// Sentinel errors for repository operations.
var (
	// ErrUserNotFound indicates no user has the requested email.
	ErrUserNotFound = errors.NewStd("user not found")

	// ErrDuplicateEmail indicates a user with the email already exists.
	ErrDuplicateEmail = errors.NewStd("email already exists")

	// ErrKnowledgeNotFound indicates no knowledge record matches the label.
	ErrKnowledgeNotFound = errors.NewStd("pest knowledge not found")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.NewStd("invalid input")
)

func dbError(err error, op string) error {
	return errors.New(err).
		Component("repository").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}
