package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/kinga-app/kinga/internal/datastore/entities"
	"github.com/kinga-app/kinga/internal/errors"
)

// OTPUpdate lists the changes applied together with consuming a one-time code.
type OTPUpdate struct {
	MarkVerified bool
	PasswordHash string // replaced when not empty
}

// UserRepository handles account persistence.
type UserRepository interface {
	Create(ctx context.Context, user *entities.User) error
	GetByEmail(ctx context.Context, email string) (*entities.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// IssueOTP replaces the user's pending code. No other column is written.
	IssueOTP(ctx context.Context, userID uint, otp entities.OTP) error
	// ConsumeOTP clears the user's code and applies update only if the stored
	// code equals code and has not expired at now. It reports whether it did.
	ConsumeOTP(ctx context.Context, userID uint, code string, now time.Time, update OTPUpdate) (bool, error)
	Count(ctx context.Context) (int64, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a UserRepository on db.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// NormalizeEmail trims and lowercases an address. Every lookup goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (r *userRepository) Create(ctx context.Context, user *entities.User) error {
	if user == nil || user.Email == "" {
		return ErrInvalidInput
	}
	user.Email = NormalizeEmail(user.Email)

	err := r.db.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return dbError(err, "create_user")
	}
	return nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*entities.User, error) {
	var user entities.User
	err := r.db.WithContext(ctx).
		Where("email = ?", NormalizeEmail(email)).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, dbError(err, "get_user")
	}
	return &user, nil
}

func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.User{}).
		Where("email = ?", NormalizeEmail(email)).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "exists_user")
	}
	return count > 0, nil
}

func (r *userRepository) IssueOTP(ctx context.Context, userID uint, otp entities.OTP) error {
	if userID == 0 || !otp.Present() {
		return ErrInvalidInput
	}
	var expiresAt any
	if otp.ExpiresAt != nil {
		expiresAt = otp.ExpiresAt.UTC()
	}
	result := r.db.WithContext(ctx).Model(&entities.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"otp_code":       *otp.Code,
			"otp_expires_at": expiresAt,
		})
	if result.Error != nil {
		return dbError(result.Error, "issue_otp")
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepository) ConsumeOTP(ctx context.Context, userID uint, code string, now time.Time, update OTPUpdate) (bool, error) {
	if userID == 0 || code == "" {
		return false, nil
	}

	changes := map[string]any{
		"otp_code":       nil,
		"otp_expires_at": nil,
	}
	if update.MarkVerified {
		changes["is_verified"] = true
	}
	if update.PasswordHash != "" {
		changes["password_hash"] = update.PasswordHash
	}

	result := r.db.WithContext(ctx).Model(&entities.User{}).
		Where("id = ? AND otp_code = ?", userID, code).
		Where("(otp_expires_at IS NULL OR otp_expires_at > ?)", now.UTC()).
		Updates(changes)
	if result.Error != nil {
		return false, dbError(result.Error, "consume_otp")
	}
	return result.RowsAffected == 1, nil
}

func (r *userRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.User{}).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_users")
	}
	return count, nil
}
