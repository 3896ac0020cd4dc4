// Package entities defines the GORM models of the Kinga database.
// Table and column names match the schema of existing deployments.
package entities

import "time"

// User is a registered account.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	FullName     string `gorm:"size:100"`
	Email        string `gorm:"size:100;uniqueIndex;not null"` // stored normalized: trimmed, lower case
	PasswordHash string `gorm:"size:255;not null"`
	OTP          OTP    `gorm:"embedded;embeddedPrefix:otp_"`
	IsVerified   bool   `gorm:"not null;default:false"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (User) TableName() string {
	return "users"
}

// OTP is a pending one-time code. Both columns are NULL when no code is outstanding.
type OTP struct {
	Code      *string `gorm:"size:6"`
	ExpiresAt *time.Time
}

// NewOTP returns a code valid until expiresAt.
func NewOTP(code string, expiresAt time.Time) OTP {
	return OTP{Code: &code, ExpiresAt: &expiresAt}
}

// Present reports whether a code is outstanding, expired or not.
func (o OTP) Present() bool {
	return o.Code != nil && *o.Code != ""
}

// Expired reports whether the code has passed its expiry at now.
// A code without expiry never expires.
func (o OTP) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}
