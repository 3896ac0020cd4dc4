package api

import "time"

// SignupRequest is the body of POST /signup. Only signup enforces the email
// format; the other routes treat the address as an opaque identifier so an
// unknown one gets 401 or 404 rather than a validation error.
type SignupRequest struct {
	FullName string `json:"fullName" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=100"`
	Password string `json:"password" validate:"required,max=72"`
}

// VerifyRequest is the body of POST /verify.
type VerifyRequest struct {
	Email string `json:"email" validate:"required,max=100"`
	OTP   string `json:"otp" validate:"required"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=100"`
	Password string `json:"password" validate:"required"`
}

// ForgotPasswordRequest is the body of POST /forgot-password.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,max=100"`
}

// ResetPasswordRequest is the body of POST /reset-password.
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,max=100"`
	OTP         string `json:"otp" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,max=72"`
}

// MessageResponse is the body of the account routes on success.
type MessageResponse struct {
	Message string `json:"message"`
}

// LoginResponse is the body of a successful POST /login. Token is present
// only when token signing is configured.
type LoginResponse struct {
	Message   string     `json:"message"`
	UserID    uint       `json:"user_id"`
	Name      string     `json:"name"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	BuildDate     string  `json:"build_date"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Timestamp     string  `json:"timestamp"`
}
