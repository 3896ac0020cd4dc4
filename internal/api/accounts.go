package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kinga-app/kinga/internal/account"
	"github.com/kinga-app/kinga/internal/errors"
)

// Reply texts of the account routes. Mobile clients show them verbatim.
const (
	msgSignupOK    = "Signup successful."
	msgVerified    = "Account verified!"
	msgLoginOK     = "Login successful"
	msgOTPSent     = "OTP sent"
	msgResetOK     = "Password reset successful. Please login."
	errEmailExists = "Email already exists"
	errInvalidOTP  = "Invalid OTP Code"
	errInvalidCode = "Invalid OTP"
	errBadLogin    = "Invalid email or password"
	errUnverified  = "Account not verified. Please verify first."
	errNoEmail     = "Email not found"
	errLockedOut   = "Too many failed attempts. Please try again later."
	errBadPassword = "Password must be between 1 and 72 characters"
	errBadRequest  = "Invalid request"
	errInternal    = "Internal server error"
)

// Signup registers an account and emails it a verification code.
func (c *Controller) Signup(ctx echo.Context) error {
	var req SignupRequest
	if detail, ok := bindRequest(ctx, &req); !ok {
		return c.handleError(ctx, nil, errBadRequest, detail, http.StatusBadRequest)
	}

	if _, err := c.Accounts.Register(ctx.Request().Context(), req.FullName, req.Email, req.Password); err != nil {
		return c.accountError(ctx, err, errInvalidOTP)
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: msgSignupOK})
}

// Verify confirms an account with its emailed code.
func (c *Controller) Verify(ctx echo.Context) error {
	var req VerifyRequest
	if detail, ok := bindRequest(ctx, &req); !ok {
		return c.handleError(ctx, nil, errBadRequest, detail, http.StatusBadRequest)
	}

	if err := c.Accounts.Verify(ctx.Request().Context(), req.Email, req.OTP); err != nil {
		return c.accountError(ctx, err, errInvalidOTP)
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: msgVerified})
}

// Login checks credentials of a verified account.
func (c *Controller) Login(ctx echo.Context) error {
	var req LoginRequest
	if detail, ok := bindRequest(ctx, &req); !ok {
		return c.handleError(ctx, nil, errBadRequest, detail, http.StatusBadRequest)
	}

	session, err := c.Accounts.Authenticate(ctx.Request().Context(), req.Email, req.Password)
	if err != nil {
		return c.accountError(ctx, err, errInvalidOTP)
	}

	resp := LoginResponse{
		Message: msgLoginOK,
		UserID:  session.UserID,
		Name:    session.Name,
		Token:   session.Token,
	}
	if session.Token != "" {
		expires := session.ExpiresAt.UTC()
		resp.ExpiresAt = &expires
	}
	return ctx.JSON(http.StatusOK, resp)
}

// ForgotPassword emails a reset code to a registered address.
func (c *Controller) ForgotPassword(ctx echo.Context) error {
	var req ForgotPasswordRequest
	if detail, ok := bindRequest(ctx, &req); !ok {
		return c.handleError(ctx, nil, errBadRequest, detail, http.StatusBadRequest)
	}

	if err := c.Accounts.RequestReset(ctx.Request().Context(), req.Email); err != nil {
		return c.accountError(ctx, err, errInvalidCode)
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: msgOTPSent})
}

// ResetPassword sets a new password when the reset code matches.
func (c *Controller) ResetPassword(ctx echo.Context) error {
	var req ResetPasswordRequest
	if detail, ok := bindRequest(ctx, &req); !ok {
		return c.handleError(ctx, nil, errBadRequest, detail, http.StatusBadRequest)
	}

	if err := c.Accounts.CompleteReset(ctx.Request().Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		return c.accountError(ctx, err, errInvalidCode)
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: msgResetOK})
}

// accountError maps account errors to replies. invalidCode is the text for a
// rejected code, which differs between /verify and /reset-password.
func (c *Controller) accountError(ctx echo.Context, err error, invalidCode string) error {
	switch {
	case errors.Is(err, account.ErrDuplicateEmail):
		return c.HandleError(ctx, err, errEmailExists, http.StatusBadRequest)
	case errors.Is(err, account.ErrInvalidCode):
		return c.HandleError(ctx, err, invalidCode, http.StatusBadRequest)
	case errors.Is(err, account.ErrInvalidCredentials):
		return c.HandleError(ctx, err, errBadLogin, http.StatusUnauthorized)
	case errors.Is(err, account.ErrUnverified):
		return c.HandleError(ctx, err, errUnverified, http.StatusForbidden)
	case errors.Is(err, account.ErrUnknownEmail):
		return c.HandleError(ctx, err, errNoEmail, http.StatusNotFound)
	case errors.Is(err, account.ErrTooManyAttempts):
		return c.HandleError(ctx, err, errLockedOut, http.StatusTooManyRequests)
	case errors.Is(err, account.ErrInvalidPassword):
		return c.HandleError(ctx, err, errBadPassword, http.StatusBadRequest)
	default:
		return c.HandleError(ctx, err, errInternal, http.StatusInternalServerError)
	}
}
