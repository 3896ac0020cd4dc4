package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// UserIDKey is the echo context key holding the id of the authenticated user.
const UserIDKey = "user_id"

// TokenVerifier validates a bearer token and returns the user id it was issued for.
type TokenVerifier func(token string) (uint, error)

// NewTokenGuard rejects requests without a valid "Authorization: Bearer" token.
func NewTokenGuard(verify TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return writeError(c, http.StatusUnauthorized, "Authentication required")
			}
			userID, err := verify(token)
			if err != nil {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
				return writeError(c, http.StatusUnauthorized, "Invalid or expired token")
			}
			c.Set(UserIDKey, userID)
			return next(c)
		}
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
