package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

const defaultRateLimitExpiry = 3 * time.Minute

// RateLimitConfig configures the per-client limiter.
type RateLimitConfig struct {
	Rate      float64       // requests per second
	Burst     int           // bucket size, at least 1
	ExpiresIn time.Duration // idle visitors are forgotten after this
}

// NewRateLimiter limits requests per client IP with a token bucket held in memory.
func NewRateLimiter(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.ExpiresIn <= 0 {
		cfg.ExpiresIn = defaultRateLimitExpiry
	}

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.Rate),
				Burst:     cfg.Burst,
				ExpiresIn: cfg.ExpiresIn,
			},
		),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return writeError(c, http.StatusForbidden, "Unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return writeError(c, http.StatusTooManyRequests, "Too many requests, please try again later")
		},
	})
}
