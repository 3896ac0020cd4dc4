package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/kinga-app/kinga/internal/account"
	mw "github.com/kinga-app/kinga/internal/api/middleware"
	"github.com/kinga-app/kinga/internal/buildinfo"
	"github.com/kinga-app/kinga/internal/datastore/entities"
	"github.com/kinga-app/kinga/internal/observability"
	"github.com/kinga-app/kinga/internal/prediction"
)

// AccountService is the account lifecycle used by the account routes.
type AccountService interface {
	Register(ctx context.Context, name, email, password string) (*entities.User, error)
	Verify(ctx context.Context, email, code string) error
	Authenticate(ctx context.Context, email, password string) (*account.Session, error)
	RequestReset(ctx context.Context, email string) error
	CompleteReset(ctx context.Context, email, code, newPassword string) error
	ParseToken(token string) (*account.Claims, error)
}

// PredictionService runs predictions and reads the history.
type PredictionService interface {
	Predict(ctx context.Context, imageName string, data []byte) (*prediction.Outcome, error)
	History(ctx context.Context) ([]prediction.HistoryEntry, error)
}

// FileStore keeps uploaded images.
type FileStore interface {
	Save(name string, r io.Reader) (string, error)
	Serve(c echo.Context, name string) error
}

// Controller holds the route handlers and the services behind them.
type Controller struct {
	Echo        *echo.Echo
	Accounts    AccountService
	Predictions PredictionService
	Uploads     FileStore
	Metrics     *observability.Metrics
	BuildInfo   buildinfo.BuildInfo

	config    *Config
	startTime time.Time
}

// initRoutes registers all routes. Account routes share one rate limiter so
// the budget is per client across them.
func (c *Controller) initRoutes() {
	var accountMW []echo.MiddlewareFunc
	if c.config.RateLimit.Enabled {
		accountMW = append(accountMW, mw.NewRateLimiter(mw.RateLimitConfig{
			Rate:  c.config.RateLimit.Rate,
			Burst: c.config.RateLimit.Burst,
		}))
	}
	c.Echo.POST("/signup", c.Signup, accountMW...)
	c.Echo.POST("/verify", c.Verify, accountMW...)
	c.Echo.POST("/login", c.Login, accountMW...)
	c.Echo.POST("/forgot-password", c.ForgotPassword, accountMW...)
	c.Echo.POST("/reset-password", c.ResetPassword, accountMW...)

	var guard []echo.MiddlewareFunc
	if c.config.RequireToken {
		guard = append(guard, mw.NewTokenGuard(c.verifyToken))
	}
	c.Echo.POST("/predict", c.Predict, guard...)
	c.Echo.GET("/history", c.History, guard...)

	c.Echo.GET("/static/uploads/:name", c.ServeUpload)
	c.Echo.GET("/healthz", c.HealthCheck)

	if c.Metrics != nil && c.config.MetricsPath != "" {
		c.Echo.GET(c.config.MetricsPath, echo.WrapHandler(c.Metrics.Handler()))
	}
}

func (c *Controller) verifyToken(token string) (uint, error) {
	claims, err := c.Accounts.ParseToken(token)
	if err != nil {
		return 0, err
	}
	return claims.UserID()
}

// HealthCheck reports that the server is up.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	info := c.BuildInfo
	if info == nil {
		info = (*buildinfo.Context)(nil)
	}
	return ctx.JSON(http.StatusOK, HealthResponse{
		Status:        "healthy",
		Version:       info.GetVersion(),
		BuildDate:     info.GetBuildDate(),
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Timestamp:     time.Now().Format(time.RFC3339),
	})
}

// ServeUpload serves a stored upload read-only.
func (c *Controller) ServeUpload(ctx echo.Context) error {
	return c.Uploads.Serve(ctx, ctx.Param("name"))
}
