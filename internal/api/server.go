package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/crypto/acme/autocert"

	mw "github.com/kinga-app/kinga/internal/api/middleware"
	"github.com/kinga-app/kinga/internal/buildinfo"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
	"github.com/kinga-app/kinga/internal/observability"
)

// Server is the HTTP server of Kinga. It owns the echo instance, the
// middleware stack and the Controller serving the routes.
type Server struct {
	echo       *echo.Echo
	config     *Config
	controller *Controller
	accessLog  logger.Logger
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithAccounts sets the account service. Required.
func WithAccounts(a AccountService) ServerOption {
	return func(s *Server) {
		s.controller.Accounts = a
	}
}

// WithPredictions sets the prediction service. Required.
func WithPredictions(p PredictionService) ServerOption {
	return func(s *Server) {
		s.controller.Predictions = p
	}
}

// WithUploads sets the upload store. Required.
func WithUploads(u FileStore) ServerOption {
	return func(s *Server) {
		s.controller.Uploads = u
	}
}

// WithMetrics enables request metrics and the metrics endpoint.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.controller.Metrics = m
	}
}

// WithBuildInfo sets the version reported by the health check.
func WithBuildInfo(info buildinfo.BuildInfo) ServerOption {
	return func(s *Server) {
		s.controller.BuildInfo = info
	}
}

// WithAccessLogger overrides the logger receiving one line per request.
func WithAccessLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.accessLog = l
	}
}

// New creates the server with its middleware and routes. It does not listen yet.
func New(config *Config, opts ...ServerOption) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = config.Debug
	// X-Forwarded-For is trusted from loopback and private networks only, so
	// clients cannot pick their own rate limit bucket.
	e.IPExtractor = echo.ExtractIPFromXFFHeader()
	e.Validator = newRequestValidator()

	e.Server.ReadTimeout = config.ReadTimeout
	e.Server.WriteTimeout = config.WriteTimeout
	e.Server.IdleTimeout = config.IdleTimeout

	s := &Server{
		echo:   e,
		config: config,
		controller: &Controller{
			Echo:      e,
			config:    config,
			startTime: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.checkDependencies(); err != nil {
		return nil, err
	}
	if s.accessLog == nil {
		s.accessLog = logger.Global().Module("access")
	}

	e.HTTPErrorHandler = s.controller.httpErrorHandler
	s.setupMiddleware()
	s.controller.initRoutes()

	GetLogger().Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.Int("max_upload_mb", config.MaxUploadMB),
		logger.Bool("rate_limit", config.RateLimit.Enabled),
		logger.Bool("require_token", config.RequireToken),
		logger.Bool("metrics", s.controller.Metrics != nil && config.MetricsPath != ""))
	return s, nil
}

func (s *Server) checkDependencies() error {
	var missing string
	switch {
	case s.controller.Accounts == nil:
		missing = "account service"
	case s.controller.Predictions == nil:
		missing = "prediction service"
	case s.controller.Uploads == nil:
		missing = "upload store"
	default:
		return nil
	}
	return errors.Newf("HTTP server requires a %s", missing).
		Component("api").
		Category(errors.CategoryConfiguration).
		Build()
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestID())

	if s.controller.Metrics != nil {
		s.echo.Use(mw.NewMetrics(s.controller.Metrics.HTTP))
	}
	s.echo.Use(mw.NewRequestLogger(s.accessLog))

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))

	s.echo.Use(mw.NewBodyLimit(mw.BodyLimitMB(s.config.MaxUploadMB)))
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.startBlocking()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	GetLogger().Info("Shutdown signal received, initiating graceful shutdown")
	if err := s.Shutdown(); err != nil {
		return err
	}
	return <-errCh
}

// startBlocking serves HTTP requests and blocks until the server is shut down.
func (s *Server) startBlocking() error {
	tlsCfg := s.config.TLS
	GetLogger().Info("Starting HTTP server",
		logger.String("address", s.config.Listen),
		logger.String("tls", tlsCfg.Mode))

	var err error
	switch tlsCfg.Mode {
	case TLSManual:
		err = s.echo.StartTLS(s.config.Listen, tlsCfg.CertFile, tlsCfg.KeyFile)
	case TLSAuto:
		s.echo.AutoTLSManager.Prompt = autocert.AcceptTOS
		s.echo.AutoTLSManager.Cache = autocert.DirCache(tlsCfg.CacheDir)
		s.echo.AutoTLSManager.HostPolicy = autocert.HostWhitelist(tlsCfg.Hosts...)
		err = s.echo.StartAutoTLS(s.config.Listen)
	default:
		err = s.echo.Start(s.config.Listen)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("address", s.config.Listen).
			Build()
	}
	return nil
}

// Shutdown stops accepting connections and waits up to the shutdown timeout
// for in-flight requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		GetLogger().Error("Error during server shutdown", logger.Error(err))
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("operation", "shutdown").
			Build()
	}
	GetLogger().Info("Server shutdown complete")
	return nil
}

// Addr returns the listening address, or nil before the server has started.
func (s *Server) Addr() net.Addr {
	return s.echo.ListenerAddr()
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Controller returns the route handlers.
func (s *Server) Controller() *Controller {
	return s.controller
}
