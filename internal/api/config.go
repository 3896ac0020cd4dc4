// Package api serves the Kinga HTTP interface: account routes, prediction,
// history, uploaded images, health and metrics.
package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

var (
	loggerOnce sync.Once
	pkgLogger  logger.Logger
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("api")
	})
	return pkgLogger
}

// Default constants for the HTTP server.
const (
	DefaultListen          = ":5000"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxUploadMB     = 10
)

// RateLimit configures the per-IP limiter on the account routes.
type RateLimit struct {
	Enabled bool
	Rate    float64 // requests per second
	Burst   int
}

// TLS modes.
const (
	TLSOff    = "off"
	TLSManual = "manual"
	TLSAuto   = "auto"
)

// TLS configures HTTPS. Auto mode obtains certificates from Let's Encrypt
// for Hosts and caches them in CacheDir.
type TLS struct {
	Mode     string
	CertFile string
	KeyFile  string
	Hosts    []string
	CacheDir string
}

// Config holds the HTTP server configuration.
type Config struct {
	Listen string

	AllowedOrigins []string // CORS allowed origins

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // covers model inference on /predict
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	MaxUploadMB int // request body limit

	RateLimit RateLimit

	TLS TLS

	// RequireToken guards /predict and /history with a bearer token.
	RequireToken bool

	// MetricsPath serves Prometheus metrics when a registry is attached. Empty disables it.
	MetricsPath string

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		MaxUploadMB:     DefaultMaxUploadMB,
		RateLimit:       RateLimit{Enabled: true, Rate: 1, Burst: 10},
		TLS:             TLS{Mode: TLSOff},
		MetricsPath:     "/metrics",
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()

	ws := settings.WebServer
	if ws.Listen != "" {
		cfg.Listen = ws.Listen
	}
	if len(ws.CORSOrigins) > 0 {
		cfg.AllowedOrigins = ws.CORSOrigins
	}
	if ws.MaxUploadMB > 0 {
		cfg.MaxUploadMB = ws.MaxUploadMB
	}
	if ws.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = ws.ShutdownTimeout
	}
	cfg.RateLimit = RateLimit{
		Enabled: ws.RateLimit.Enabled,
		Rate:    ws.RateLimit.Rate,
		Burst:   ws.RateLimit.Burst,
	}

	if ws.TLS.Mode != "" {
		cfg.TLS = TLS{
			Mode:     ws.TLS.Mode,
			CertFile: ws.TLS.CertFile,
			KeyFile:  ws.TLS.KeyFile,
			Hosts:    ws.TLS.Hosts,
			CacheDir: ws.TLS.CacheDir,
		}
	}

	cfg.RequireToken = settings.Security.RequireToken

	cfg.MetricsPath = ""
	if settings.Metrics.Enabled {
		cfg.MetricsPath = settings.Metrics.Path
	}

	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var problem string
	switch {
	case c.Listen == "":
		problem = "listen address is required"
	case c.ReadTimeout <= 0:
		problem = "read timeout must be positive"
	case c.WriteTimeout <= 0:
		problem = "write timeout must be positive"
	case c.MaxUploadMB <= 0:
		problem = "max upload size must be positive"
	case c.RateLimit.Enabled && c.RateLimit.Rate <= 0:
		problem = "rate limit must be positive when enabled"
	case c.TLS.Mode == TLSManual && (c.TLS.CertFile == "" || c.TLS.KeyFile == ""):
		problem = "manual TLS requires a certificate and key file"
	case c.TLS.Mode == TLSAuto && (len(c.TLS.Hosts) == 0 || c.TLS.CacheDir == ""):
		problem = "automatic TLS requires hosts and a cache directory"
	case c.TLS.Mode != "" && c.TLS.Mode != TLSOff && c.TLS.Mode != TLSManual && c.TLS.Mode != TLSAuto:
		problem = "unknown TLS mode " + c.TLS.Mode
	default:
		return nil
	}
	return errors.Newf("invalid server configuration: %s", problem).
		Component("api").
		Category(errors.CategoryConfiguration).
		Build()
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf("Server Config: address=%s, tls=%s, max_upload=%dMB, rate_limit=%v, require_token=%v, debug=%v",
		c.Listen, c.TLS.Mode, c.MaxUploadMB, c.RateLimit.Enabled, c.RequireToken, c.Debug)
}
