package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinga-app/kinga/internal/buildinfo"
	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/observability"
)

func TestNewRequiresServices(t *testing.T) {
	_, err := New(DefaultConfig(), WithAccounts(&mockAccounts{}))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.Contains(t, err.Error(), "prediction service")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no listen address", func(c *Config) { c.Listen = "" }, "listen address"},
		{"zero upload limit", func(c *Config) { c.MaxUploadMB = 0 }, "max upload"},
		{"zero rate", func(c *Config) { c.RateLimit.Rate = 0 }, "rate limit"},
		{"zero rate while disabled", func(c *Config) { c.RateLimit = RateLimit{} }, ""},
		{"manual tls without key", func(c *Config) { c.TLS = TLS{Mode: TLSManual, CertFile: "cert.pem"} }, "certificate and key"},
		{"auto tls", func(c *Config) { c.TLS = TLS{Mode: TLSAuto, Hosts: []string{"kinga.example"}, CacheDir: "certs"} }, ""},
		{"auto tls without hosts", func(c *Config) { c.TLS = TLS{Mode: TLSAuto, CacheDir: "certs"} }, "hosts"},
		{"unknown tls mode", func(c *Config) { c.TLS.Mode = "acme" }, "unknown TLS mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfigFromSettings(t *testing.T) {
	settings := &conf.Settings{
		WebServer: conf.WebServerSettings{
			Listen:          "127.0.0.1:8080",
			MaxUploadMB:     4,
			ShutdownTimeout: 3 * time.Second,
			CORSOrigins:     []string{"https://kinga.example"},
			RateLimit:       conf.RateLimitSettings{Enabled: true, Rate: 2, Burst: 5},
			TLS:             conf.TLSSettings{Mode: "manual", CertFile: "cert.pem", KeyFile: "key.pem"},
		},
		Security: conf.SecuritySettings{RequireToken: true},
		Metrics:  conf.MetricsSettings{Enabled: false, Path: "/metrics"},
	}

	cfg := ConfigFromSettings(settings)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, 4, cfg.MaxUploadMB)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"https://kinga.example"}, cfg.AllowedOrigins)
	assert.Equal(t, RateLimit{Enabled: true, Rate: 2, Burst: 5}, cfg.RateLimit)
	assert.Equal(t, TLS{Mode: TLSManual, CertFile: "cert.pem", KeyFile: "key.pem"}, cfg.TLS)
	assert.True(t, cfg.RequireToken)
	assert.Empty(t, cfg.MetricsPath)
	assert.Equal(t, DefaultReadTimeout, cfg.ReadTimeout)
	require.NoError(t, cfg.Validate())
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get("/no/such/route")
	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "Not Found", resp.Error)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), resp.CorrelationID)
}

func TestPanicIsRecovered(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.Echo().GET("/panic", func(echo.Context) error { panic("boom") })

	rec := env.get("/panic")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, http.StatusInternalServerError, decodeError(t, rec).Code)
}

func TestServeUploadRejectsTraversal(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/static/uploads/..", "/static/uploads/.env", "/static/uploads/missing.jpg"} {
		rec := env.get(path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t, nil, WithBuildInfo(buildinfo.NewContext("1.4.0", "2026-10-01")))

	rec := env.get("/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.4.0", resp.Version)
	assert.Equal(t, "2026-10-01", resp.BuildDate)
	assert.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
}

func TestHealthCheckWithoutBuildInfo(t *testing.T) {
	env := newTestEnv(t, nil)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(env.get("/healthz").Body.Bytes(), &resp))
	assert.Equal(t, buildinfo.UnknownValue, resp.Version)
}

func TestMetricsEndpoint(t *testing.T) {
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	env := newTestEnv(t, func(c *Config) { c.MetricsPath = "/metrics" }, WithMetrics(m))

	require.Equal(t, http.StatusOK, env.get("/healthz").Code)

	rec := env.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kinga_http_requests_total{method="GET",path="/healthz",status_code="200"} 1`)
}

func TestMetricsEndpointDisabled(t *testing.T) {
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	env := newTestEnv(t, nil, WithMetrics(m))

	assert.Equal(t, http.StatusNotFound, env.get("/metrics").Code)
}

func TestRunServesUntilCancelled(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Listen = "127.0.0.1:0"
		c.ShutdownTimeout = 2 * time.Second
	})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- env.server.Run(ctx) }()

	require.Eventually(t, func() bool { return env.server.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + env.server.Addr().String() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
