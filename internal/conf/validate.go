// conf/validate.go

package conf

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	validDrivers   = []string{"mysql", "sqlite"}
	validProviders = []string{"auto", "brevo", "smtp", "shoutrrr", "log"}
	validBackends  = []string{"auto", "tflite", "onnx"}
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validateWebServerSettings,
		validateDatabaseSettings,
		validateClassifierSettings,
		validatePredictionSettings,
		validateAccountSettings,
		validateSecuritySettings,
		validateNotificationSettings,
		validateMonitorSettings,
		validateBackupSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateWebServerSettings(s *Settings) error {
	ws := &s.WebServer
	var errs []string

	if ws.Listen == "" {
		errs = append(errs, "listen address is required")
	}
	if ws.MaxUploadMB < 1 {
		errs = append(errs, fmt.Sprintf("max_upload_mb must be at least 1, got %d", ws.MaxUploadMB))
	}
	if ws.ShutdownTimeout < 0 {
		errs = append(errs, "shutdown_timeout must not be negative")
	}
	if ws.RateLimit.Enabled && (ws.RateLimit.Rate <= 0 || ws.RateLimit.Burst < 1) {
		errs = append(errs, "rate_limit rate must be positive and burst at least 1")
	}
	switch ws.TLS.Mode {
	case "", "off":
	case "manual":
		if ws.TLS.CertFile == "" || ws.TLS.KeyFile == "" {
			errs = append(errs, "tls cert_file and key_file are required in manual mode")
		}
	case "auto":
		if len(ws.TLS.Hosts) == 0 || ws.TLS.CacheDir == "" {
			errs = append(errs, "tls hosts and cache_dir are required in auto mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("tls mode must be off, manual or auto, got %q", ws.TLS.Mode))
	}

	return joinErrs("WebServer settings errors", errs)
}

func validateDatabaseSettings(s *Settings) error {
	db := &s.Database
	var errs []string

	switch db.Driver {
	case "mysql":
		if db.MySQL.Host == "" || db.MySQL.Database == "" || db.MySQL.Username == "" {
			errs = append(errs, "mysql host, database and username are required")
		}
		if db.MySQL.Port < 1 || db.MySQL.Port > 65535 {
			errs = append(errs, fmt.Sprintf("mysql port must be between 1 and 65535, got %d", db.MySQL.Port))
		}
	case "sqlite":
		if db.SQLite.Path == "" {
			errs = append(errs, "sqlite path is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("driver must be one of %s, got %q", strings.Join(validDrivers, ", "), db.Driver))
	}

	if db.MaxOpenConns < 0 || db.MaxIdleConns < 0 {
		errs = append(errs, "connection pool limits must not be negative")
	}

	return joinErrs("Database settings errors", errs)
}

func validateClassifierSettings(s *Settings) error {
	c := &s.Classifier
	var errs []string

	if c.ModelPath == "" {
		errs = append(errs, "model_path is required")
	}
	if c.LabelPath == "" {
		errs = append(errs, "label_path is required")
	}
	if !slices.Contains(validBackends, c.Backend) {
		errs = append(errs, fmt.Sprintf("backend must be one of %s, got %q", strings.Join(validBackends, ", "), c.Backend))
	}
	if c.Backend == "auto" && c.ModelPath != "" {
		switch strings.ToLower(filepath.Ext(c.ModelPath)) {
		case ".tflite", ".onnx":
		default:
			errs = append(errs, fmt.Sprintf("cannot infer backend from model file %s, set classifier.backend", filepath.Base(c.ModelPath)))
		}
	}
	if c.Instances < 0 || c.Threads < 0 {
		errs = append(errs, "instances and threads must not be negative")
	}

	return joinErrs("Classifier settings errors", errs)
}

func validatePredictionSettings(s *Settings) error {
	p := &s.Prediction
	var errs []string

	if p.LowThreshold < 0 || p.LowThreshold > 100 {
		errs = append(errs, "low_threshold must be between 0 and 100")
	}
	if p.UnsureThreshold < 0 || p.UnsureThreshold > 100 {
		errs = append(errs, "unsure_threshold must be between 0 and 100")
	}
	if p.UnsureThreshold < p.LowThreshold {
		errs = append(errs, "unsure_threshold must not be below low_threshold")
	}

	return joinErrs("Prediction settings errors", errs)
}

func validateAccountSettings(s *Settings) error {
	a := &s.Account
	var errs []string

	if a.BcryptCost < bcrypt.MinCost || a.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Sprintf("bcrypt_cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, a.BcryptCost))
	}
	if a.OTPTTL < time.Minute {
		errs = append(errs, "otp_ttl must be at least 1m")
	}
	if a.MaxLoginFailures < 0 {
		errs = append(errs, "max_login_failures must not be negative")
	}
	if a.MaxLoginFailures > 0 && a.LockoutWindow <= 0 {
		errs = append(errs, "lockout_window must be positive when max_login_failures is set")
	}

	return joinErrs("Account settings errors", errs)
}

func validateSecuritySettings(s *Settings) error {
	sec := &s.Security
	var errs []string

	if sec.RequireToken && sec.JWTSecret == "" {
		errs = append(errs, "jwt_secret must be set when require_token is enabled")
	}
	if sec.JWTSecret != "" && len(sec.JWTSecret) < 32 {
		errs = append(errs, "jwt_secret must be at least 32 characters")
	}
	if sec.JWTSecret != "" && sec.JWTTTL <= 0 {
		errs = append(errs, "jwt_ttl must be positive")
	}

	return joinErrs("Security settings errors", errs)
}

func validateNotificationSettings(s *Settings) error {
	n := &s.Notification
	var errs []string

	if !slices.Contains(validProviders, n.Provider) {
		errs = append(errs, fmt.Sprintf("provider must be one of %s, got %q", strings.Join(validProviders, ", "), n.Provider))
	}
	if n.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if n.MaxConcurrent < 1 {
		errs = append(errs, "max_concurrent must be at least 1")
	}

	switch n.Provider {
	case "brevo":
		if n.Brevo.APIKey == "" {
			errs = append(errs, "brevo provider requires BREVO_API_KEY")
		}
		if n.Brevo.SenderEmail == "" {
			errs = append(errs, "brevo provider requires SENDER_EMAIL")
		}
	case "smtp":
		if n.SMTP.Host == "" || n.SMTP.From == "" {
			errs = append(errs, "smtp provider requires host and from")
		}
	case "shoutrrr":
		if len(n.Shoutrrr.URLs) == 0 {
			errs = append(errs, "shoutrrr provider requires at least one URL")
		}
	}

	return joinErrs("Notification settings errors", errs)
}

func validateMonitorSettings(s *Settings) error {
	m := &s.Monitor
	if !m.Enabled {
		return nil
	}
	var errs []string

	if m.Interval < time.Second {
		errs = append(errs, "interval must be at least 1s")
	}
	if m.HysteresisPercent < 0 {
		errs = append(errs, "hysteresis_percent must not be negative")
	}
	for name, t := range map[string]ThresholdSettings{"cpu": m.CPU, "memory": m.Memory, "disk": m.Disk} {
		if !t.Enabled {
			continue
		}
		if t.Warning <= 0 || t.Critical > 100 || t.Warning > t.Critical {
			errs = append(errs, fmt.Sprintf("%s thresholds must satisfy 0 < warning <= critical <= 100", name))
		}
	}
	slices.Sort(errs)

	return joinErrs("Monitor settings errors", errs)
}

func validateBackupSettings(s *Settings) error {
	b := &s.Backup
	var errs []string

	if b.MaxBackups < 0 {
		errs = append(errs, "max_backups must not be negative")
	}
	if b.Enabled && b.Interval < time.Hour {
		errs = append(errs, "interval must be at least 1h")
	}
	if b.Enabled && !b.Local.Enabled && !b.FTP.Enabled && !b.SFTP.Enabled {
		errs = append(errs, "at least one backup target must be enabled")
	}
	if b.Local.Enabled && b.Local.Path == "" {
		errs = append(errs, "local path is required")
	}
	if b.FTP.Enabled && b.FTP.Host == "" {
		errs = append(errs, "ftp host is required")
	}
	if b.SFTP.Enabled {
		if b.SFTP.Host == "" || b.SFTP.Username == "" {
			errs = append(errs, "sftp host and username are required")
		}
		if b.SFTP.Password == "" && b.SFTP.KeyFile == "" {
			errs = append(errs, "sftp requires a password or key_file")
		}
	}

	return joinErrs("Backup settings errors", errs)
}

func joinErrs(prefix string, errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s: %v", prefix, errs)
}
