// env.go - Environment variable configuration and validation for Kinga
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kinga-app/kinga/internal/secrets"
)

// EnvPrefix is the prefix of automatically mapped variables, e.g. KINGA_WEBSERVER_LISTEN
const EnvPrefix = "KINGA"

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		// Database variables keep the names used by existing deployments
		{"database.mysql.host", "DB_HOST", nil},
		{"database.mysql.username", "DB_USER", nil},
		{"database.mysql.password", "DB_PASS", nil},
		{"database.mysql.database", "DB_NAME", nil},
		{"database.mysql.port", "DB_PORT", validateEnvPort},
		{"database.driver", "KINGA_DATABASE_DRIVER", validateEnvDriver},
		{"database.sqlite.path", "KINGA_SQLITE_PATH", nil},

		// Email delivery
		{"notification.brevo.api_key", "BREVO_API_KEY", nil},
		{"notification.brevo.sender_email", "SENDER_EMAIL", validateEnvEmail},
		{"notification.provider", "KINGA_NOTIFICATION_PROVIDER", validateEnvProvider},

		// Model and storage paths
		{"classifier.model_path", "KINGA_MODEL_PATH", nil},
		{"classifier.label_path", "KINGA_LABEL_PATH", nil},
		{"classifier.onnx_library_path", "KINGA_ONNX_LIBRARY_PATH", nil},
		{"classifier.threads", "KINGA_CLASSIFIER_THREADS", validateEnvNonNegativeInt},
		{"uploads.dir", "KINGA_UPLOAD_DIR", nil},

		// Server and security
		{"webserver.listen", "KINGA_LISTEN", nil},
		{"security.jwt_secret", "KINGA_JWT_SECRET", nil},
		{"security.require_token", "KINGA_REQUIRE_TOKEN", validateEnvBool},
		{"account.otp_ttl", "KINGA_OTP_TTL", validateEnvDuration},
		{"sentry.dsn", "KINGA_SENTRY_DSN", validateEnvURL},
		{"debug", "KINGA_DEBUG", validateEnvBool},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value: %v", binding.EnvVar, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f", value)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("must be non-negative, got %d", n)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}
	return nil
}

func validateEnvDriver(value string) error {
	return oneOf(value, validDrivers)
}

func validateEnvProvider(value string) error {
	return oneOf(value, validProviders)
}

func validateEnvEmail(value string) error {
	if !strings.Contains(value, "@") {
		return fmt.Errorf("'%s' is not an email address", value)
	}
	return nil
}

// validateEnvURL checks the value parses as an absolute URL without echoing it,
// since DSNs carry credentials. Secret references are checked after they are
// resolved.
func validateEnvURL(value string) error {
	if strings.HasPrefix(value, secrets.FilePrefix) || strings.Contains(value, "${") {
		return nil
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func oneOf(value string, valid []string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("must be one of: %s", strings.Join(valid, ", "))
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	// KINGA_<SECTION>_<KEY> maps onto every key with a default
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return bindEnvVars()
}
