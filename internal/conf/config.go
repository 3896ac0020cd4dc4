// Package conf loads Kinga settings from defaults, an optional config.yaml,
// a .env file and environment variables, in increasing order of precedence.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
	"github.com/kinga-app/kinga/internal/secrets"
)

// WebServerSettings contains settings for the HTTP interface
type WebServerSettings struct {
	Listen          string            `mapstructure:"listen"`           // address to listen on, e.g. ":5000"
	MaxUploadMB     int               `mapstructure:"max_upload_mb"`    // request body limit for /predict
	ShutdownTimeout time.Duration     `mapstructure:"shutdown_timeout"` // graceful shutdown deadline
	CORSOrigins     []string          `mapstructure:"cors_origins"`     // allowed origins, "*" allows all
	RateLimit       RateLimitSettings `mapstructure:"rate_limit"`
	TLS             TLSSettings       `mapstructure:"tls"`
}

// TLSSettings selects how the API serves HTTPS
type TLSSettings struct {
	Mode     string   `mapstructure:"mode"` // "off", "manual" or "auto" (Let's Encrypt)
	CertFile string   `mapstructure:"cert_file"`
	KeyFile  string   `mapstructure:"key_file"`
	Hosts    []string `mapstructure:"hosts"`     // domains allowed to request certificates in auto mode
	CacheDir string   `mapstructure:"cache_dir"` // certificate cache in auto mode
}

// RateLimitSettings limits requests per client IP on the account routes
type RateLimitSettings struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"`  // requests per second
	Burst   int     `mapstructure:"burst"` // bucket size
}

// SQLiteSettings contains settings for the SQLite driver
type SQLiteSettings struct {
	Path string `mapstructure:"path"` // database file, ":memory:" for a throwaway database
}

// MySQLSettings contains settings for the MySQL driver
type MySQLSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// DatabaseSettings selects and configures the relational store
type DatabaseSettings struct {
	Driver             string         `mapstructure:"driver"` // "mysql" or "sqlite"
	SQLite             SQLiteSettings `mapstructure:"sqlite"`
	MySQL              MySQLSettings  `mapstructure:"mysql"`
	MaxOpenConns       int            `mapstructure:"max_open_conns"`
	MaxIdleConns       int            `mapstructure:"max_idle_conns"`
	ConnMaxLifetime    time.Duration  `mapstructure:"conn_max_lifetime"`
	SlowQueryThreshold time.Duration  `mapstructure:"slow_query_threshold"`
}

// ClassifierSettings configures the image classification model
type ClassifierSettings struct {
	ModelPath       string `mapstructure:"model_path"`
	LabelPath       string `mapstructure:"label_path"`
	Backend         string `mapstructure:"backend"`   // "auto", "tflite" or "onnx"
	Instances       int    `mapstructure:"instances"` // interpreter pool size, 0 = physical cores capped at 4
	Threads         int    `mapstructure:"threads"`   // threads per interpreter, 0 = automatic
	UseXNNPACK      bool   `mapstructure:"use_xnnpack"`
	ApplySoftmax    bool   `mapstructure:"apply_softmax"`
	ONNXLibraryPath string `mapstructure:"onnx_library_path"` // onnxruntime shared library
}

// PredictionSettings holds the confidence policy, in percent
type PredictionSettings struct {
	LowThreshold    float64 `mapstructure:"low_threshold"`    // below: "Unknown Object"
	UnsureThreshold float64 `mapstructure:"unsure_threshold"` // below: name suffixed with " (Unsure)"
}

// UploadSettings configures where uploaded images are written
type UploadSettings struct {
	Dir string `mapstructure:"dir"`
}

// AccountSettings configures credentials and one-time codes
type AccountSettings struct {
	BcryptCost       int           `mapstructure:"bcrypt_cost"`
	OTPTTL           time.Duration `mapstructure:"otp_ttl"`
	MaxLoginFailures int           `mapstructure:"max_login_failures"` // 0 disables lockout
	LockoutWindow    time.Duration `mapstructure:"lockout_window"`
}

// SecuritySettings configures optional bearer tokens
type SecuritySettings struct {
	RequireToken bool          `mapstructure:"require_token"` // guard /predict and /history
	JWTSecret    string        `mapstructure:"jwt_secret"`    // empty disables token issuance
	JWTTTL       time.Duration `mapstructure:"jwt_ttl"`
}

// BrevoSettings configures the Brevo transactional email API
type BrevoSettings struct {
	APIKey      string `mapstructure:"api_key"`
	SenderEmail string `mapstructure:"sender_email"`
	SenderName  string `mapstructure:"sender_name"`
	Endpoint    string `mapstructure:"endpoint"`
}

// SMTPSettings configures direct SMTP delivery
type SMTPSettings struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// ShoutrrrSettings configures generic notification URLs
type ShoutrrrSettings struct {
	URLs []string `mapstructure:"urls"`
}

// NotificationSettings selects how one-time codes are delivered
type NotificationSettings struct {
	Provider      string           `mapstructure:"provider"` // auto, brevo, smtp, shoutrrr or log
	Timeout       time.Duration    `mapstructure:"timeout"`
	MaxConcurrent int              `mapstructure:"max_concurrent"`
	Brevo         BrevoSettings    `mapstructure:"brevo"`
	SMTP          SMTPSettings     `mapstructure:"smtp"`
	Shoutrrr      ShoutrrrSettings `mapstructure:"shoutrrr"`
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	DSN         string  `mapstructure:"dsn"` // empty disables telemetry
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// MetricsSettings configures the Prometheus endpoint
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ThresholdSettings are usage percentages that raise alerts
type ThresholdSettings struct {
	Enabled  bool    `mapstructure:"enabled"`
	Warning  float64 `mapstructure:"warning"`
	Critical float64 `mapstructure:"critical"`
}

// MonitorSettings configures host resource monitoring
type MonitorSettings struct {
	Enabled           bool              `mapstructure:"enabled"`
	Interval          time.Duration     `mapstructure:"interval"`
	HysteresisPercent float64           `mapstructure:"hysteresis_percent"`
	CPU               ThresholdSettings `mapstructure:"cpu"`
	Memory            ThresholdSettings `mapstructure:"memory"`
	Disk              ThresholdSettings `mapstructure:"disk"` // upload dir and SQLite file
}

// LocalBackupSettings stores archives in a directory
type LocalBackupSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// FTPBackupSettings stores archives on an FTP server
type FTPBackupSettings struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Path     string        `mapstructure:"path"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SFTPBackupSettings stores archives on an SSH server
type SFTPBackupSettings struct {
	Enabled        bool          `mapstructure:"enabled"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	KeyFile        string        `mapstructure:"key_file"`
	KnownHostsFile string        `mapstructure:"known_hosts_file"` // empty uses ~/.ssh/known_hosts
	Path           string        `mapstructure:"path"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// BackupSettings configures database and upload backups
type BackupSettings struct {
	Enabled        bool                `mapstructure:"enabled"`  // scheduled backups while serving
	Interval       time.Duration       `mapstructure:"interval"` // time between scheduled backups
	MaxBackups     int                 `mapstructure:"max_backups"`
	IncludeUploads bool                `mapstructure:"include_uploads"`
	Local          LocalBackupSettings `mapstructure:"local"`
	FTP            FTPBackupSettings   `mapstructure:"ftp"`
	SFTP           SFTPBackupSettings  `mapstructure:"sftp"`
}

// Settings contains all configuration options for Kinga
type Settings struct {
	Debug bool `mapstructure:"debug"`

	Logging      logger.LoggingConfig `mapstructure:"logging"`
	WebServer    WebServerSettings    `mapstructure:"webserver"`
	Database     DatabaseSettings     `mapstructure:"database"`
	Classifier   ClassifierSettings   `mapstructure:"classifier"`
	Prediction   PredictionSettings   `mapstructure:"prediction"`
	Uploads      UploadSettings       `mapstructure:"uploads"`
	Account      AccountSettings      `mapstructure:"account"`
	Security     SecuritySettings     `mapstructure:"security"`
	Notification NotificationSettings `mapstructure:"notification"`
	Sentry       SentrySettings       `mapstructure:"sentry"`
	Metrics      MetricsSettings      `mapstructure:"metrics"`
	Monitor      MonitorSettings      `mapstructure:"monitor"`
	Backup       BackupSettings       `mapstructure:"backup"`
}

// Load reads configuration into a new Settings value. configFile may be empty,
// in which case config.yaml is searched in the default locations and a missing
// file is not an error.
func Load(configFile string) (*Settings, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := secrets.ResolveAll(settings.secretFields()); err != nil {
		return nil, err
	}

	if settings.Debug && settings.Logging.DefaultLevel != string(logger.LogLevelTrace) {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	return settings, nil
}

// secretFields lists the credentials that may be given as "file:/path" or
// with ${VAR} references.
func (s *Settings) secretFields() map[string]*string {
	return map[string]*string{
		"database.mysql.password":    &s.Database.MySQL.Password,
		"security.jwt_secret":        &s.Security.JWTSecret,
		"notification.brevo.api_key": &s.Notification.Brevo.APIKey,
		"notification.smtp.password": &s.Notification.SMTP.Password,
		"sentry.dsn":                 &s.Sentry.DSN,
		"backup.ftp.password":        &s.Backup.FTP.Password,
		"backup.sftp.password":       &s.Backup.SFTP.Password,
	}
}

// initViper registers defaults and environment bindings and reads the config file.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
		GetLogger().Debug("config file loaded", logger.String("path", configFile))
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// defaults and environment are enough to run
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	GetLogger().Debug("config file loaded", logger.String("path", viper.ConfigFileUsed()))
	return nil
}

// loadDotEnv loads KEY=value pairs from path into the process environment.
// Variables that are already set win over the file.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	if err := godotenv.Load(path); err != nil {
		return errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("path", path).
			Build()
	}
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "kinga"))
	}
	return append(paths, "/etc/kinga")
}

// MySQLDSN returns the go-sql-driver DSN for the MySQL settings
func (d *DatabaseSettings) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.MySQL.Username, d.MySQL.Password, d.MySQL.Host, d.MySQL.Port, d.MySQL.Database)
}
