// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
// Every key that may come from the environment needs a default here,
// otherwise viper.Unmarshal does not see it.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/kinga.log")
	viper.SetDefault("logging.file_output.level", "")
	viper.SetDefault("logging.file_output.max_size_mb", 100)
	viper.SetDefault("logging.file_output.max_backups", 5)
	viper.SetDefault("logging.file_output.max_age_days", 30)
	viper.SetDefault("logging.file_output.compress", true)

	viper.SetDefault("webserver.listen", ":5000")
	viper.SetDefault("webserver.max_upload_mb", 10)
	viper.SetDefault("webserver.shutdown_timeout", 10*time.Second)
	viper.SetDefault("webserver.cors_origins", []string{"*"})
	viper.SetDefault("webserver.rate_limit.enabled", true)
	viper.SetDefault("webserver.rate_limit.rate", 1.0)
	viper.SetDefault("webserver.rate_limit.burst", 10)
	viper.SetDefault("webserver.tls.mode", "off")
	viper.SetDefault("webserver.tls.cache_dir", "data/autocert")

	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.sqlite.path", "kinga.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", 3306)
	viper.SetDefault("database.mysql.username", "kinga_user")
	viper.SetDefault("database.mysql.password", "kinga123")
	viper.SetDefault("database.mysql.database", "kinga_db")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Hour)
	viper.SetDefault("database.slow_query_threshold", 200*time.Millisecond)

	viper.SetDefault("classifier.model_path", "pest_model.tflite")
	viper.SetDefault("classifier.label_path", "class_names.txt")
	viper.SetDefault("classifier.backend", "auto")
	viper.SetDefault("classifier.instances", 0)
	viper.SetDefault("classifier.threads", 0)
	viper.SetDefault("classifier.use_xnnpack", true)
	viper.SetDefault("classifier.apply_softmax", true)
	viper.SetDefault("classifier.onnx_library_path", "")

	viper.SetDefault("prediction.low_threshold", 50.0)
	viper.SetDefault("prediction.unsure_threshold", 70.0)

	viper.SetDefault("uploads.dir", "static/uploads")

	viper.SetDefault("account.bcrypt_cost", 12)
	viper.SetDefault("account.otp_ttl", 10*time.Minute)
	viper.SetDefault("account.max_login_failures", 5)
	viper.SetDefault("account.lockout_window", 15*time.Minute)

	viper.SetDefault("security.require_token", false)
	viper.SetDefault("security.jwt_secret", "")
	viper.SetDefault("security.jwt_ttl", 24*time.Hour)

	viper.SetDefault("notification.provider", "auto")
	viper.SetDefault("notification.timeout", 15*time.Second)
	viper.SetDefault("notification.max_concurrent", 16)
	viper.SetDefault("notification.brevo.api_key", "")
	viper.SetDefault("notification.brevo.sender_email", "")
	viper.SetDefault("notification.brevo.sender_name", "Kinga App")
	viper.SetDefault("notification.brevo.endpoint", "https://api.brevo.com/v3/smtp/email")
	viper.SetDefault("notification.smtp.host", "")
	viper.SetDefault("notification.smtp.port", 587)
	viper.SetDefault("notification.smtp.username", "")
	viper.SetDefault("notification.smtp.password", "")
	viper.SetDefault("notification.smtp.from", "")
	viper.SetDefault("notification.shoutrrr.urls", []string{})

	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.sample_rate", 1.0)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval", time.Minute)
	viper.SetDefault("monitor.hysteresis_percent", 5.0)
	viper.SetDefault("monitor.cpu.enabled", false)
	viper.SetDefault("monitor.cpu.warning", 85.0)
	viper.SetDefault("monitor.cpu.critical", 95.0)
	viper.SetDefault("monitor.memory.enabled", true)
	viper.SetDefault("monitor.memory.warning", 85.0)
	viper.SetDefault("monitor.memory.critical", 95.0)
	viper.SetDefault("monitor.disk.enabled", true)
	viper.SetDefault("monitor.disk.warning", 85.0)
	viper.SetDefault("monitor.disk.critical", 95.0)

	viper.SetDefault("backup.enabled", false)
	viper.SetDefault("backup.interval", 24*time.Hour)
	viper.SetDefault("backup.max_backups", 7)
	viper.SetDefault("backup.include_uploads", true)
	viper.SetDefault("backup.local.enabled", true)
	viper.SetDefault("backup.local.path", "backups")
	viper.SetDefault("backup.ftp.enabled", false)
	viper.SetDefault("backup.ftp.host", "")
	viper.SetDefault("backup.ftp.port", 21)
	viper.SetDefault("backup.ftp.username", "")
	viper.SetDefault("backup.ftp.password", "")
	viper.SetDefault("backup.ftp.path", "kinga-backups")
	viper.SetDefault("backup.ftp.timeout", 30*time.Second)
	viper.SetDefault("backup.sftp.enabled", false)
	viper.SetDefault("backup.sftp.host", "")
	viper.SetDefault("backup.sftp.port", 22)
	viper.SetDefault("backup.sftp.username", "")
	viper.SetDefault("backup.sftp.password", "")
	viper.SetDefault("backup.sftp.key_file", "")
	viper.SetDefault("backup.sftp.known_hosts_file", "")
	viper.SetDefault("backup.sftp.path", "kinga-backups")
	viper.SetDefault("backup.sftp.timeout", 30*time.Second)
}
