package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"default_level" mapstructure:"default_level"` // default log level for all modules
	Timezone     string            `yaml:"timezone" mapstructure:"timezone"`           // "Local", "UTC", or IANA name like "Africa/Nairobi"
	Console      *ConsoleOutput    `yaml:"console" mapstructure:"console"`             // console output configuration
	FileOutput   *FileOutput       `yaml:"file_output" mapstructure:"file_output"`     // file output configuration
	ModuleLevels map[string]string `yaml:"module_levels" mapstructure:"module_levels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
// Console output is text without timestamps; journald or Docker add their own.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" mapstructure:"level"`
}

// FileOutput represents file logging configuration. File output is JSON with RFC3339 timestamps.
// The file is rotated once it reaches MaxSizeMB.
type FileOutput struct {
	Enabled    bool   `yaml:"enabled" mapstructure:"enabled"`
	Path       string `yaml:"path" mapstructure:"path"`
	Level      string `yaml:"level" mapstructure:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`   // rotate after this many megabytes
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`   // rotated files to keep, 0 keeps all
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"` // 0 keeps rotated files regardless of age
	Compress   bool   `yaml:"compress" mapstructure:"compress"`         // gzip rotated files
}

// Default values for logging configuration.
const (
	DefaultLogLevel = "info"
	DefaultLogPath  = "logs/kinga.log"

	DefaultMaxSizeMB  = 100
	DefaultMaxBackups = 5
)

// applyConfigDefaults fills nil sections so a zero config still logs to the console.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true, Level: cfg.DefaultLevel}
	}
	if cfg.Console.Level == "" {
		cfg.Console.Level = cfg.DefaultLevel
	}
	if cfg.FileOutput != nil {
		if cfg.FileOutput.Path == "" {
			cfg.FileOutput.Path = DefaultLogPath
		}
		if cfg.FileOutput.Level == "" {
			cfg.FileOutput.Level = cfg.DefaultLevel
		}
		if cfg.FileOutput.MaxSizeMB <= 0 {
			cfg.FileOutput.MaxSizeMB = DefaultMaxSizeMB
		}
		if cfg.FileOutput.MaxBackups < 0 {
			cfg.FileOutput.MaxBackups = DefaultMaxBackups
		}
	}
}
