package conf

import "github.com/kinga-app/kinga/internal/logger"

// GetLogger returns the config package logger scoped to the config module.
// The logger is fetched from the global logger each time since configuration
// is loaded before the central logger exists.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
