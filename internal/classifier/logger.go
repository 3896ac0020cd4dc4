package classifier

import (
	"sync"

	"github.com/kinga-app/kinga/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the classifier package logger scoped to the classifier module.
// Uses sync.Once to ensure the logger is only initialized once.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("classifier")
	})
	return serviceLogger
}
