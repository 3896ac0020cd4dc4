package observability

import (
	"sync"

	"github.com/kinga-app/kinga/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the observability package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("observability")
	})
	return serviceLogger
}
