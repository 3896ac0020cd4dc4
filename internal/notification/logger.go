package notification

import (
	"sync"

	"github.com/kinga-app/kinga/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the notification package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("notification")
	})
	return serviceLogger
}
