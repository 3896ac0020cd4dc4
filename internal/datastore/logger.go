// Package datastore opens and migrates the relational store used by Kinga.
package datastore

import (
	"sync"

	"github.com/kinga-app/kinga/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("datastore")
	})
	return serviceLogger
}
