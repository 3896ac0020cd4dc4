package testutil

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/datastore"
	"github.com/kinga-app/kinga/internal/logger"
)

// DiscardLogger returns a logger that drops everything below error and writes nothing.
func DiscardLogger() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

// OpenTestDB opens a migrated in-memory SQLite database that is closed when t ends.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	m, err := datastore.Open(t.Context(), &conf.DatabaseSettings{
		Driver: datastore.DriverSQLite,
		SQLite: conf.SQLiteSettings{Path: ":memory:"},
	}, DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, m.Migrate(t.Context()))
	return m.DB()
}
