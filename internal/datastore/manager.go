package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/datastore/entities"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	memoryDSN = ":memory:"
)

// Manager owns the database connection.
type Manager struct {
	db       *gorm.DB
	driver   string
	location string // file path for SQLite, host:port/database for MySQL
	log      logger.Logger
}

// Open connects to the configured database and verifies the connection.
// The schema is not touched; call Migrate for that.
func Open(ctx context.Context, cfg *conf.DatabaseSettings, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = GetLogger()
	}

	var (
		dialector gorm.Dialector
		location  string
	)
	switch cfg.Driver {
	case DriverMySQL:
		dialector = mysql.Open(cfg.MySQLDSN())
		location = fmt.Sprintf("%s:%d/%s", cfg.MySQL.Host, cfg.MySQL.Port, cfg.MySQL.Database)
	case DriverSQLite:
		if err := ensureSQLiteDir(cfg.SQLite.Path); err != nil {
			return nil, err
		}
		// Build DSN with recommended SQLite pragmas
		dialector = sqlite.Open(cfg.SQLite.Path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON")
		location = cfg.SQLite.Path
	default:
		return nil, errors.Newf("unsupported database driver %q", cfg.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	start := time.Now()
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.NewGormLoggerAdapter(log, cfg.SlowQueryThreshold),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("driver", cfg.Driver).
			Context("operation", "open").
			Build()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying database: %w", err)
	}

	// every connection to :memory: is a separate database
	if cfg.Driver == DriverSQLite && cfg.SQLite.Path == memoryDSN {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("driver", cfg.Driver).
			Context("operation", "ping").
			Timing("connect", time.Since(start)).
			Build()
	}

	log.Info("database connected",
		logger.String("driver", cfg.Driver),
		logger.String("location", location),
		logger.Duration("took", time.Since(start)))

	return &Manager{db: db, driver: cfg.Driver, location: location, log: log}, nil
}

// Migrate creates or updates the users, pests and predictions tables.
func (m *Manager) Migrate(ctx context.Context) error {
	if err := m.db.WithContext(ctx).AutoMigrate(entities.All()...); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "migrate").
			Build()
	}
	m.log.Debug("schema migrated", logger.String("driver", m.driver))
	return nil
}

// Ping verifies the database is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB returns the underlying GORM database.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Driver returns "mysql" or "sqlite".
func (m *Manager) Driver() string {
	return m.driver
}

// Location returns the database location for display.
func (m *Manager) Location() string {
	return m.location
}

// Close closes the database connection.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}

func ensureSQLiteDir(path string) error {
	if path == memoryDSN {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("path", dir).
			Build()
	}
	return nil
}
