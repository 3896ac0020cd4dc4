package main

import (
	"fmt"
	"os"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/datastore"
)

const maxBatchSize = 10000

// Config holds the configuration for the export tool.
type Config struct {
	// Source database
	SQLitePath string

	// Target database; empty fields are filled from config.yaml
	MySQL conf.MySQLSettings

	// Migration options
	BatchSize   int
	Clean       bool
	AutoMigrate bool
	SkipVerify  bool
	Verbose     bool

	// Config file path for fallback
	ConfigPath string
}

// Load fills missing connection details from the Kinga configuration
// (config.yaml, .env and environment) and validates the result.
func (c *Config) Load() error {
	settings, err := conf.Load(c.ConfigPath)
	if err != nil {
		return err
	}
	c.applyDefaults(&settings.Database)

	if c.SQLitePath == "" {
		return fmt.Errorf("--sqlite-path is required (or provide config.yaml)")
	}
	if _, err := os.Stat(c.SQLitePath); os.IsNotExist(err) {
		return fmt.Errorf("SQLite database not found: %s", c.SQLitePath)
	}
	if c.MySQL.Host == "" || c.MySQL.Database == "" {
		return fmt.Errorf("--mysql-host and --mysql-database are required (or provide config.yaml)")
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("batch-size must be at least 1")
	}
	if c.BatchSize > maxBatchSize {
		return fmt.Errorf("batch-size too large (max %d)", maxBatchSize)
	}

	return nil
}

// applyDefaults copies every connection setting not given as a flag.
func (c *Config) applyDefaults(db *conf.DatabaseSettings) {
	if c.SQLitePath == "" {
		c.SQLitePath = db.SQLite.Path
	}
	if c.MySQL.Host == "" {
		c.MySQL.Host = db.MySQL.Host
	}
	if c.MySQL.Port == 0 {
		c.MySQL.Port = db.MySQL.Port
	}
	if c.MySQL.Username == "" {
		c.MySQL.Username = db.MySQL.Username
	}
	if c.MySQL.Password == "" {
		c.MySQL.Password = db.MySQL.Password
	}
	if c.MySQL.Database == "" {
		c.MySQL.Database = db.MySQL.Database
	}
}

// SourceSettings returns the connection settings of the SQLite source.
func (c *Config) SourceSettings() *conf.DatabaseSettings {
	return &conf.DatabaseSettings{
		Driver:       datastore.DriverSQLite,
		SQLite:       conf.SQLiteSettings{Path: c.SQLitePath},
		MaxOpenConns: 1,
	}
}

// TargetSettings returns the connection settings of the MySQL target.
func (c *Config) TargetSettings() *conf.DatabaseSettings {
	return &conf.DatabaseSettings{
		Driver:       datastore.DriverMySQL,
		MySQL:        c.MySQL,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}
}

// SanitizedTarget describes the target without its password.
func (c *Config) SanitizedTarget() string {
	return fmt.Sprintf("%s:****@tcp(%s:%d)/%s", c.MySQL.Username, c.MySQL.Host, c.MySQL.Port, c.MySQL.Database)
}
