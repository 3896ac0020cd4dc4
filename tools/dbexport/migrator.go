package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kinga-app/kinga/internal/datastore/entities"
)

// Migrator copies Kinga tables from one database to another.
type Migrator struct {
	cfg      Config
	sourceDB *gorm.DB
	targetDB *gorm.DB
	out      io.Writer
}

// MigrationStats tracks migration statistics.
type MigrationStats struct {
	StartTime time.Time
	EndTime   time.Time
	Tables    []TableStats
}

// TableStats tracks per-table migration statistics.
type TableStats struct {
	Name      string
	Migrated  int64
	Skipped   int64
	Errors    int64
	Duration  time.Duration
	BatchSize int
}

// Print outputs the migration statistics.
func (s *MigrationStats) Print(w io.Writer) {
	fmt.Fprintln(w, "\n=== Migration Summary ===")
	fmt.Fprintf(w, "Duration: %s\n\n", s.EndTime.Sub(s.StartTime).Round(time.Millisecond))

	fmt.Fprintf(w, "%-15s %10s %10s %10s %12s\n", "Table", "Migrated", "Skipped", "Errors", "Duration")
	fmt.Fprintln(w, strings.Repeat("-", 61))

	var totalMigrated, totalSkipped, totalErrors int64
	for _, t := range s.Tables {
		fmt.Fprintf(w, "%-15s %10d %10d %10d %12s\n",
			t.Name, t.Migrated, t.Skipped, t.Errors, t.Duration.Round(time.Millisecond))
		totalMigrated += t.Migrated
		totalSkipped += t.Skipped
		totalErrors += t.Errors
	}

	fmt.Fprintln(w, strings.Repeat("-", 61))
	fmt.Fprintf(w, "%-15s %10d %10d %10d\n", "TOTAL", totalMigrated, totalSkipped, totalErrors)
}

// copyOrder lists the tables parents first so foreign keys resolve.
var copyOrder = []string{"users", "pests", "predictions"}

// NewMigrator creates a Migrator over two open connections.
func NewMigrator(cfg *Config, sourceDB, targetDB *gorm.DB, out io.Writer) *Migrator {
	return &Migrator{cfg: *cfg, sourceDB: sourceDB, targetDB: targetDB, out: out}
}

// Run executes the full migration.
func (m *Migrator) Run(ctx context.Context) (*MigrationStats, error) {
	stats := &MigrationStats{StartTime: time.Now()}
	target := m.targetDB.WithContext(ctx)

	if m.cfg.AutoMigrate {
		fmt.Fprintln(m.out, "Creating tables in target database...")
		if err := target.AutoMigrate(entities.All()...); err != nil {
			return nil, fmt.Errorf("failed to auto-migrate tables: %w", err)
		}
	}

	if isMySQL(target) {
		if err := target.Exec("SET FOREIGN_KEY_CHECKS=0").Error; err != nil {
			return nil, fmt.Errorf("failed to disable foreign key checks: %w", err)
		}
		defer target.Exec("SET FOREIGN_KEY_CHECKS=1")
		fmt.Fprintln(m.out, "Foreign key checks disabled")
	}

	if m.cfg.Clean {
		if err := m.cleanTables(target); err != nil {
			return nil, fmt.Errorf("failed to clean tables: %w", err)
		}
	}

	tables := []struct {
		name    string
		migrate func(context.Context, int) (*TableStats, error)
	}{
		{"users", func(ctx context.Context, n int) (*TableStats, error) {
			return migrateTable[entities.User](ctx, m, "users", n)
		}},
		{"pests", func(ctx context.Context, n int) (*TableStats, error) {
			return migrateTable[entities.PestKnowledge](ctx, m, "pests", n)
		}},
		{"predictions", func(ctx context.Context, n int) (*TableStats, error) {
			return migrateTable[entities.PredictionRecord](ctx, m, "predictions", n)
		}},
	}

	for _, t := range tables {
		tableStats, err := t.migrate(ctx, m.cfg.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("failed to migrate %s: %w", t.name, err)
		}
		stats.Tables = append(stats.Tables, *tableStats)
	}

	stats.EndTime = time.Now()
	return stats, nil
}

// cleanTables deletes all target rows, children first.
func (m *Migrator) cleanTables(target *gorm.DB) error {
	fmt.Fprintln(m.out, "Cleaning target tables...")
	for i := len(copyOrder) - 1; i >= 0; i-- {
		table := copyOrder[i]
		if err := target.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("could not clean table %s: %w", table, err)
		}
		if m.cfg.Verbose {
			fmt.Fprintf(m.out, "  Cleaned: %s\n", table)
		}
	}
	return nil
}

// migrateTable copies one table in batches. Rows whose primary key exists in
// the target are skipped; a failing batch is counted and the copy continues.
func migrateTable[T any](ctx context.Context, m *Migrator, tableName string, batchSize int) (*TableStats, error) {
	start := time.Now()
	stats := &TableStats{Name: tableName, BatchSize: batchSize}

	fmt.Fprintf(m.out, "Migrating %s...\n", tableName)

	source := m.sourceDB.WithContext(ctx)
	target := m.targetDB.WithContext(ctx)

	var sourceCount int64
	if err := source.Model(new(T)).Count(&sourceCount).Error; err != nil {
		return stats, fmt.Errorf("failed to count source records: %w", err)
	}
	if sourceCount == 0 {
		fmt.Fprintf(m.out, "  %s: no records to migrate\n", tableName)
		stats.Duration = time.Since(start)
		return stats, nil
	}

	var processed int64
	batchNum := 0
	err := source.Model(new(T)).FindInBatches(new([]T), batchSize, func(tx *gorm.DB, _ int) error {
		batchNum++
		records := tx.Statement.Dest.(*[]T)

		// associations are copied as their own tables
		result := target.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(records)
		if result.Error != nil {
			stats.Errors += int64(len(*records))
			fmt.Fprintf(m.out, "  Batch %d error: %v\n", batchNum, result.Error)
			return nil //nolint:nilerr // continue with the next batch
		}

		stats.Migrated += result.RowsAffected
		stats.Skipped += int64(len(*records)) - result.RowsAffected
		processed += int64(len(*records))

		if m.cfg.Verbose || batchNum%10 == 0 {
			fmt.Fprintf(m.out, "  %s: %d/%d (%.1f%%)\n", tableName, processed, sourceCount,
				float64(processed)/float64(sourceCount)*100)
		}
		return nil
	}).Error
	if err != nil {
		return stats, err
	}

	stats.Duration = time.Since(start)
	fmt.Fprintf(m.out, "  %s: completed (%d migrated, %d skipped, %d errors) in %s\n",
		tableName, stats.Migrated, stats.Skipped, stats.Errors, stats.Duration.Round(time.Millisecond))
	return stats, nil
}

func isMySQL(db *gorm.DB) bool {
	return db.Dialector != nil && db.Dialector.Name() == "mysql"
}
