package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/kinga-app/kinga/internal/datastore"
	"github.com/kinga-app/kinga/internal/datastore/entities"
	"github.com/kinga-app/kinga/internal/errors"
)

const (
	sqliteSnapshotName = "kinga.db"
	jsonExportName     = "kinga.jsonl"

	exportBatchSize = 500
)

// DatabaseSource snapshots the Kinga database. SQLite databases are copied
// with VACUUM INTO; MySQL databases are exported as JSON lines, one row per
// line tagged with its table, in primary key order.
type DatabaseSource struct {
	db     *gorm.DB
	driver string
}

// NewDatabaseSource returns a Source for db opened with driver.
func NewDatabaseSource(db *gorm.DB, driver string) *DatabaseSource {
	return &DatabaseSource{db: db, driver: driver}
}

// Driver returns the database driver name.
func (s *DatabaseSource) Driver() string { return s.driver }

// Snapshot writes the database copy into dir.
func (s *DatabaseSource) Snapshot(ctx context.Context, dir string) (string, error) {
	switch s.driver {
	case datastore.DriverSQLite:
		return sqliteSnapshotName, s.vacuumInto(ctx, filepath.Join(dir, sqliteSnapshotName))
	case datastore.DriverMySQL:
		return jsonExportName, s.exportJSON(ctx, filepath.Join(dir, jsonExportName))
	default:
		return "", errors.Newf("backup not supported for database driver %q", s.driver).
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func (s *DatabaseSource) vacuumInto(ctx context.Context, path string) error {
	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?", path).Error; err != nil {
		return dbError(err, "vacuum_into")
	}
	return nil
}

// ExportRow is one line of a JSON export.
type ExportRow struct {
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}

func (s *DatabaseSource) exportJSON(ctx context.Context, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // path is inside our temp dir
	if err != nil {
		return ioError(err, "create_export", path)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)

	db := s.db.WithContext(ctx)
	err = errors.Join(
		exportTable[entities.User](db, enc, "users"),
		exportTable[entities.PestKnowledge](db, enc, "pests"),
		exportTable[entities.PredictionRecord](db.Omit("Pest"), enc, "predictions"),
	)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = ioError(cerr, "close_export", path)
	}
	return err
}

func exportTable[T any](db *gorm.DB, enc *json.Encoder, table string) error {
	var batch []T
	result := db.FindInBatches(&batch, exportBatchSize, func(_ *gorm.DB, _ int) error {
		for i := range batch {
			raw, err := json.Marshal(&batch[i])
			if err != nil {
				return err
			}
			if err := enc.Encode(ExportRow{Table: table, Row: raw}); err != nil {
				return err
			}
		}
		return nil
	})
	if result.Error != nil {
		return errors.New(result.Error).
			Component("backup").
			Category(errors.CategoryDatabase).
			Context("operation", "export").
			Context("table", table).
			Build()
	}
	return nil
}

func dbError(err error, op string) error {
	return errors.New(err).
		Component("backup").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}
