// Package backup archives the Kinga database and upload directory and
// stores the archives on one or more targets with count based retention.
package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
	"github.com/kinga-app/kinga/internal/observability/metrics"
)

// GetLogger returns the module logger for backups
func GetLogger() logger.Logger {
	return logger.Global().Module("backup")
}

const (
	// ArchivePrefix and ArchiveExt frame every archive name; targets use
	// them to recognise backups among other files.
	ArchivePrefix = "kinga-backup-"
	ArchiveExt    = ".tar.gz"

	idLayout = "20060102-150405"
)

// Metadata describes one archive. It is stored inside the archive as
// metadata.json.
type Metadata struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Version   string    `json:"version"`
	Driver    string    `json:"driver"`
	Database  string    `json:"database"` // archive member holding the database
	Uploads   int       `json:"uploads"`
	Size      int64     `json:"size,omitempty"`
	Checksum  string    `json:"checksum,omitempty"` // sha256 of the archive
}

// FileName returns the archive file name for m.
func (m *Metadata) FileName() string {
	return ArchivePrefix + m.ID + ArchiveExt
}

// Info is a backup as listed by a target.
type Info struct {
	ID        string
	Target    string
	CreatedAt time.Time
	Size      int64
}

// Target stores archives.
type Target interface {
	Name() string
	Store(ctx context.Context, archivePath string, meta *Metadata) error
	List(ctx context.Context) ([]Info, error)
	Delete(ctx context.Context, id string) error
}

// Source writes a consistent copy of the database into dir and returns the
// file name it wrote.
type Source interface {
	Driver() string
	Snapshot(ctx context.Context, dir string) (string, error)
}

// ParseArchiveName returns the backup id and time encoded in an archive
// file name.
func ParseArchiveName(name string) (string, time.Time, bool) {
	if !strings.HasPrefix(name, ArchivePrefix) || !strings.HasSuffix(name, ArchiveExt) {
		return "", time.Time{}, false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, ArchivePrefix), ArchiveExt)
	created, err := time.ParseInLocation(idLayout, id, time.UTC)
	if err != nil {
		return "", time.Time{}, false
	}
	return id, created, true
}

// Config controls a Manager.
type Config struct {
	Version    string
	UploadDir  string // empty skips uploads
	MaxBackups int    // per target, 0 keeps everything
}

// Manager creates archives and distributes them to targets.
type Manager struct {
	config   Config
	source   Source
	targets  []Target
	recorder metrics.Recorder
	now      func() time.Time
	log      logger.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithClock overrides the time source for backup ids.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager. At least one target is required.
func NewManager(cfg Config, source Source, targets []Target, opts ...Option) (*Manager, error) {
	if len(targets) == 0 {
		return nil, errors.Newf("no backup targets configured").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	m := &Manager{
		config:   cfg,
		source:   source,
		targets:  targets,
		recorder: metrics.NoOpRecorder{},
		now:      time.Now,
		log:      GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run creates one archive, stores it on every target and applies retention.
// The archive counts as made when at least one target stored it; failures
// on the other targets are returned joined with the metadata.
func (m *Manager) Run(ctx context.Context) (*Metadata, error) {
	start := time.Now()
	meta, err := m.run(ctx)
	m.recorder.RecordDuration(metrics.OpBackup, time.Since(start).Seconds())
	if err != nil {
		m.recorder.RecordOperation(metrics.OpBackup, metrics.StatusError)
		m.recorder.RecordError(metrics.OpBackup, string(errors.CategoryOf(err)))
		return meta, err
	}
	m.recorder.RecordOperation(metrics.OpBackup, metrics.StatusSuccess)
	return meta, nil
}

func (m *Manager) run(ctx context.Context) (*Metadata, error) {
	created := m.now().UTC().Truncate(time.Second)
	meta := &Metadata{
		ID:        created.Format(idLayout),
		CreatedAt: created,
		Version:   m.config.Version,
		Driver:    m.source.Driver(),
	}

	workDir, err := os.MkdirTemp("", "kinga-backup-*")
	if err != nil {
		return nil, ioError(err, "create_temp_dir", "")
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			m.log.Warn("Failed to remove backup work directory", logger.String("path", workDir), logger.Error(err))
		}
	}()

	dbFile, err := m.source.Snapshot(ctx, workDir)
	if err != nil {
		return nil, err
	}
	meta.Database = "database/" + dbFile

	archivePath := filepath.Join(workDir, meta.FileName())
	if err := writeArchive(ctx, archivePath, filepath.Join(workDir, dbFile), m.config.UploadDir, meta); err != nil {
		return nil, err
	}
	if err := fillChecksum(archivePath, meta); err != nil {
		return nil, err
	}

	m.log.Info("Backup archive created",
		logger.String("id", meta.ID),
		logger.String("driver", meta.Driver),
		logger.Int("uploads", meta.Uploads),
		logger.Int64("size", meta.Size))

	var (
		stored int
		errs   []error
	)
	for _, t := range m.targets {
		if err := t.Store(ctx, archivePath, meta); err != nil {
			m.log.Error("Failed to store backup", logger.String("target", t.Name()), logger.Error(err))
			errs = append(errs, err)
			continue
		}
		stored++
		m.log.Info("Backup stored", logger.String("target", t.Name()), logger.String("id", meta.ID))

		if err := m.enforceRetention(ctx, t); err != nil {
			m.log.Warn("Failed to apply backup retention", logger.String("target", t.Name()), logger.Error(err))
			errs = append(errs, err)
		}
	}

	if stored == 0 {
		return nil, errors.Join(errs...)
	}
	return meta, errors.Join(errs...)
}

// List returns the backups on every target, newest first.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	var (
		all  []Info
		errs []error
	)
	for _, t := range m.targets {
		infos, err := t.List(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, infos...)
	}
	sortNewestFirst(all)
	return all, errors.Join(errs...)
}

// enforceRetention deletes the oldest backups beyond MaxBackups on t.
func (m *Manager) enforceRetention(ctx context.Context, t Target) error {
	if m.config.MaxBackups <= 0 {
		return nil
	}
	infos, err := t.List(ctx)
	if err != nil {
		return err
	}
	sortNewestFirst(infos)
	if len(infos) <= m.config.MaxBackups {
		return nil
	}

	var errs []error
	for _, info := range infos[m.config.MaxBackups:] {
		if err := t.Delete(ctx, info.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		m.log.Info("Old backup deleted", logger.String("target", t.Name()), logger.String("id", info.ID))
	}
	return errors.Join(errs...)
}

func sortNewestFirst(infos []Info) {
	slices.SortStableFunc(infos, func(a, b Info) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

func fillChecksum(path string, meta *Metadata) error {
	f, err := os.Open(path) //nolint:gosec // archive path is inside our temp dir
	if err != nil {
		return ioError(err, "open_archive", path)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return ioError(err, "checksum", path)
	}
	meta.Size = n
	meta.Checksum = hex.EncodeToString(h.Sum(nil))
	return nil
}

func ioError(err error, op, path string) error {
	b := errors.New(err).
		Component("backup").
		Category(errors.CategoryFileIO).
		Context("operation", op)
	if path != "" {
		b = b.Context("path", path)
	}
	return b.Build()
}

// Schedule runs a backup every interval until ctx ends. Failures are logged
// and the next run goes ahead as planned.
func (m *Manager) Schedule(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("Scheduled backups enabled",
		logger.Duration("interval", interval),
		logger.Int("targets", len(m.targets)))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Run(ctx); err != nil && ctx.Err() == nil {
				m.log.Error("Scheduled backup failed", logger.Error(err))
			}
		}
	}
}
