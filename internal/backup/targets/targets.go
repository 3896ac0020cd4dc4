// Package targets implements backup storage on the local filesystem and on
// FTP and SFTP servers.
package targets

import (
	"io"
	"os"
	"time"

	"github.com/kinga-app/kinga/internal/backup"
	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
)

const (
	dirPermissions  = 0o700
	filePermissions = 0o600

	// tempPrefix marks partial uploads; List ignores them.
	tempPrefix = ".partial-"
)

// FromSettings builds every enabled target.
func FromSettings(s *conf.BackupSettings) ([]backup.Target, error) {
	var targets []backup.Target
	if s.Local.Enabled {
		t, err := NewLocalTarget(s.Local.Path)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if s.FTP.Enabled {
		t, err := NewFTPTarget(&s.FTP)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if s.SFTP.Enabled {
		t, err := NewSFTPTarget(&s.SFTP)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// backupInfo turns a directory entry into a backup listing. ok is false for
// anything that is not a finished archive.
func backupInfo(target, name string, size int64) (backup.Info, bool) {
	id, created, ok := backup.ParseArchiveName(name)
	if !ok {
		return backup.Info{}, false
	}
	return backup.Info{ID: id, Target: target, CreatedAt: created, Size: size}, true
}

// archiveName validates id and returns its archive file name.
func archiveName(id string) (string, error) {
	name := backup.ArchivePrefix + id + backup.ArchiveExt
	if _, _, ok := backup.ParseArchiveName(name); !ok {
		return "", errors.Newf("invalid backup id %q", id).
			Component("backup").
			Category(errors.CategoryValidation).
			Build()
	}
	return name, nil
}

func openArchive(path string) (*os.File, error) {
	f, err := os.Open(path) //nolint:gosec // archive path is produced by the backup manager
	if err != nil {
		return nil, targetError(err, "local", "open_archive")
	}
	return f, nil
}

func tempName() string {
	return tempPrefix + time.Now().UTC().Format("20060102150405.000000000")
}

// copyTo copies r into w and reports the written byte count as an error
// when it does not match size.
func copyTo(w io.Writer, r io.Reader, size int64) error {
	n, err := io.Copy(w, r)
	if err != nil {
		return err
	}
	if size > 0 && n != size {
		return errors.Newf("short write: %d of %d bytes", n, size).Build()
	}
	return nil
}

func targetError(err error, target, op string) error {
	category := errors.CategoryFileIO
	if target != "local" {
		category = errors.CategoryNetwork
	}
	return errors.New(err).
		Component("backup").
		Category(category).
		Context("target", target).
		Context("operation", op).
		Build()
}
