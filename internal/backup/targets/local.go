package targets

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kinga-app/kinga/internal/backup"
	"github.com/kinga-app/kinga/internal/errors"
)

// LocalTarget keeps archives in a directory. Archives are written under a
// temporary name and renamed into place.
type LocalTarget struct {
	dir string
}

// NewLocalTarget creates dir if needed.
func NewLocalTarget(dir string) (*LocalTarget, error) {
	if dir == "" {
		return nil, errors.Newf("local backup path is empty").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, targetError(err, "local", "resolve")
	}
	if err := os.MkdirAll(abs, dirPermissions); err != nil {
		return nil, targetError(err, "local", "mkdir")
	}
	return &LocalTarget{dir: abs}, nil
}

func (t *LocalTarget) Name() string { return "local" }

// Dir returns the absolute backup directory.
func (t *LocalTarget) Dir() string { return t.dir }

func (t *LocalTarget) Store(ctx context.Context, archivePath string, meta *backup.Metadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := openArchive(archivePath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := filepath.Join(t.dir, tempName())
	dst, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePermissions) //nolint:gosec // tmp is inside the backup dir
	if err != nil {
		return targetError(err, t.Name(), "create")
	}
	if err := copyTo(dst, src, meta.Size); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return targetError(err, t.Name(), "write")
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		_ = os.Remove(tmp)
		return targetError(err, t.Name(), "sync")
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return targetError(err, t.Name(), "close")
	}
	if err := os.Rename(tmp, filepath.Join(t.dir, meta.FileName())); err != nil {
		_ = os.Remove(tmp)
		return targetError(err, t.Name(), "rename")
	}
	return nil
}

func (t *LocalTarget) List(ctx context.Context) ([]backup.Info, error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, targetError(err, t.Name(), "list")
	}
	var infos []backup.Info
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if info, ok := backupInfo(t.Name(), e.Name(), fi.Size()); ok {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (t *LocalTarget) Delete(_ context.Context, id string) error {
	name, err := archiveName(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(t.dir, name)); err != nil {
		return targetError(err, t.Name(), "delete")
	}
	return nil
}
