// Package uploads stores images posted to /predict and serves them back
// read-only. All file access goes through an os.Root so a crafted filename
// cannot escape the upload directory.
package uploads

import (
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"

	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

// fallbackName is used when nothing of the client filename survives sanitizing.
const fallbackName = "upload"

var (
	loggerOnce sync.Once
	pkgLogger  logger.Logger
)

func GetLogger() logger.Logger {
	loggerOnce.Do(func() {
		pkgLogger = logger.Global().Module("uploads")
	})
	return pkgLogger
}

// Store writes uploads into one flat directory. Files with the same
// sanitized name overwrite each other.
type Store struct {
	dir  string
	root *os.Root
}

// New creates dir if needed and opens it as the store root.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, storeError(err, dir, "resolve")
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, storeError(err, abs, "mkdir")
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, storeError(err, abs, "open_root")
	}
	return &Store{dir: abs, root: root}, nil
}

// Dir returns the absolute upload directory.
func (s *Store) Dir() string { return s.dir }

// Path returns where name is stored on disk.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

// Save writes r under the sanitized form of name and returns that name.
func (s *Store) Save(name string, r io.Reader) (string, error) {
	stored := SanitizeFilename(name)

	f, err := s.root.OpenFile(stored, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return "", storeError(err, stored, "open")
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", storeError(err, stored, "write")
	}
	if err := f.Close(); err != nil {
		return "", storeError(err, stored, "close")
	}

	GetLogger().Debug("upload saved", logger.String("name", stored))
	return stored, nil
}

// Serve writes the stored file name to the response. Only regular files
// directly inside the store are served.
func (s *Store) Serve(c echo.Context, name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}

	f, err := s.root.Open(name)
	if err != nil {
		return openErrorToHTTP(err, name)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get file info").SetInternal(err)
	}
	if !stat.Mode().IsRegular() {
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	}

	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		c.Response().Header().Set(echo.HeaderContentType, ct)
	} else {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMEOctetStream)
	}
	c.Response().Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(c.Response(), c.Request(), name, stat.ModTime(), f)
	return nil
}

// Close releases the directory handle.
func (s *Store) Close() error {
	return s.root.Close()
}

func openErrorToHTTP(err error, name string) *echo.HTTPError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return echo.NewHTTPError(http.StatusNotFound, "File not found")
	case errors.Is(err, fs.ErrPermission):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	default:
		// os.Root rejects paths escaping the directory with a plain error.
		GetLogger().Warn("refused to serve upload", logger.String("name", name), logger.Error(err))
		return echo.NewHTTPError(http.StatusNotFound, "File not found").SetInternal(err)
	}
}

func storeError(err error, path, op string) error {
	return errors.New(err).
		Component("uploads").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Context("operation", op).
		Build()
}
