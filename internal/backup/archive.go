package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/kinga-app/kinga/internal/errors"
)

const metadataName = "metadata.json"

// writeArchive writes a gzipped tar holding the metadata, the database
// snapshot and every regular file in uploadDir. meta.Uploads is set before
// the metadata entry is written, so it is the last member.
func writeArchive(ctx context.Context, archivePath, dbPath, uploadDir string, meta *Metadata) (err error) {
	f, err := os.OpenFile(archivePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // path is inside our temp dir
	if err != nil {
		return ioError(err, "create_archive", archivePath)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = ioError(cerr, "close_archive", archivePath)
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	if err := addFile(tw, dbPath, meta.Database, meta.CreatedAt); err != nil {
		return err
	}

	if uploadDir != "" {
		n, err := addUploads(ctx, tw, uploadDir, meta.CreatedAt)
		if err != nil {
			return err
		}
		meta.Uploads = n
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.New(err).Component("backup").Category(errors.CategoryGeneric).Build()
	}
	if err := addBytes(tw, metadataName, data, meta.CreatedAt); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return ioError(err, "close_tar", archivePath)
	}
	if err := gz.Close(); err != nil {
		return ioError(err, "close_gzip", archivePath)
	}
	return nil
}

func addUploads(ctx context.Context, tw *tar.Writer, dir string, modTime time.Time) (int, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, ioError(err, "open_uploads", dir)
	}
	defer root.Close()

	entries, err := fs.ReadDir(root.FS(), ".")
	if err != nil {
		return 0, ioError(err, "read_uploads", dir)
	}

	count := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if !e.Type().IsRegular() {
			continue
		}
		if err := addFile(tw, filepath.Join(dir, e.Name()), path.Join("uploads", e.Name()), modTime); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func addFile(tw *tar.Writer, src, name string, modTime time.Time) error {
	f, err := os.Open(src) //nolint:gosec // src comes from our own directories
	if err != nil {
		return ioError(err, "open_member", src)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return ioError(err, "stat_member", src)
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    stat.Size(),
		ModTime: modTime,
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return ioError(err, "write_header", name)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return ioError(err, "write_member", name)
	}
	return nil
}

func addBytes(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: modTime,
		Format:  tar.FormatPAX,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return ioError(err, "write_header", name)
	}
	if _, err := tw.Write(data); err != nil {
		return ioError(err, "write_member", name)
	}
	return nil
}

// ReadMetadata returns the metadata stored in the archive at archivePath and
// the names of all members in archive order.
func ReadMetadata(archivePath string) (*Metadata, []string, error) {
	f, err := os.Open(archivePath) //nolint:gosec // caller supplied archive
	if err != nil {
		return nil, nil, ioError(err, "open_archive", archivePath)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, ioError(err, "read_gzip", archivePath)
	}
	defer gz.Close()

	var (
		meta  *Metadata
		names []string
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, ioError(err, "read_tar", archivePath)
		}
		names = append(names, hdr.Name)
		if hdr.Name != metadataName {
			continue
		}
		meta = &Metadata{}
		if err := json.NewDecoder(tr).Decode(meta); err != nil {
			return nil, nil, ioError(err, "decode_metadata", archivePath)
		}
	}
	if meta == nil {
		return nil, names, errors.Newf("archive has no %s", metadataName).
			Component("backup").
			Category(errors.CategoryValidation).
			Context("path", archivePath).
			Build()
	}
	return meta, names, nil
}
