package targets

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/kinga-app/kinga/internal/backup"
	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

const defaultRemoteTimeout = 30 * time.Second

// FTPTarget stores archives on an FTP server. Every operation opens its own
// connection; backups run at most a few times a day.
type FTPTarget struct {
	addr     string
	username string
	password string
	dir      string
	timeout  time.Duration
	log      logger.Logger
}

// NewFTPTarget validates cfg. No connection is made until first use.
func NewFTPTarget(cfg *conf.FTPBackupSettings) (*FTPTarget, error) {
	if cfg.Host == "" {
		return nil, errors.Newf("ftp host is empty").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	port := cfg.Port
	if port == 0 {
		port = 21
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &FTPTarget{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		username: cfg.Username,
		password: cfg.Password,
		dir:      strings.TrimSuffix(cfg.Path, "/"),
		timeout:  timeout,
		log:      backup.GetLogger().Module("ftp"),
	}, nil
}

func (t *FTPTarget) Name() string { return "ftp" }

func (t *FTPTarget) connect(ctx context.Context) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(t.addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(t.timeout))
	if err != nil {
		return nil, targetError(err, t.Name(), "dial")
	}
	if t.username != "" {
		if err := conn.Login(t.username, t.password); err != nil {
			t.quit(conn)
			return nil, errors.New(err).
				Component("backup").
				Category(errors.CategoryAuthentication).
				Context("target", t.Name()).
				Context("operation", "login").
				Build()
		}
	}
	return conn, nil
}

func (t *FTPTarget) quit(conn *ftp.ServerConn) {
	if err := conn.Quit(); err != nil {
		t.log.Debug("ftp quit failed", logger.Error(err))
	}
}

func (t *FTPTarget) remote(name string) string {
	if t.dir == "" {
		return name
	}
	return path.Join(t.dir, name)
}

// ensureDir creates each component of the base directory, ignoring
// "already exists" replies.
func (t *FTPTarget) ensureDir(conn *ftp.ServerConn) {
	if t.dir == "" {
		return
	}
	current := ""
	if strings.HasPrefix(t.dir, "/") {
		current = "/"
	}
	for part := range strings.SplitSeq(strings.Trim(t.dir, "/"), "/") {
		current = path.Join(current, part)
		_ = conn.MakeDir(current)
	}
}

func (t *FTPTarget) Store(ctx context.Context, archivePath string, meta *backup.Metadata) error {
	src, err := openArchive(archivePath)
	if err != nil {
		return err
	}
	defer src.Close()

	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer t.quit(conn)

	t.ensureDir(conn)

	tmp := t.remote(tempName())
	if err := conn.Stor(tmp, src); err != nil {
		_ = conn.Delete(tmp)
		return targetError(err, t.Name(), "upload")
	}
	if err := conn.Rename(tmp, t.remote(meta.FileName())); err != nil {
		_ = conn.Delete(tmp)
		return targetError(err, t.Name(), "rename")
	}
	return nil
}

func (t *FTPTarget) List(ctx context.Context) ([]backup.Info, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer t.quit(conn)

	dir := t.dir
	if dir == "" {
		dir = "."
	}
	entries, err := conn.List(dir)
	if err != nil {
		// the base directory does not exist before the first upload
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable {
			return nil, nil
		}
		return nil, targetError(err, t.Name(), "list")
	}

	var infos []backup.Info
	for _, e := range entries {
		if e.Type != ftp.EntryTypeFile {
			continue
		}
		if info, ok := backupInfo(t.Name(), path.Base(e.Name), int64(e.Size)); ok { //nolint:gosec // file sizes fit in int64
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (t *FTPTarget) Delete(ctx context.Context, id string) error {
	name, err := archiveName(id)
	if err != nil {
		return err
	}
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer t.quit(conn)

	if err := conn.Delete(t.remote(name)); err != nil {
		return targetError(fmt.Errorf("delete %s: %w", name, err), t.Name(), "delete")
	}
	return nil
}
