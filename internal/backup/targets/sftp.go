package targets

import (
	"context"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/kinga-app/kinga/internal/backup"
	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

// SFTPTarget stores archives over SSH. Host keys are always checked against
// a known_hosts file.
type SFTPTarget struct {
	addr           string
	username       string
	password       string
	keyFile        string
	knownHostsFile string
	dir            string
	timeout        time.Duration
	log            logger.Logger
}

// NewSFTPTarget validates cfg. Keys and known hosts are read on connect.
func NewSFTPTarget(cfg *conf.SFTPBackupSettings) (*SFTPTarget, error) {
	if cfg.Host == "" || cfg.Username == "" {
		return nil, errors.Newf("sftp host and username are required").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Password == "" && cfg.KeyFile == "" {
		return nil, errors.Newf("sftp requires a password or key file").
			Component("backup").
			Category(errors.CategoryConfiguration).
			Build()
	}

	knownHosts := cfg.KnownHostsFile
	if knownHosts == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New(err).
				Component("backup").
				Category(errors.CategoryConfiguration).
				Context("operation", "resolve_known_hosts").
				Build()
		}
		knownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}
	return &SFTPTarget{
		addr:           net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		username:       cfg.Username,
		password:       cfg.Password,
		keyFile:        cfg.KeyFile,
		knownHostsFile: knownHosts,
		dir:            cfg.Path,
		timeout:        timeout,
		log:            backup.GetLogger().Module("sftp"),
	}, nil
}

func (t *SFTPTarget) Name() string { return "sftp" }

func (t *SFTPTarget) clientConfig() (*ssh.ClientConfig, error) {
	hostKeys, err := knownhosts.New(t.knownHostsFile)
	if err != nil {
		return nil, errors.New(err).
			Component("backup").
			Category(errors.CategoryConfiguration).
			Context("operation", "load_known_hosts").
			Context("path", t.knownHostsFile).
			Build()
	}

	var auth []ssh.AuthMethod
	if t.keyFile != "" {
		pem, err := os.ReadFile(t.keyFile)
		if err != nil {
			return nil, targetError(err, t.Name(), "read_key")
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, errors.New(err).
				Component("backup").
				Category(errors.CategoryConfiguration).
				Context("operation", "parse_key").
				Build()
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if t.password != "" {
		auth = append(auth, ssh.Password(t.password))
	}

	return &ssh.ClientConfig{
		User:            t.username,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         t.timeout,
	}, nil
}

// connect dials the server. The returned close function ends both the SFTP
// session and the SSH connection.
func (t *SFTPTarget) connect(ctx context.Context) (*sftp.Client, func(), error) {
	cfg, err := t.clientConfig()
	if err != nil {
		return nil, nil, err
	}

	dialer := net.Dialer{Timeout: t.timeout}
	raw, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, nil, targetError(err, t.Name(), "dial")
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(raw, t.addr, cfg)
	if err != nil {
		_ = raw.Close()
		return nil, nil, errors.New(err).
			Component("backup").
			Category(errors.CategoryAuthentication).
			Context("target", t.Name()).
			Context("operation", "handshake").
			Build()
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, nil, targetError(err, t.Name(), "session")
	}

	// abort blocking calls when ctx ends
	stop := context.AfterFunc(ctx, func() { _ = sshClient.Close() })
	closeFn := func() {
		stop()
		if err := client.Close(); err != nil {
			t.log.Debug("sftp close failed", logger.Error(err))
		}
		_ = sshClient.Close()
	}
	return client, closeFn, nil
}

func (t *SFTPTarget) remote(name string) string {
	if t.dir == "" {
		return name
	}
	return path.Join(t.dir, name)
}

func (t *SFTPTarget) Store(ctx context.Context, archivePath string, meta *backup.Metadata) error {
	src, err := openArchive(archivePath)
	if err != nil {
		return err
	}
	defer src.Close()

	client, closeFn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if t.dir != "" {
		if err := client.MkdirAll(t.dir); err != nil {
			return targetError(err, t.Name(), "mkdir")
		}
	}

	tmp := t.remote(tempName())
	dst, err := client.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY)
	if err != nil {
		return targetError(err, t.Name(), "create")
	}
	if _, err := dst.ReadFrom(src); err != nil {
		_ = dst.Close()
		_ = client.Remove(tmp)
		return targetError(err, t.Name(), "upload")
	}
	if err := dst.Close(); err != nil {
		_ = client.Remove(tmp)
		return targetError(err, t.Name(), "close")
	}
	if err := client.PosixRename(tmp, t.remote(meta.FileName())); err != nil {
		_ = client.Remove(tmp)
		return targetError(err, t.Name(), "rename")
	}
	return nil
}

func (t *SFTPTarget) List(ctx context.Context) ([]backup.Info, error) {
	client, closeFn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	dir := t.dir
	if dir == "" {
		dir = "."
	}
	entries, err := client.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, targetError(err, t.Name(), "list")
	}

	var infos []backup.Info
	for _, fi := range entries {
		if !fi.Mode().IsRegular() {
			continue
		}
		if info, ok := backupInfo(t.Name(), fi.Name(), fi.Size()); ok {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (t *SFTPTarget) Delete(ctx context.Context, id string) error {
	name, err := archiveName(id)
	if err != nil {
		return err
	}
	client, closeFn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := client.Remove(t.remote(name)); err != nil {
		return targetError(err, t.Name(), "delete")
	}
	return nil
}
