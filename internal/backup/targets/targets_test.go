package targets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinga-app/kinga/internal/backup"
	"github.com/kinga-app/kinga/internal/conf"
)

func writeArchive(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "archive.tar.gz")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func testMeta(created time.Time, size int64) *backup.Metadata {
	return &backup.Metadata{ID: created.UTC().Format("20060102-150405"), CreatedAt: created, Size: size}
}

func TestLocalTargetStoreListDelete(t *testing.T) {
	target, err := NewLocalTarget(filepath.Join(t.TempDir(), "backups"))
	require.NoError(t, err)

	created := time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC)
	meta := testMeta(created, 7)
	require.NoError(t, target.Store(t.Context(), writeArchive(t, "archive"), meta))

	data, err := os.ReadFile(filepath.Join(target.Dir(), "kinga-backup-20260501-020000.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, "archive", string(data))

	// unrelated files and partial uploads are not backups
	require.NoError(t, os.WriteFile(filepath.Join(target.Dir(), "notes.txt"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(target.Dir(), tempName()), nil, 0o600))

	infos, err := target.List(t.Context())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, backup.Info{ID: "20260501-020000", Target: "local", CreatedAt: created, Size: 7}, infos[0])

	require.NoError(t, target.Delete(t.Context(), "20260501-020000"))
	infos, err = target.List(t.Context())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestLocalTargetShortArchive(t *testing.T) {
	target, err := NewLocalTarget(t.TempDir())
	require.NoError(t, err)

	err = target.Store(t.Context(), writeArchive(t, "abc"), testMeta(time.Now(), 10))
	require.Error(t, err)

	entries, err := os.ReadDir(target.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary file must be removed")
}

func TestLocalTargetDeleteRejectsBadID(t *testing.T) {
	target, err := NewLocalTarget(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"../../etc/passwd", "", "latest"} {
		assert.Error(t, target.Delete(t.Context(), id), id)
	}
}

func TestNewLocalTargetEmptyPath(t *testing.T) {
	_, err := NewLocalTarget("")
	require.Error(t, err)
}

func TestNewFTPTarget(t *testing.T) {
	_, err := NewFTPTarget(&conf.FTPBackupSettings{})
	require.Error(t, err)

	target, err := NewFTPTarget(&conf.FTPBackupSettings{Host: "backup.example.com", Path: "kinga/"})
	require.NoError(t, err)
	assert.Equal(t, "backup.example.com:21", target.addr)
	assert.Equal(t, defaultRemoteTimeout, target.timeout)
	assert.Equal(t, "kinga/kinga-backup-x.tar.gz", target.remote("kinga-backup-x.tar.gz"))
	assert.Equal(t, "ftp", target.Name())
}

func TestNewSFTPTarget(t *testing.T) {
	tests := []struct {
		name    string
		cfg     conf.SFTPBackupSettings
		wantErr bool
	}{
		{"missing host", conf.SFTPBackupSettings{Username: "kinga", Password: "pw"}, true},
		{"missing credentials", conf.SFTPBackupSettings{Host: "h", Username: "kinga"}, true},
		{"password", conf.SFTPBackupSettings{Host: "h", Username: "kinga", Password: "pw", KnownHostsFile: "/k"}, false},
		{"key", conf.SFTPBackupSettings{Host: "h", Port: 2222, Username: "kinga", KeyFile: "/id", KnownHostsFile: "/k"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := NewSFTPTarget(&tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "/k", target.knownHostsFile)
		})
	}
}

func TestSFTPClientConfigRequiresKnownHosts(t *testing.T) {
	target, err := NewSFTPTarget(&conf.SFTPBackupSettings{
		Host: "h", Username: "kinga", Password: "pw",
		KnownHostsFile: filepath.Join(t.TempDir(), "missing"),
	})
	require.NoError(t, err)

	_, err = target.clientConfig()
	require.Error(t, err)
}

func TestSFTPClientConfigPassword(t *testing.T) {
	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, nil, 0o600))

	target, err := NewSFTPTarget(&conf.SFTPBackupSettings{
		Host: "h", Username: "kinga", Password: "pw", KnownHostsFile: knownHosts,
	})
	require.NoError(t, err)

	cfg, err := target.clientConfig()
	require.NoError(t, err)
	assert.Equal(t, "kinga", cfg.User)
	assert.Len(t, cfg.Auth, 1)
	assert.NotNil(t, cfg.HostKeyCallback)
}

func TestFromSettings(t *testing.T) {
	s := &conf.BackupSettings{
		Local: conf.LocalBackupSettings{Enabled: true, Path: t.TempDir()},
		FTP:   conf.FTPBackupSettings{Enabled: true, Host: "ftp.example.com"},
		SFTP:  conf.SFTPBackupSettings{Host: "ignored"},
	}
	targets, err := FromSettings(s)
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, "local", targets[0].Name())
	assert.Equal(t, "ftp", targets[1].Name())

	s.SFTP.Enabled = true
	_, err = FromSettings(s)
	require.Error(t, err)
}
