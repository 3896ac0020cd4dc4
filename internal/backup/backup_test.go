package backup

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/datastore"
	"github.com/kinga-app/kinga/internal/datastore/entities"
	"github.com/kinga-app/kinga/internal/observability/metrics"
	"github.com/kinga-app/kinga/internal/testutil"
)

// memTarget keeps a copy of every stored archive in a temp dir.
type memTarget struct {
	name     string
	dir      string
	storeErr error

	mu    sync.Mutex
	infos map[string]Info
}

func newMemTarget(t *testing.T, name string) *memTarget {
	t.Helper()
	return &memTarget{name: name, dir: t.TempDir(), infos: map[string]Info{}}
}

func (m *memTarget) Name() string { return m.name }

func (m *memTarget) Store(_ context.Context, archivePath string, meta *Metadata) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	data, err := os.ReadFile(archivePath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(m.dir, meta.FileName()), data, 0o600); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos[meta.ID] = Info{ID: meta.ID, Target: m.name, CreatedAt: meta.CreatedAt, Size: int64(len(data))}
	return nil
}

func (m *memTarget) List(context.Context) ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.infos))
	for _, info := range m.infos {
		out = append(out, info)
	}
	return out, nil
}

func (m *memTarget) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.infos, id)
	return nil
}

func (m *memTarget) seed(created time.Time) {
	id := created.UTC().Format(idLayout)
	m.infos[id] = Info{ID: id, Target: m.name, CreatedAt: created.UTC()}
}

func (m *memTarget) ids() []string {
	infos, _ := m.List(context.Background())
	sortNewestFirst(infos)
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	return ids
}

var testNow = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func seededDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := testutil.OpenTestDB(t)
	require.NoError(t, db.Create(&entities.User{FullName: "Amina Otieno", Email: "amina@example.com", PasswordHash: "hash"}).Error)
	pest := entities.PestKnowledge{Name: "Fall Armyworm", SwahiliName: "Viwavijeshi"}
	require.NoError(t, db.Create(&pest).Error)
	require.NoError(t, db.Create(&entities.PredictionRecord{PestID: &pest.ID, ImagePath: "static/uploads/leaf.jpg", Confidence: 91.5}).Error)
	return db
}

func uploadDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leaf.jpg"), []byte("jpeg"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maize.png"), []byte("png"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o750))
	return dir
}

func TestParseArchiveName(t *testing.T) {
	tests := []struct {
		name   string
		wantID string
		ok     bool
	}{
		{"kinga-backup-20260314-092653.tar.gz", "20260314-092653", true},
		{"kinga-backup-20260314-092653.tar", "", false},
		{"kinga-backup-latest.tar.gz", "", false},
		{"other-20260314-092653.tar.gz", "", false},
		{".partial-20260314092653.000000000", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, created, ok := ParseArchiveName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.wantID, id)
			if ok {
				assert.Equal(t, testNow, created)
			}
		})
	}
}

func TestSQLiteSnapshotIsUsableDatabase(t *testing.T) {
	src := NewDatabaseSource(seededDB(t), datastore.DriverSQLite)
	dir := t.TempDir()

	name, err := src.Snapshot(t.Context(), dir)
	require.NoError(t, err)
	assert.Equal(t, "kinga.db", name)

	m, err := datastore.Open(t.Context(), &conf.DatabaseSettings{
		Driver: datastore.DriverSQLite,
		SQLite: conf.SQLiteSettings{Path: filepath.Join(dir, name)},
	}, testutil.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	var users []entities.User
	require.NoError(t, m.DB().Find(&users).Error)
	require.Len(t, users, 1)
	assert.Equal(t, "amina@example.com", users[0].Email)
}

func TestJSONExport(t *testing.T) {
	src := NewDatabaseSource(seededDB(t), datastore.DriverMySQL)
	dir := t.TempDir()

	name, err := src.Snapshot(t.Context(), dir)
	require.NoError(t, err)
	assert.Equal(t, "kinga.jsonl", name)

	f, err := os.Open(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()

	counts := map[string]int{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var row ExportRow
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		counts[row.Table]++
		if row.Table == "pests" {
			var pest entities.PestKnowledge
			require.NoError(t, json.Unmarshal(row.Row, &pest))
			assert.Equal(t, "Viwavijeshi", pest.SwahiliName)
		}
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, map[string]int{"users": 1, "pests": 1, "predictions": 1}, counts)
}

func TestSnapshotUnsupportedDriver(t *testing.T) {
	src := NewDatabaseSource(seededDB(t), "postgres")
	_, err := src.Snapshot(t.Context(), t.TempDir())
	require.Error(t, err)
}

func TestNewManagerRequiresTarget(t *testing.T) {
	_, err := NewManager(Config{}, NewDatabaseSource(nil, datastore.DriverSQLite), nil)
	require.Error(t, err)
}

func TestManagerRun(t *testing.T) {
	target := newMemTarget(t, "mem")
	rec := metrics.NewTestRecorder()
	m, err := NewManager(
		Config{Version: "1.2.0", UploadDir: uploadDir(t)},
		NewDatabaseSource(seededDB(t), datastore.DriverSQLite),
		[]Target{target},
		WithRecorder(rec), WithClock(fixedClock))
	require.NoError(t, err)

	meta, err := m.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "20260314-092653", meta.ID)
	assert.Equal(t, "database/kinga.db", meta.Database)
	assert.Equal(t, 2, meta.Uploads)
	assert.Len(t, meta.Checksum, 64)
	assert.Positive(t, meta.Size)

	stored, names, err := ReadMetadata(filepath.Join(target.dir, meta.FileName()))
	require.NoError(t, err)
	assert.Equal(t, []string{"database/kinga.db", "uploads/leaf.jpg", "uploads/maize.png", "metadata.json"}, names)
	assert.Equal(t, "1.2.0", stored.Version)
	assert.Equal(t, datastore.DriverSQLite, stored.Driver)
	assert.Equal(t, 2, stored.Uploads)
	assert.Empty(t, stored.Checksum, "checksum covers the archive so it is not stored inside it")

	assert.Equal(t, 1, rec.OperationCount(metrics.OpBackup, metrics.StatusSuccess))
	assert.Len(t, rec.Durations(metrics.OpBackup), 1)
}

func TestManagerRunWithoutUploads(t *testing.T) {
	target := newMemTarget(t, "mem")
	m, err := NewManager(Config{}, NewDatabaseSource(seededDB(t), datastore.DriverSQLite), []Target{target}, WithClock(fixedClock))
	require.NoError(t, err)

	meta, err := m.Run(t.Context())
	require.NoError(t, err)
	assert.Zero(t, meta.Uploads)

	_, names, err := ReadMetadata(filepath.Join(target.dir, meta.FileName()))
	require.NoError(t, err)
	assert.Equal(t, []string{"database/kinga.db", "metadata.json"}, names)
}

func TestManagerRetention(t *testing.T) {
	target := newMemTarget(t, "mem")
	target.seed(testNow.Add(-72 * time.Hour))
	target.seed(testNow.Add(-48 * time.Hour))
	target.seed(testNow.Add(-24 * time.Hour))

	m, err := NewManager(Config{MaxBackups: 2}, NewDatabaseSource(seededDB(t), datastore.DriverSQLite), []Target{target}, WithClock(fixedClock))
	require.NoError(t, err)

	_, err = m.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"20260314-092653", "20260313-092653"}, target.ids())
}

func TestManagerPartialFailure(t *testing.T) {
	good := newMemTarget(t, "good")
	bad := newMemTarget(t, "bad")
	bad.storeErr = assert.AnError
	rec := metrics.NewTestRecorder()

	m, err := NewManager(Config{}, NewDatabaseSource(seededDB(t), datastore.DriverSQLite), []Target{bad, good},
		WithRecorder(rec), WithClock(fixedClock))
	require.NoError(t, err)

	meta, err := m.Run(t.Context())
	require.ErrorIs(t, err, assert.AnError)
	require.NotNil(t, meta, "stored on one target")
	assert.Equal(t, []string{meta.ID}, good.ids())
	assert.Equal(t, 1, rec.OperationCount(metrics.OpBackup, metrics.StatusError))
}

func TestManagerAllTargetsFail(t *testing.T) {
	bad := newMemTarget(t, "bad")
	bad.storeErr = assert.AnError

	m, err := NewManager(Config{}, NewDatabaseSource(seededDB(t), datastore.DriverSQLite), []Target{bad}, WithClock(fixedClock))
	require.NoError(t, err)

	meta, err := m.Run(t.Context())
	require.ErrorIs(t, err, assert.AnError)
	assert.Nil(t, meta)
}

func TestManagerList(t *testing.T) {
	a := newMemTarget(t, "a")
	b := newMemTarget(t, "b")
	a.seed(testNow.Add(-time.Hour))
	b.seed(testNow)

	m, err := NewManager(Config{}, NewDatabaseSource(nil, datastore.DriverSQLite), []Target{a, b})
	require.NoError(t, err)

	infos, err := m.List(t.Context())
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "b", infos[0].Target)
	assert.Equal(t, "a", infos[1].Target)
}

func TestReadMetadataRejectsForeignArchive(t *testing.T) {
	_, _, err := ReadMetadata(filepath.Join(t.TempDir(), "missing.tar.gz"))
	require.Error(t, err)
}

func TestManagerSchedule(t *testing.T) {
	target := newMemTarget(t, "mem")
	rec := metrics.NewTestRecorder()
	m, err := NewManager(Config{}, NewDatabaseSource(seededDB(t), datastore.DriverSQLite), []Target{target},
		WithRecorder(rec), WithClock(fixedClock))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Schedule(ctx, 10*time.Millisecond)
	}()

	require.Eventually(t, func() bool {
		return rec.OperationCount(metrics.OpBackup, metrics.StatusSuccess) >= 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []string{"20260314-092653"}, target.ids())
}
