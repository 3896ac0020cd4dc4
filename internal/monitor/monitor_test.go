package monitor

import (
	"context"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinga-app/kinga/internal/conf"
)

type fakeSampler struct {
	mu     sync.Mutex
	cpu    float64
	memory float64
	disk   map[string]float64
	err    error
	calls  int
}

func (f *fakeSampler) CPUPercent(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.cpu, f.err
}

func (f *fakeSampler) MemoryPercent(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.memory, f.err
}

func (f *fakeSampler) DiskPercent(_ context.Context, path string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.disk[path], f.err
}

func (f *fakeSampler) setDisk(path string, pct float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disk[path] = pct
}

func (f *fakeSampler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingGauges struct {
	mu     sync.Mutex
	usage  map[string]float64
	alerts []string
}

func (g *recordingGauges) SetUsage(resource, path string, pct float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.usage[resource+"|"+path] = pct
}

func (g *recordingGauges) RecordAlert(resource, level string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.alerts = append(g.alerts, resource+":"+level)
}

func testSettings() *conf.MonitorSettings {
	t := conf.ThresholdSettings{Enabled: true, Warning: 80, Critical: 90}
	return &conf.MonitorSettings{
		Enabled:           true,
		Interval:          time.Minute,
		HysteresisPercent: 5,
		CPU:               t,
		Memory:            t,
		Disk:              t,
	}
}

func TestAlertStateTransitions(t *testing.T) {
	th := conf.ThresholdSettings{Enabled: true, Warning: 80, Critical: 90}
	steps := []struct {
		current float64
		want    string
		level   string
	}{
		{50, "", LevelOK},
		{82, LevelWarning, LevelWarning},
		{84, "", LevelWarning},
		{91, LevelCritical, LevelCritical},
		{87, "", LevelCritical}, // within hysteresis of critical
		{84, LevelWarning, LevelWarning},
		{78, "", LevelWarning}, // within hysteresis of warning
		{74, LevelRecovered, LevelOK},
		{95, LevelCritical, LevelCritical},
		{10, LevelRecovered, LevelOK},
	}

	var s alertState
	for i, step := range steps {
		assert.Equal(t, step.want, s.update(step.current, th, 5), "step %d (%.0f%%)", i, step.current)
		assert.Equal(t, step.level, s.level(), "step %d (%.0f%%)", i, step.current)
	}
}

func TestNewDeduplicatesPaths(t *testing.T) {
	m := New(testSettings(), []string{"/srv/kinga/uploads/", "/srv/kinga", "", "/srv/kinga/uploads"})
	assert.Equal(t, []string{"/srv/kinga", "/srv/kinga/uploads"}, m.Paths())
}

func TestDiskPaths(t *testing.T) {
	s := &conf.Settings{}
	s.Database.Driver = "mysql"
	assert.Equal(t, []string{"/srv/uploads"}, DiskPaths(s, "/srv/uploads"))

	s.Database.Driver = "sqlite"
	s.Database.SQLite.Path = "/var/lib/kinga/kinga.db"
	assert.Equal(t, []string{"/srv/uploads", "/var/lib/kinga"}, DiskPaths(s, "/srv/uploads"))
}

func TestCheckExportsSamplesAndAlerts(t *testing.T) {
	sampler := &fakeSampler{cpu: 12, memory: 85, disk: map[string]float64{"/data": 93, "/uploads": 40}}
	gauges := &recordingGauges{usage: map[string]float64{}}
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	m := New(testSettings(), []string{"/uploads", "/data"},
		WithSampler(sampler), WithGauges(gauges), WithClock(func() time.Time { return now }))
	m.Check(t.Context())

	assert.Equal(t, map[string]float64{
		"cpu|": 12, "memory|": 85, "disk|/data": 93, "disk|/uploads": 40,
	}, gauges.usage)
	assert.ElementsMatch(t, []string{"memory:warning", "disk:critical"}, gauges.alerts)

	status := m.Status()
	require.Len(t, status, 4)
	assert.Equal(t, Usage{Resource: ResourceCPU, Percent: 12, Level: LevelOK, CheckedAt: now}, status[0])
	assert.Equal(t, Usage{Resource: ResourceDisk, Path: "/data", Percent: 93, Level: LevelCritical, CheckedAt: now}, status[1])
	assert.Equal(t, ResourceDisk, status[2].Resource)
	assert.Equal(t, "/uploads", status[2].Path)
	assert.Equal(t, ResourceMemory, status[3].Resource)

	// repeated samples at the same level do not alert again
	m.Check(t.Context())
	assert.Len(t, gauges.alerts, 2)

	sampler.setDisk("/data", 50)
	m.Check(t.Context())
	assert.Contains(t, gauges.alerts, "disk:recovered")
}

func TestCheckSkipsDisabledResources(t *testing.T) {
	cfg := testSettings()
	cfg.CPU.Enabled = false
	cfg.Disk.Enabled = false
	sampler := &fakeSampler{memory: 10, disk: map[string]float64{}}

	m := New(cfg, []string{"/uploads"}, WithSampler(sampler))
	m.Check(t.Context())

	assert.Equal(t, 1, sampler.callCount())
	require.Len(t, m.Status(), 1)
	assert.Equal(t, ResourceMemory, m.Status()[0].Resource)
}

func TestCheckSampleErrorKeepsState(t *testing.T) {
	sampler := &fakeSampler{err: assert.AnError, disk: map[string]float64{}}
	gauges := &recordingGauges{usage: map[string]float64{}}

	m := New(testSettings(), []string{"/uploads"}, WithSampler(sampler), WithGauges(gauges))
	m.Check(t.Context())

	assert.Empty(t, gauges.usage)
	assert.Empty(t, m.Status())
}

func TestRunSamplesOnInterval(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		cfg := testSettings()
		cfg.CPU.Enabled = false
		cfg.Disk.Enabled = false
		sampler := &fakeSampler{memory: 10, disk: map[string]float64{}}
		m := New(cfg, nil, WithSampler(sampler))

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan struct{})
		go func() {
			m.Run(ctx)
			close(done)
		}()

		synctest.Wait()
		assert.Equal(t, 1, sampler.callCount())

		time.Sleep(2*time.Minute + time.Second)
		synctest.Wait()
		assert.Equal(t, 3, sampler.callCount())

		cancel()
		<-done
	})
}

func TestRunDisabledReturnsImmediately(t *testing.T) {
	cfg := testSettings()
	cfg.Enabled = false
	sampler := &fakeSampler{disk: map[string]float64{}}

	New(cfg, nil, WithSampler(sampler)).Run(t.Context())
	assert.Zero(t, sampler.callCount())
}
