// Package monitor samples host CPU, memory and disk usage, exports the
// samples as metrics and logs threshold crossings with hysteresis.
package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/logger"
)

// GetLogger returns the module logger for the resource monitor
func GetLogger() logger.Logger {
	return logger.Global().Module("monitor")
}

// ResourceType represents the type of host resource being monitored
type ResourceType string

const (
	ResourceCPU    ResourceType = "cpu"
	ResourceMemory ResourceType = "memory"
	ResourceDisk   ResourceType = "disk"
)

// Alert levels reported on threshold transitions
const (
	LevelOK        = "ok"
	LevelWarning   = "warning"
	LevelCritical  = "critical"
	LevelRecovered = "recovered"
)

const defaultInterval = time.Minute

// Gauges receives samples and alert transitions. *metrics.SystemMetrics
// implements it.
type Gauges interface {
	SetUsage(resource, path string, percent float64)
	RecordAlert(resource, level string)
}

type noopGauges struct{}

func (noopGauges) SetUsage(string, string, float64) {}
func (noopGauges) RecordAlert(string, string)       {}

// Usage is the last sample of one resource.
type Usage struct {
	Resource  ResourceType
	Path      string
	Percent   float64
	Level     string
	CheckedAt time.Time
}

type alertState struct {
	inWarning  bool
	inCritical bool
	usage      Usage
}

// update applies a sample and returns the level entered, or "" when the
// state did not change. Leaving a level requires dropping hysteresis points
// below its threshold.
func (s *alertState) update(current float64, t conf.ThresholdSettings, hysteresis float64) string {
	switch {
	case current >= t.Critical:
		if !s.inCritical {
			s.inCritical, s.inWarning = true, true
			return LevelCritical
		}
	case s.inWarning && current < t.Warning-hysteresis:
		s.inCritical, s.inWarning = false, false
		return LevelRecovered
	case s.inCritical && current < t.Critical-hysteresis:
		s.inCritical = false
		return LevelWarning
	case current >= t.Warning && !s.inWarning:
		s.inWarning = true
		return LevelWarning
	}
	return ""
}

func (s *alertState) level() string {
	switch {
	case s.inCritical:
		return LevelCritical
	case s.inWarning:
		return LevelWarning
	default:
		return LevelOK
	}
}

// Monitor periodically samples the enabled resources.
type Monitor struct {
	cfg     conf.MonitorSettings
	paths   []string
	sampler Sampler
	gauges  Gauges
	now     func() time.Time
	log     logger.Logger

	mu     sync.Mutex
	states map[string]*alertState
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSampler replaces the gopsutil sampler.
func WithSampler(s Sampler) Option {
	return func(m *Monitor) { m.sampler = s }
}

// WithGauges sets where samples are exported.
func WithGauges(g Gauges) Option {
	return func(m *Monitor) { m.gauges = g }
}

// WithClock overrides the time source for sample timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a Monitor. diskPaths are cleaned and deduplicated.
func New(cfg *conf.MonitorSettings, diskPaths []string, opts ...Option) *Monitor {
	paths := make([]string, 0, len(diskPaths))
	for _, p := range diskPaths {
		if p != "" {
			paths = append(paths, filepath.Clean(p))
		}
	}
	slices.Sort(paths)

	m := &Monitor{
		cfg:     *cfg,
		paths:   slices.Compact(paths),
		sampler: hostSampler{},
		gauges:  noopGauges{},
		now:     time.Now,
		log:     GetLogger(),
		states:  make(map[string]*alertState),
	}
	if m.cfg.Interval <= 0 {
		m.cfg.Interval = defaultInterval
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DiskPaths returns the directories whose filesystems hold Kinga data: the
// upload directory and, for SQLite, the directory of the database file.
func DiskPaths(settings *conf.Settings, uploadDir string) []string {
	paths := []string{uploadDir}
	if settings.Database.Driver == "sqlite" && settings.Database.SQLite.Path != "" {
		if abs, err := filepath.Abs(settings.Database.SQLite.Path); err == nil {
			paths = append(paths, filepath.Dir(abs))
		}
	}
	return paths
}

// Paths returns the monitored disk paths.
func (m *Monitor) Paths() []string {
	return slices.Clone(m.paths)
}

// Run checks once immediately and then on every interval until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		m.log.Info("Resource monitoring disabled")
		return
	}
	m.log.Info("Resource monitoring started",
		logger.Duration("interval", m.cfg.Interval),
		logger.Any("disk_paths", m.paths))

	m.Check(ctx)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check samples every enabled resource once. Sampling errors are logged
// and leave the previous state in place.
func (m *Monitor) Check(ctx context.Context) {
	if m.cfg.CPU.Enabled {
		m.sample(ResourceCPU, "", m.cfg.CPU, func() (float64, error) {
			return m.sampler.CPUPercent(ctx)
		})
	}
	if m.cfg.Memory.Enabled {
		m.sample(ResourceMemory, "", m.cfg.Memory, func() (float64, error) {
			return m.sampler.MemoryPercent(ctx)
		})
	}
	if m.cfg.Disk.Enabled {
		for _, path := range m.paths {
			m.sample(ResourceDisk, path, m.cfg.Disk, func() (float64, error) {
				return m.sampler.DiskPercent(ctx, path)
			})
		}
	}
}

// Status returns the last sample of every resource checked so far, ordered
// by resource and path.
func (m *Monitor) Status() []Usage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Usage, 0, len(m.states))
	for _, s := range m.states {
		out = append(out, s.usage)
	}
	slices.SortFunc(out, func(a, b Usage) int {
		if a.Resource != b.Resource {
			if a.Resource < b.Resource {
				return -1
			}
			return 1
		}
		switch {
		case a.Path < b.Path:
			return -1
		case a.Path > b.Path:
			return 1
		}
		return 0
	})
	return out
}

func (m *Monitor) sample(resource ResourceType, path string, t conf.ThresholdSettings, read func() (float64, error)) {
	current, err := read()
	if err != nil {
		m.log.Error("Failed to sample resource usage",
			logger.String("resource", string(resource)),
			logger.String("path", path),
			logger.Error(err))
		return
	}
	m.gauges.SetUsage(string(resource), path, current)

	key := string(resource)
	if path != "" {
		key += "|" + path
	}

	m.mu.Lock()
	state, ok := m.states[key]
	if !ok {
		state = &alertState{}
		m.states[key] = state
	}
	entered := state.update(current, t, m.cfg.HysteresisPercent)
	state.usage = Usage{
		Resource:  resource,
		Path:      path,
		Percent:   current,
		Level:     state.level(),
		CheckedAt: m.now(),
	}
	m.mu.Unlock()

	if entered == "" {
		return
	}
	m.gauges.RecordAlert(string(resource), entered)

	fields := []logger.Field{
		logger.String("resource", string(resource)),
		logger.String("current", fmt.Sprintf("%.1f%%", current)),
	}
	if path != "" {
		fields = append(fields, logger.String("path", path))
	}
	switch entered {
	case LevelCritical:
		m.log.Warn("Critical threshold exceeded",
			append(fields, logger.String("threshold", fmt.Sprintf("%.1f%%", t.Critical)))...)
	case LevelWarning:
		m.log.Warn("Warning threshold exceeded",
			append(fields, logger.String("threshold", fmt.Sprintf("%.1f%%", t.Warning)))...)
	case LevelRecovered:
		m.log.Info("Resource usage back to normal", fields...)
	}
}
