package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SystemMetrics exposes the host resource usage sampled by the monitor.
type SystemMetrics struct {
	usage  *prometheus.GaugeVec
	alerts *prometheus.CounterVec
}

// NewSystemMetrics creates and registers the host resource metrics.
func NewSystemMetrics(registry prometheus.Registerer) (*SystemMetrics, error) {
	m := &SystemMetrics{
		usage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kinga_system_usage_percent",
				Help: "Last sampled usage of a host resource in percent",
			},
			[]string{"resource", "path"}, // path is empty for cpu and memory
		),
		alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kinga_system_alerts_total",
				Help: "Number of resource threshold crossings by level",
			},
			[]string{"resource", "level"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetUsage records the latest sample for resource.
func (m *SystemMetrics) SetUsage(resource, path string, percent float64) {
	m.usage.WithLabelValues(resource, path).Set(percent)
}

// RecordAlert counts a transition into level for resource.
func (m *SystemMetrics) RecordAlert(resource, level string) {
	m.alerts.WithLabelValues(resource, level).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *SystemMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.usage.Describe(ch)
	m.alerts.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *SystemMetrics) Collect(ch chan<- prometheus.Metric) {
	m.usage.Collect(ch)
	m.alerts.Collect(ch)
}
