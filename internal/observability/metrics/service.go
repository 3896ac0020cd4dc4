package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ServiceMetrics records account, prediction and notification operations.
// It implements Recorder.
type ServiceMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
}

// NewServiceMetrics creates and registers the service operation metrics.
func NewServiceMetrics(registry prometheus.Registerer) (*ServiceMetrics, error) {
	m := &ServiceMetrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kinga_operations_total",
				Help: "Total number of service operations by outcome",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kinga_operation_duration_seconds",
				Help:    "Time taken by service operations",
				Buckets: operationBuckets,
			},
			[]string{"operation"},
		),
		operationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kinga_operation_errors_total",
				Help: "Total number of failed service operations by error type",
			},
			[]string{"operation", "error_type"},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ServiceMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

func (m *ServiceMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

func (m *ServiceMetrics) RecordError(operation, errorType string) {
	m.operationErrors.WithLabelValues(operation, errorType).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ServiceMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.operationsTotal.Describe(ch)
	m.operationDuration.Describe(ch)
	m.operationErrors.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ServiceMetrics) Collect(ch chan<- prometheus.Metric) {
	m.operationsTotal.Collect(ch)
	m.operationDuration.Collect(ch)
	m.operationErrors.Collect(ch)
}
