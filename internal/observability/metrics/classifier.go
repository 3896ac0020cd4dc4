package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kinga-app/kinga/internal/errors"
)

// ClassifierMetrics contains Prometheus metrics for model inference.
type ClassifierMetrics struct {
	InferenceDuration *prometheus.HistogramVec
	InferenceTotal    *prometheus.CounterVec
	ModelLoadTotal    *prometheus.CounterVec
	ModelLoadedGauge  prometheus.Gauge
}

// NewClassifierMetrics creates the inference metrics and registers them with registry.
func NewClassifierMetrics(registry prometheus.Registerer) (*ClassifierMetrics, error) {
	m := &ClassifierMetrics{
		InferenceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kinga_inference_duration_seconds",
				Help:    "Time taken by the model backend to run one image",
				Buckets: inferenceBuckets,
			},
			[]string{"backend"},
		),
		InferenceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kinga_inferences_total",
				Help: "Total number of model runs",
			},
			[]string{"backend", "status"},
		),
		ModelLoadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kinga_model_load_total",
				Help: "Total number of model load attempts",
			},
			[]string{"backend", "status"},
		),
		ModelLoadedGauge: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "kinga_model_loaded",
				Help: "Whether the classifier model is loaded (1) or not (0)",
			},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register classifier metrics: %w", err)
	}
	return m, nil
}

// ObserveInference records one backend run. Runs abandoned because the
// request went away are counted as canceled and kept out of the histogram.
func (m *ClassifierMetrics) ObserveInference(backend string, took time.Duration, err error) {
	switch {
	case err == nil:
		m.InferenceTotal.WithLabelValues(backend, StatusSuccess).Inc()
		m.InferenceDuration.WithLabelValues(backend).Observe(took.Seconds())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		m.InferenceTotal.WithLabelValues(backend, "canceled").Inc()
	default:
		m.InferenceTotal.WithLabelValues(backend, StatusError).Inc()
	}
}

// RecordModelLoad records a model load attempt.
func (m *ClassifierMetrics) RecordModelLoad(backend string, err error) {
	if err != nil {
		m.ModelLoadTotal.WithLabelValues(backend, StatusError).Inc()
		m.ModelLoadedGauge.Set(0)
		return
	}
	m.ModelLoadTotal.WithLabelValues(backend, StatusSuccess).Inc()
	m.ModelLoadedGauge.Set(1)
}

// Describe implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.InferenceDuration.Describe(ch)
	m.InferenceTotal.Describe(ch)
	m.ModelLoadTotal.Describe(ch)
	ch <- m.ModelLoadedGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Collect(ch chan<- prometheus.Metric) {
	m.InferenceDuration.Collect(ch)
	m.InferenceTotal.Collect(ch)
	m.ModelLoadTotal.Collect(ch)
	ch <- m.ModelLoadedGauge
}
