// Package observability wires the Prometheus collectors of the application
// into one registry and serves them.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
	"github.com/kinga-app/kinga/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Classifier *metrics.ClassifierMetrics
	HTTP       *metrics.HTTPMetrics
	Service    *metrics.ServiceMetrics
	System     *metrics.SystemMetrics
}

// NewMetrics creates a private registry with the Go runtime, process and
// application collectors registered.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	classifierMetrics, err := metrics.NewClassifierMetrics(registry)
	if err != nil {
		return nil, wrap(err, "classifier")
	}
	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, wrap(err, "http")
	}
	serviceMetrics, err := metrics.NewServiceMetrics(registry)
	if err != nil {
		return nil, wrap(err, "service")
	}
	systemMetrics, err := metrics.NewSystemMetrics(registry)
	if err != nil {
		return nil, wrap(err, "system")
	}

	return &Metrics{
		registry:   registry,
		Classifier: classifierMetrics,
		HTTP:       httpMetrics,
		Service:    serviceMetrics,
		System:     systemMetrics,
	}, nil
}

func wrap(err error, collector string) error {
	return errors.New(err).
		Component("observability").
		Category(errors.CategoryConfiguration).
		Context("collector", collector).
		Build()
}

// ObserveInference forwards to the classifier collector so that Metrics can be
// handed to the classifier as its observer.
func (m *Metrics) ObserveInference(backend string, took time.Duration, err error) {
	m.Classifier.ObserveInference(backend, took, err)
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{},
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      m.registry,
	})
}

// promLogger adapts the module logger to promhttp.Logger.
type promLogger struct{}

func (promLogger) Println(v ...any) {
	GetLogger().Error("metrics handler error", logger.Any("details", v))
}
