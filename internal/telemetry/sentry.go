// Package telemetry sets up optional error reporting to Sentry. Nothing is
// sent unless a DSN is configured.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kinga-app/kinga/internal/conf"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

const flushTimeout = 2 * time.Second

// GetLogger returns the telemetry package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}

// Option adjusts the Sentry client options.
type Option func(*sentry.ClientOptions)

// WithTransport replaces the HTTP transport, used by tests.
func WithTransport(t sentry.Transport) Option {
	return func(o *sentry.ClientOptions) {
		o.Transport = t
	}
}

// InitSentry initializes the Sentry SDK and routes reportable errors built with
// the errors package to it. The returned func flushes pending events and must
// be called on shutdown. With an empty DSN nothing is initialized and the
// returned func is a no-op.
func InitSentry(settings *conf.SentrySettings, release string, opts ...Option) (func(), error) {
	if settings == nil || settings.DSN == "" {
		return func() {}, nil
	}

	sampleRate := settings.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1.0
	}
	environment := settings.Environment
	if environment == "" {
		environment = "production"
	}

	options := sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       sampleRate,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "", // keep the hostname out of events
		Release:          "kinga@" + release,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	if err := sentry.Init(options); err != nil {
		return nil, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}
	errors.SetTelemetryReporter(errors.NewSentryReporter(nil))

	GetLogger().Info("error reporting enabled",
		logger.String("environment", environment),
		logger.Float64("sample_rate", sampleRate))

	return func() {
		errors.SetTelemetryReporter(nil)
		sentry.Flush(flushTimeout)
	}, nil
}

// applyPrivacyFilters strips data that could identify the host or a user and
// scrubs addresses and credentials from the message.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Request = nil
	event.Message = errors.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = errors.ScrubMessage(event.Exception[i].Value)
	}

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
