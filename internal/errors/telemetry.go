// Package errors - telemetry integration (optional)
package errors

import (
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/getsentry/sentry-go"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

var (
	reporterMu         sync.RWMutex
	globalReporter     TelemetryReporter
	hasActiveReporting atomic.Bool
)

// SetTelemetryReporter sets the global telemetry reporter. Passing nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	globalReporter = reporter
	hasActiveReporting.Store(reporter != nil && reporter.IsEnabled())
}

func reportToTelemetry(ee *EnhancedError) {
	reporterMu.RLock()
	reporter := globalReporter
	reporterMu.RUnlock()

	if reporter != nil && reporter.IsEnabled() {
		reporter.ReportError(ee)
	}
}

// reportedCategories are the categories worth an upstream event. Validation,
// auth and not-found errors are routine client mistakes.
var reportedCategories = map[ErrorCategory]sentry.Level{
	CategoryDatabase:      sentry.LevelError,
	CategoryModelLoad:     sentry.LevelError,
	CategoryModelInit:     sentry.LevelError,
	CategoryLabelLoad:     sentry.LevelError,
	CategoryProcessing:    sentry.LevelError,
	CategoryConfiguration: sentry.LevelError,
	CategoryFileIO:        sentry.LevelWarning,
	CategoryIntegration:   sentry.LevelWarning,
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter creates a reporter capturing through hub. A nil hub uses sentry.CurrentHub().
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryReporter{hub: hub}
}

// IsEnabled reports whether the hub has a configured client
func (sr *SentryReporter) IsEnabled() bool {
	return sr != nil && sr.hub != nil && sr.hub.Client() != nil
}

// ReportError sends a scrubbed event for errors in reportable categories
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	level, ok := reportedCategories[ee.Category]
	if !ok || ee.IsReported() {
		return
	}

	message := ScrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))

	sr.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		scope.SetLevel(level)
		scope.SetFingerprint([]string{ee.Component, string(ee.Category)})

		for key, value := range ee.GetContext() {
			if s, isString := value.(string); isString {
				value = ScrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}

		event := sentry.NewEvent()
		event.Level = level
		event.Message = message
		event.Exception = []sentry.Exception{{
			Type:  fmt.Sprintf("%s %s", ee.Component, ee.Category),
			Value: message,
		}}
		sr.hub.CaptureEvent(event)
	})

	ee.MarkReported()
}

var (
	queryStringPattern = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	emailPattern       = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	apiKeyPattern      = regexp.MustCompile(`(?i)(api[_-]?key|token|password)[=:]\S+`)
)

// ScrubMessage removes query strings, email addresses and inline credentials from message.
func ScrubMessage(message string) string {
	scrubbed := queryStringPattern.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = emailPattern.ReplaceAllString(scrubbed, "[EMAIL]")
	return apiKeyPattern.ReplaceAllString(scrubbed, "$1=[REDACTED]")
}
