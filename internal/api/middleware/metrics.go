package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/kinga-app/kinga/internal/errors"
)

// unmatchedRoute labels requests that hit no route so raw URLs never become label values.
const unmatchedRoute = "unmatched"

// HTTPRecorder receives one observation per finished request.
type HTTPRecorder interface {
	RequestStarted()
	RecordHTTPRequest(method, path string, statusCode int, seconds float64, sizeBytes int64)
}

// NewMetrics records request count, latency and response size per route pattern.
func NewMetrics(recorder HTTPRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if recorder == nil {
				return next(c)
			}

			start := time.Now()
			recorder.RequestStarted()
			err := next(c)

			path := c.Path()
			if path == "" {
				path = unmatchedRoute
			}
			recorder.RecordHTTPRequest(c.Request().Method, path, statusOf(c, err),
				time.Since(start).Seconds(), c.Response().Size)
			return err
		}
	}
}

// statusOf returns the status the request ends with. A returned error has not
// been written yet, so its code wins over the response status.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
