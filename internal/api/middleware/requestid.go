package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kinga-app/kinga/internal/logger"
)

// NewRequestID assigns every request a UUID, echoes it in X-Request-ID and
// stores it as the trace id of the request context. An id sent by the client
// is kept.
func NewRequestID() echo.MiddlewareFunc {
	return middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:    uuid.NewString,
		TargetHeader: echo.HeaderXRequestID,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logger.WithTraceID(req.Context(), id)))
		},
	})
}

// RequestID returns the id assigned by NewRequestID, or "" outside it.
func RequestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

// errorBody matches the error response of the api package.
type errorBody struct {
	Error         string `json:"error"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeError(c echo.Context, code int, text string) error {
	return c.JSON(code, errorBody{Error: text, Code: code, CorrelationID: RequestID(c)})
}
