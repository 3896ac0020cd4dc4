package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	mw "github.com/kinga-app/kinga/internal/api/middleware"
	"github.com/kinga-app/kinga/internal/errors"
	"github.com/kinga-app/kinga/internal/logger"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error         string `json:"error"`             // text shown to the user
	Message       string `json:"message,omitempty"` // optional detail
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"` // request id, also in X-Request-ID
}

// NewErrorResponse creates an error body for the request handled by ctx.
func NewErrorResponse(ctx echo.Context, text, message string, code int) *ErrorResponse {
	return &ErrorResponse{
		Error:         text,
		Message:       message,
		Code:          code,
		CorrelationID: mw.RequestID(ctx),
	}
}

// HandleError logs err with the request context and replies with text and code.
// Server errors are logged at error level, client errors at debug level.
func (c *Controller) HandleError(ctx echo.Context, err error, text string, code int) error {
	return c.handleError(ctx, err, text, "", code)
}

func (c *Controller) handleError(ctx echo.Context, err error, text, message string, code int) error {
	resp := NewErrorResponse(ctx, text, message, code)

	fields := []logger.Field{
		logger.String("correlation_id", resp.CorrelationID),
		logger.String("error_text", text),
		logger.Int("code", code),
		logger.String("path", ctx.Path()),
		logger.String("method", ctx.Request().Method),
		logger.String("ip", ctx.RealIP()),
	}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if code >= http.StatusInternalServerError {
		GetLogger().Error("API error", fields...)
	} else {
		GetLogger().Debug("API request rejected", fields...)
	}

	return ctx.JSON(code, resp)
}

// httpErrorHandler renders errors that reach echo, such as unknown routes,
// oversized bodies or panics caught by Recover, in the ErrorResponse shape.
func (c *Controller) httpErrorHandler(err error, ctx echo.Context) {
	if ctx.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	text := http.StatusText(code)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		text = httpErrorText(he)
		if he.Internal != nil {
			err = he.Internal
		}
	}

	if ctx.Request().Method == http.MethodHead {
		err = ctx.NoContent(code)
	} else {
		err = c.HandleError(ctx, err, text, code)
	}
	if err != nil {
		GetLogger().Warn("failed to write error response", logger.Error(err))
	}
}

func httpErrorText(he *echo.HTTPError) string {
	switch m := he.Message.(type) {
	case string:
		return m
	case nil:
		return http.StatusText(he.Code)
	default:
		return fmt.Sprint(m)
	}
}
