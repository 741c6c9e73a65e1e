package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	apperrors "github.com/jwalitptl/hospital-api/pkg/errors"
	"github.com/jwalitptl/hospital-api/pkg/telemetry"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

// traceID prefers the OpenTelemetry trace and falls back to the request id.
func traceID(c *gin.Context) string {
	if id := telemetry.TraceID(c.Request.Context()); id != "" {
		return id
	}
	return c.GetString(ContextRequestID)
}

func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		tid := traceID(c)
		lastErr := c.Errors.Last().Err

		status := http.StatusInternalServerError
		kind := "internal"
		message := "internal server error"
		if appErr, ok := apperrors.As(lastErr); ok {
			status = appErr.StatusCode()
			kind = appErr.Kind()
			if status < http.StatusInternalServerError {
				message = appErr.Message
			}
		}

		event := log.Warn()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Err(lastErr).
			Str("trace_id", tid).
			Str("path", c.Request.URL.Path).
			Str("method", c.Request.Method).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Msg("Request error")

		c.JSON(status, ErrorResponse{
			Code:    status,
			Kind:    kind,
			Message: message,
			TraceID: tid,
		})
	}
}
