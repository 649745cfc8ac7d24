package errorx

import (
	"fmt"
	"runtime"
	"time"

	"github.com/amoylab/gameroom/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorHandler provides unified error handling for the REST API
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger.Named("errorx")}
}

// HandleError converts any error to APIError and writes the JSON response
func (h *ErrorHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	apiErr := Classify(err).WithTraceID(uuid.NewString())
	apiErr.Timestamp = time.Now().UTC().Format(time.RFC3339)

	h.logError(c, apiErr, err)

	c.AbortWithStatusJSON(apiErr.HTTPStatus, gin.H{
		"error": apiErr,
	})
}

// logError records the failure with the caller and the session it targeted.
// Critical errors carry a stack trace.
func (h *ErrorHandler) logError(c *gin.Context, apiErr *APIError, cause error) {
	fields := []zap.Field{
		zap.String("trace_id", apiErr.TraceID),
		zap.String("code", apiErr.Code),
		zap.String("category", string(apiErr.Category)),
		zap.Bool("transient", apiErr.Transient),
		zap.Int("status", apiErr.HTTPStatus),
		zap.String("route", c.FullPath()),
	}
	if id, ok := auth.IdentityFrom(c); ok {
		fields = append(fields, zap.String("identity", id.ID))
	}
	if sessionID := c.Param("id"); sessionID != "" {
		fields = append(fields, zap.String("session_id", sessionID))
	}
	if cause != nil && cause.Error() != apiErr.Message {
		fields = append(fields, zap.Error(cause))
	}

	switch apiErr.Severity {
	case SeverityInfo:
		h.logger.Info(apiErr.Message, fields...)
	case SeverityWarning:
		h.logger.Warn(apiErr.Message, fields...)
	case SeverityCritical:
		stack := make([]byte, 4<<10)
		stack = stack[:runtime.Stack(stack, false)]
		h.logger.Error(apiErr.Message, append(fields, zap.ByteString("stack", stack))...)
	default:
		h.logger.Error(apiErr.Message, fields...)
	}
}

// ErrorMiddleware returns a gin middleware that renders the last handler error
func (h *ErrorHandler) ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			h.HandleError(c, c.Errors.Last().Err)
		}
	}
}

// RecoveryMiddleware turns a handler panic into an internal error response
func (h *ErrorHandler) RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		h.HandleError(c, ErrInternalServer.
			WithMessage("handler panicked").
			WithDetail("panic", fmt.Sprint(recovered)))
	})
}

// ValidationError creates a validation error for field
func ValidationError(field string, reason string) *APIError {
	return ErrInvalidInput.WithDetail("field", field).WithDetail("reason", reason)
}
