package errorx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation        ErrorCategory = "validation"
	CategoryAuthentication    ErrorCategory = "authentication"
	CategoryUnauthorized      ErrorCategory = "unauthorized"
	CategoryNotFound          ErrorCategory = "not_found"
	CategoryConflict          ErrorCategory = "conflict"
	CategoryInvalidTransition ErrorCategory = "invalid_transition"
	CategoryStoreUnavailable  ErrorCategory = "store_unavailable"
	CategoryInternal          ErrorCategory = "internal"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// APIError represents a structured error returned over REST and websocket
type APIError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Category   ErrorCategory  `json:"category"`
	Severity   Severity       `json:"severity"`
	Transient  bool           `json:"transient"` // the caller may retry
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Category, e.Message)
}

// JSON returns the error as a JSON string
func (e *APIError) JSON() string {
	out, _ := json.Marshal(e)
	return string(out)
}

// WithMessage returns a copy of the error carrying msg
func (e *APIError) WithMessage(msg string) *APIError {
	c := e.clone()
	c.Message = msg
	return c
}

// WithDetail returns a copy of the error with a detail added
func (e *APIError) WithDetail(key string, value any) *APIError {
	c := e.clone()
	c.Details[key] = value
	return c
}

// WithTraceID returns a copy of the error with a trace ID
func (e *APIError) WithTraceID(traceID string) *APIError {
	c := e.clone()
	c.TraceID = traceID
	return c
}

func (e *APIError) clone() *APIError {
	c := *e
	c.Details = make(map[string]any, len(e.Details))
	for k, v := range e.Details {
		c.Details[k] = v
	}
	return &c
}

// Common error codes and messages. Treat them as templates: the With*
// helpers return copies.
var (
	// Validation Errors (E1000-E1999)
	ErrInvalidInput = &APIError{
		Code:       "E1001",
		Message:    "Invalid input provided",
		Category:   CategoryValidation,
		Severity:   SeverityWarning,
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidTransition = &APIError{
		Code:       "E1101",
		Message:    "Transition rejected by the rules engine",
		Category:   CategoryInvalidTransition,
		Severity:   SeverityInfo,
		HTTPStatus: http.StatusUnprocessableEntity,
	}

	// Authentication Errors (E2000-E2999)
	ErrUnauthenticated = &APIError{
		Code:       "E2001",
		Message:    "Authentication required",
		Category:   CategoryAuthentication,
		Severity:   SeverityWarning,
		HTTPStatus: http.StatusUnauthorized,
	}

	// Authorization Errors (E3000-E3999)
	ErrUnauthorized = &APIError{
		Code:       "E3001",
		Message:    "Action not permitted",
		Category:   CategoryUnauthorized,
		Severity:   SeverityInfo,
		HTTPStatus: http.StatusForbidden,
	}

	// Not Found Errors (E4000-E4999)
	ErrSessionNotFound = &APIError{
		Code:       "E4001",
		Message:    "Session not found",
		Category:   CategoryNotFound,
		Severity:   SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	}

	// Conflict Errors (E4090-E4099)
	ErrConcurrentModification = &APIError{
		Code:       "E4091",
		Message:    "Session was modified by another request",
		Category:   CategoryConflict,
		Severity:   SeverityWarning,
		Transient:  true,
		HTTPStatus: http.StatusConflict,
	}

	ErrActiveSessionExists = &APIError{
		Code:       "E4092",
		Message:    "Another session is already open",
		Category:   CategoryConflict,
		Severity:   SeverityWarning,
		HTTPStatus: http.StatusConflict,
	}

	ErrSeatTaken = &APIError{
		Code:       "E4093",
		Message:    "Seat is held by another participant",
		Category:   CategoryConflict,
		Severity:   SeverityWarning,
		HTTPStatus: http.StatusConflict,
	}

	ErrSessionClosed = &APIError{
		Code:       "E4094",
		Message:    "Session is closed",
		Category:   CategoryConflict,
		Severity:   SeverityInfo,
		HTTPStatus: http.StatusConflict,
	}

	// Internal Server Errors (E5000-E5999)
	ErrInternalServer = &APIError{
		Code:       "E5001",
		Message:    "Internal server error occurred",
		Category:   CategoryInternal,
		Severity:   SeverityCritical,
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrStoreUnavailable = &APIError{
		Code:       "E5031",
		Message:    "Session store unavailable",
		Category:   CategoryStoreUnavailable,
		Severity:   SeverityError,
		Transient:  true,
		HTTPStatus: http.StatusServiceUnavailable,
	}
)
