package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode is the engine error taxonomy.
type ErrorCode string

const (
	CodeInvalidInput     ErrorCode = "invalid-input"
	CodeInsufficientData ErrorCode = "insufficient-data"
	CodeNoBaseline       ErrorCode = "no-baseline"
)

// Sentinels for errors.Is matching against EngineError codes.
var (
	ErrInvalidInput     = errors.New(string(CodeInvalidInput))
	ErrInsufficientData = errors.New(string(CodeInsufficientData))
	ErrNoBaseline       = errors.New(string(CodeNoBaseline))
	ErrNotFound         = errors.New("not found")
)

// EngineError is a typed result the caller maps to user-facing behavior.
type EngineError struct {
	Code    ErrorCode `json:"code"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is lets errors.Is match an EngineError against the code sentinels.
func (e *EngineError) Is(target error) bool {
	switch target {
	case ErrInvalidInput:
		return e.Code == CodeInvalidInput
	case ErrInsufficientData:
		return e.Code == CodeInsufficientData
	case ErrNoBaseline:
		return e.Code == CodeNoBaseline
	}
	return false
}

// NewInvalidInput reports a malformed required field.
func NewInvalidInput(field, message string) *EngineError {
	return &EngineError{Code: CodeInvalidInput, Field: field, Message: message}
}

// NewInsufficientData reports inputs that cannot support an assessment.
func NewInsufficientData(field, message string) *EngineError {
	return &EngineError{Code: CodeInsufficientData, Field: field, Message: message}
}

// API error codes
const (
	APICodeInvalidInput     = "INVALID_INPUT"
	APICodeInsufficientData = "INSUFFICIENT_DATA"
	APICodeNotFound         = "NOT_FOUND"
	APICodeDatabaseError    = "DATABASE_ERROR"
	APICodeRateLimit        = "RATE_LIMIT_EXCEEDED"
	APICodeInternalServer   = "INTERNAL_SERVER_ERROR"
)

// APIError represents a standardized error response
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ClassifyError maps an error to an API code and HTTP status.
func ClassifyError(err error) (string, int) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return APICodeInvalidInput, http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return APICodeNotFound, http.StatusNotFound
	case errors.Is(err, ErrInsufficientData):
		return APICodeInsufficientData, http.StatusUnprocessableEntity
	default:
		return APICodeInternalServer, http.StatusInternalServerError
	}
}
