package domain

import (
	"fmt"
	"time"
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

// Error codes for different failure scenarios
const (
	ErrInvalidInput   = "INVALID_INPUT"
	ErrInvalidFormat  = "INVALID_VCF_FORMAT"
	ErrUnreadableVCF  = "VCF_PARSE_ERROR"
	ErrRateLimit      = "RATE_LIMIT_EXCEEDED"
	ErrTimeout        = "ANALYSIS_TIMEOUT"
	ErrInternalServer = "INTERNAL_SERVER_ERROR"
	ErrValidation     = "VALIDATION_ERROR"
)

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

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// FormatError reports a stream that does not describe itself as VCF.
type FormatError struct {
	Line   int
	Reason string
}

// Error implements the error interface
func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("not a VCF stream (line %d): %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("not a VCF stream: %s", e.Reason)
}

// ParseError reports an unreadable record or stream. Record-level parse
// errors are counted by the reader; stream-level ones abort the request.
type ParseError struct {
	Line int
	Err  error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying cause
func (e *ParseError) Unwrap() error {
	return e.Err
}

// KnowledgeBaseLoadError reports malformed reference data at startup.
type KnowledgeBaseLoadError struct {
	Source string
	Err    error
}

// Error implements the error interface
func (e *KnowledgeBaseLoadError) Error() string {
	return fmt.Sprintf("failed to load knowledge base from %s: %v", e.Source, e.Err)
}

// Unwrap returns the underlying cause
func (e *KnowledgeBaseLoadError) Unwrap() error {
	return e.Err
}
