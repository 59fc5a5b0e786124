package streams

import "fmt"

// StreamError is a domain error with a stable code the API maps onto
// HTTP statuses.
type StreamError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Error codes surfaced to the REST layer.
const (
	ErrCodeInvalidRTSPURL   = "INVALID_RTSP_URL"
	ErrCodeDuplicateName    = "DUPLICATE_NAME"
	ErrCodeInvalidParams    = "INVALID_PARAMS"
	ErrCodeInvalidOrder     = "INVALID_ORDER"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConcurrencyLimit = "CONCURRENCY_LIMIT"
	ErrCodeGPUUnavailable   = "GPU_UNAVAILABLE"
	ErrCodeStreamNotRunning = "STREAM_NOT_RUNNING"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeInternal         = "INTERNAL"
)

// Internal error codes never surfaced directly; the API maps them to
// INTERNAL.
const (
	ErrCodeConfigIO = "CONFIG_IO"
	ErrCodeSchema   = "SCHEMA"
)

// NewStreamError creates a new stream error.
func NewStreamError(code, message string, cause error) *StreamError {
	return &StreamError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
