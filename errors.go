package tangguh

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies a request failure. Codes are stable strings shared
// with the server-side error envelope, so they survive serialization.
type ErrorCode string

const (
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeValidation   ErrorCode = "VALIDATION_ERROR"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
	CodeUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	CodeCancelled    ErrorCode = "CANCELLED"
	CodeNetwork      ErrorCode = "NETWORK_ERROR"
	CodeTimeout      ErrorCode = "TIMEOUT"
)

// Sentinel errors for common failure scenarios
var (
	// ErrCircuitOpen is returned when the circuit breaker refuses a dispatch.
	ErrCircuitOpen = errors.New("tangguh: circuit open")

	// ErrRequestCancelled is the cancellation cause installed by CancelRequest,
	// CancelAllRequests and Close. context.Cause reports it for aborted calls.
	ErrRequestCancelled = errors.New("tangguh: request cancelled")

	// ErrNoRefreshToken is returned when a token refresh is required but no
	// refresh token is held.
	ErrNoRefreshToken = errors.New("tangguh: no refresh token")

	// ErrRetryBudgetExceeded is returned when the retry budget is exhausted.
	ErrRetryBudgetExceeded = errors.New("tangguh: retry budget exceeded")
)

// Error is the typed error surfaced by every failed call. Code is derived
// from the HTTP status (or the failure class for non-HTTP faults), Message
// and Details are taken from the server's error envelope when one is present.
type Error struct {
	Code        ErrorCode
	Message     string
	Details     map[string]any
	StatusCode  int
	RequestID   string
	Method      string
	URL         string
	Attempt     int
	MaxAttempts int
	Timestamp   time.Time
	Duration    time.Duration
	Cause       error
}

// codeForStatus maps an HTTP status code onto the error taxonomy. Statuses
// outside the listed set, unlisted 4xx included, fall to CodeInternal with
// the real status preserved in Error.StatusCode; IsTransient only treats
// that code as retryable from 500 up, so the fallback never widens retries.
func codeForStatus(status int) ErrorCode {
	switch status {
	case 400:
		return CodeInvalidInput
	case 401:
		return CodeUnauthorized
	case 403:
		return CodeForbidden
	case 404:
		return CodeNotFound
	case 409:
		return CodeConflict
	case 422:
		return CodeValidation
	case 429:
		return CodeRateLimited
	case 502, 503, 504:
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// IsTransient determines if an error represents a transient failure that might succeed on retry.
// Returns true for network errors, timeouts, 5xx server responses, and rate limiting (429).
// Returns false for cancellations and other 4xx client errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRetryBudgetExceeded) {
		return true
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case CodeNetwork, CodeTimeout, CodeUnavailable, CodeRateLimited:
			return true
		case CodeInternal:
			// Internal faults raised locally (marshal errors, interceptor
			// panics) carry no status and are not worth retrying.
			return apiErr.StatusCode >= 500
		default:
			return false
		}
	}

	return false
}

// IsCancellation reports whether err represents an explicit cancellation,
// either through CancelRequest/CancelAllRequests or the caller's context.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRequestCancelled) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == CodeCancelled
	}
	return false
}

// Error implements error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error codes for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*Error); ok {
		return e.Code == targetErr.Code
	}
	return false
}

// Detail returns a named entry from the server-provided details, when present.
// Validation failures use this for field-level messages.
func (e *Error) Detail(name string) (any, bool) {
	if e == nil || e.Details == nil {
		return nil, false
	}
	v, ok := e.Details[name]
	return v, ok
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *Error) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Code: %s\n", e.Code)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.MaxAttempts > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxAttempts)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if len(e.Details) > 0 {
		info += fmt.Sprintf("Details: %v\n", e.Details)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}
