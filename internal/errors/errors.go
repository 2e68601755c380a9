package errors

import (
	stderrors "errors"
	"fmt"
)

// LabError is the structured error type for searchlab.
// It carries the error code taxonomy used across the registry, executor,
// store, and optimizer.
type LabError struct {
	// Code is the unique error code (e.g., "ERR_201_DOMAIN_NOT_AVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Tool, Store, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *LabError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LabError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with LabError.
func (e *LabError) Is(target error) bool {
	if t, ok := target.(*LabError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *LabError) WithDetail(key, value string) *LabError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new LabError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *LabError {
	return &LabError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a LabError from an existing error.
// The error's message becomes the LabError message.
func Wrap(code string, err error) *LabError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// DomainNotAvailable creates the error returned when a tool domain is not
// registered or its prerequisite is missing.
func DomainNotAvailable(domain, reason string) *LabError {
	e := New(ErrCodeDomainNotAvailable,
		fmt.Sprintf("domain %q not available: %s", domain, reason), nil)
	return e.WithDetail("domain", domain)
}

// ToolExecution creates the error recorded when a tool ran but reported
// failure.
func ToolExecution(domain string, cause error) *LabError {
	e := New(ErrCodeToolExecution,
		fmt.Sprintf("tool %q failed: %v", domain, cause), cause)
	return e.WithDetail("domain", domain)
}

// ToolTimeout creates the error recorded when an external call exceeded
// its bound. It is a ToolExecution subtype for containment purposes but
// tagged distinctly for trace diagnosis.
func ToolTimeout(domain string, cause error) *LabError {
	e := New(ErrCodeToolTimeout,
		fmt.Sprintf("tool %q timed out", domain), cause)
	return e.WithDetail("domain", domain)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *LabError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreWrite creates the escalated error for a failed append.
func StoreWrite(cause error) *LabError {
	return New(ErrCodeStoreWrite, fmt.Sprintf("store append failed: %v", cause), cause)
}

// CodeOf returns the LabError code for err, or ErrCodeInternal when err is
// not a LabError.
func CodeOf(err error) string {
	var le *LabError
	if stderrors.As(err, &le) {
		return le.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code string) bool {
	var le *LabError
	if stderrors.As(err, &le) {
		return le.Code == code
	}
	return false
}

// IsRetryable reports whether err may be retried with backoff.
func IsRetryable(err error) bool {
	var le *LabError
	if stderrors.As(err, &le) {
		return le.Retryable
	}
	return false
}
