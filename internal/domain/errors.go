package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors forming the provider error taxonomy. Providers return
// errors that unwrap to exactly one of these; the cascade converts them to
// internal signals and never propagates them to callers.
var (
	// ErrNotFound indicates a provider had no answer. Not a failure:
	// the cascade advances to the next provider.
	ErrNotFound = errors.New("not found")

	// ErrTransient indicates a retryable failure (timeout, 5xx, exhausted
	// rate-limit retries). The cascade treats the provider as empty.
	ErrTransient = errors.New("transient provider error")

	// ErrTerminal indicates a failure that must not be retried within the
	// same cascade run (4xx other than 429).
	ErrTerminal = errors.New("terminal provider error")

	// ErrRateLimited indicates the provider signalled a rate limit. The
	// transport retries with backoff before surfacing ErrTransient.
	ErrRateLimited = errors.New("rate limited")

	// ErrMalformedRequest indicates empty or unparseable input. Resolution
	// short-circuits to a miss without contacting cache or providers.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrStoreUnavailable indicates the cache persistence layer cannot be
	// reached. Both cache tiers report a miss instead of failing.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// TransientError wraps a cause as a retry-exhausted transient failure.
type TransientError struct {
	Provider string
	Cause    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Provider, e.Cause)
}

func (e *TransientError) Unwrap() error { return ErrTransient }

// TerminalError wraps a non-retryable provider failure.
type TerminalError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("%s: terminal failure (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *TerminalError) Unwrap() error { return ErrTerminal }

// RateLimitError carries a server-supplied retry delay when present.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Provider, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrMalformedRequest }

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsTransient reports whether err should be treated as empty-after-retries
// for cascade purposes.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
}

// IsTerminal reports whether err means the provider must be skipped for the
// rest of this cascade run.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrTerminal)
}
