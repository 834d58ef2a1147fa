package helpers

import (
	"fmt"
	"time"

	"cashout-mirror/src/logger"
)

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type MirrorError struct {
	Message string
	Cause   error
}

func (e *MirrorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *MirrorError) Unwrap() error {
	return e.Cause
}

// Distinct error types for type assertions.
// TokenError: upstream auth endpoint unreachable or non-2xx (retried, never fatal).
// StreamError: transport-level error on the mirror connection (token invalidated, retried).
// MalformedEventError: JSON parse failure on an inbound frame (logged, dropped).
// ValidationError: missing required fields on inbound POSTs (surfaced as 422).
// PushDeliveryError: per-subscription delivery failure (never propagated to event handlers).
// PersistenceError: subscription store write failure (logged, in-memory state still serves).
type TokenError struct{ MirrorError }
type StreamError struct{ MirrorError }
type MalformedEventError struct{ MirrorError }
type ValidationError struct{ MirrorError }
type PushDeliveryError struct{ MirrorError }
type PersistenceError struct{ MirrorError }

// -----------------------------------------------------------------------------

func NewTokenError(msg string, cause error) *TokenError {
	return &TokenError{MirrorError{Message: msg, Cause: cause}}
}

func NewStreamError(msg string, cause error) *StreamError {
	return &StreamError{MirrorError{Message: msg, Cause: cause}}
}

func NewMalformedEventError(msg string, cause error) *MalformedEventError {
	return &MalformedEventError{MirrorError{Message: msg, Cause: cause}}
}

func NewValidationError(msg string) *ValidationError {
	return &ValidationError{MirrorError{Message: msg}}
}

func NewPushDeliveryError(msg string, cause error) *PushDeliveryError {
	return &PushDeliveryError{MirrorError{Message: msg, Cause: cause}}
}

func NewPersistenceError(msg string, cause error) *PersistenceError {
	return &PersistenceError{MirrorError{Message: msg, Cause: cause}}
}

// -----------------------------------------------------------------------------
// Retry Logic
// -----------------------------------------------------------------------------

// RetryWithBackoff attempts to execute the operation up to maxRetries times with exponential backoff.
func RetryWithBackoff(log *logger.Logger, operation string, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt == maxRetries-1 {
			break
		}

		delay := baseDelay * (1 << attempt)
		log.Warning("Attempt %d/%d failed for %s: %v. Retrying in %v", attempt+1, maxRetries, operation, err, delay)
		time.Sleep(delay)
	}

	return lastErr
}
