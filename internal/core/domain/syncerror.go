package domain

import (
	"errors"
	"fmt"
)

// SyncErrorKind classifies a connector failure for retry decisions.
type SyncErrorKind string

const (
	// SyncErrorUnauthorized means the credential is invalid or expired.
	// Triggers a single refresh-and-retry before failing permanently.
	SyncErrorUnauthorized SyncErrorKind = "unauthorized"

	// SyncErrorRateLimited means the provider is throttling us.
	// Always retried via the retry policy, honouring any provider hint.
	SyncErrorRateLimited SyncErrorKind = "rate_limited"

	// SyncErrorTransient covers network failures and provider 5xx responses.
	SyncErrorTransient SyncErrorKind = "transient"

	// SyncErrorPermanent covers bad input, invalid grants and unsupported
	// operations. Never retried.
	SyncErrorPermanent SyncErrorKind = "permanent"
)

// SyncError is the tagged error every connector maps provider failures onto.
// The executor drives retry and backoff decisions from the Kind.
type SyncError struct {
	Kind SyncErrorKind

	// RetryAfterSecs is an optional provider-supplied wait hint.
	// Only meaningful for rate_limited errors.
	RetryAfterSecs int

	// Err is the underlying cause, if any.
	Err error

	// Message is a human-readable description when there is no cause.
	Message string
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Unauthorized wraps err as a credential failure.
func Unauthorized(err error) *SyncError {
	return &SyncError{Kind: SyncErrorUnauthorized, Err: err}
}

// RateLimited wraps err as provider throttling with an optional hint.
// Pass hintSecs 0 when the provider did not supply a Retry-After.
func RateLimited(err error, hintSecs int) *SyncError {
	return &SyncError{Kind: SyncErrorRateLimited, RetryAfterSecs: hintSecs, Err: err}
}

// Transient wraps err as a retryable network or 5xx failure.
func Transient(err error) *SyncError {
	return &SyncError{Kind: SyncErrorTransient, Err: err}
}

// Permanent wraps err as a terminal failure that must not be retried.
func Permanent(err error) *SyncError {
	return &SyncError{Kind: SyncErrorPermanent, Err: err}
}

// Permanentf creates a terminal failure from a format string.
func Permanentf(format string, args ...any) *SyncError {
	return &SyncError{Kind: SyncErrorPermanent, Message: fmt.Sprintf(format, args...)}
}

// AsSyncError extracts a SyncError from an error chain.
// Unclassified errors are treated as transient so they stay retryable.
func AsSyncError(err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	return &SyncError{Kind: SyncErrorTransient, Err: err}
}

// HTTPStatusToSyncError maps a provider HTTP status onto the taxonomy.
// retryAfterSecs carries the parsed Retry-After header, 0 when absent.
func HTTPStatusToSyncError(status int, retryAfterSecs int, err error) *SyncError {
	switch {
	case status == 401 || status == 403:
		return Unauthorized(err)
	case status == 429:
		return RateLimited(err, retryAfterSecs)
	case status >= 500:
		return Transient(err)
	default:
		return Permanent(err)
	}
}
