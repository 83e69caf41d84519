package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller lacks permission for this action
	ErrForbidden = errors.New("forbidden")

	// ErrConnectorNotFound indicates the provider is not registered
	ErrConnectorNotFound = errors.New("connector not found")

	// ErrConnectionNotFound indicates no connection matches the request
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrJobConflict indicates an interval job already exists for the connection
	ErrJobConflict = errors.New("interval job already queued or running")

	// ErrWebhookSecretMissing indicates the provider has no verification secret configured
	ErrWebhookSecretMissing = errors.New("webhook secret not configured")

	// ErrSignatureInvalid indicates webhook signature verification failed
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrStaleTimestamp indicates a webhook timestamp outside the skew tolerance
	ErrStaleTimestamp = errors.New("request timestamp outside tolerance")

	// ErrStateInvalid indicates an unknown or expired OAuth state token
	ErrStateInvalid = errors.New("oauth state invalid or expired")

	// ErrTokenExpired indicates the operator token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid indicates the operator token is malformed or invalid
	ErrTokenInvalid = errors.New("token invalid")
)
