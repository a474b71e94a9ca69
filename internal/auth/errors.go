package auth

import "errors"

var (
	// ErrUnauthorized represents missing or invalid authentication tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMissingSecret is returned when a verifier is built without a key.
	ErrMissingSecret = errors.New("jwt secret is required")
)
