package auth

import "errors"

// Authentication errors
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrTokenExpired = errors.New("bearer token expired")
	ErrWeakSecret   = errors.New("signing secret must be at least 32 bytes")
)
