package interfaces

import "errors"

// Storage errors shared by the database manager and its callers
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDuplicateSession = errors.New("session already exists")
)
