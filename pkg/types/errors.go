package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidSession     = errors.New("invalid session")
	ErrInvalidSessionID   = errors.New("session ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrEmptyChatMessage   = errors.New("chat message cannot be empty")
	ErrChatMessageTooLong = errors.New("chat message exceeds 4000 characters")
)
