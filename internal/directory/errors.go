package directory

import "errors"

// Session directory error types
var (
	ErrForbidden          = errors.New("role not permitted for this session")
	ErrSessionNotJoinable = errors.New("session is not joinable")
	ErrSessionFull        = errors.New("session has reached its participant limit")
	ErrInvalidTransition  = errors.New("invalid session status transition")
	ErrSessionLocked      = errors.New("session can only be modified while scheduled")
	ErrSessionLive        = errors.New("live session cannot be deleted")
)
