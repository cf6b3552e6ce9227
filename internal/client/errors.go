package client

import "errors"

// Client error taxonomy
// FUNCTIONAL DISCOVERY: ErrUnauthorized and ErrSessionUnavailable are terminal
// and never retried; everything else is transient until the retry budget runs out
var (
	ErrUnauthorized       = errors.New("not authorized to join this session")
	ErrSessionUnavailable = errors.New("session unavailable")
	ErrRetriesExhausted   = errors.New("connection lost and retries exhausted")
	ErrStaleAttempt       = errors.New("join attempt superseded")
	ErrNotConnected       = errors.New("not connected to a session")
	ErrAlreadyActive      = errors.New("client already joined or joining")
	ErrConnectionLost     = errors.New("socket connection lost")
	ErrMediaUnavailable   = errors.New("local media unavailable")
)
