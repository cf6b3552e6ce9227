package router

import "errors"

// Router-specific error types
var (
	ErrUnknownEvent = errors.New("unknown event")
)
