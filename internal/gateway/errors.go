package gateway

import "errors"

var (
	ErrGatewayAlreadyRunning = errors.New("gateway is already running")
	ErrGatewayNotRunning     = errors.New("gateway is not running")
	ErrNotInRoom             = errors.New("connection has not joined this session")
	ErrMalformedPayload      = errors.New("malformed event payload")
)
