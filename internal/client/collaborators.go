package client

//go:generate mockgen -destination=../mocks/client_mocks.go -package=mocks liveclass/internal/client Directory,Media,TokenSource

import (
	"context"

	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

// Directory is the REST side of the session service
type Directory interface {
	Join(ctx context.Context, sessionID, token string) error
	Leave(ctx context.Context, sessionID, token string) error
	Participants(ctx context.Context, sessionID, token string) ([]types.Identity, error)
}

// Dialer opens an authenticated socket to the gateway
type Dialer interface {
	Dial(ctx context.Context, token string) (Socket, error)
}

// Socket is one authenticated gateway connection
type Socket interface {
	// Identity is the user the gateway bound to this socket
	Identity() types.Identity
	// Request sends event and waits for its acknowledgement
	Request(ctx context.Context, event string, payload any) (protocol.Ack, error)
	// Emit sends event without waiting
	Emit(event string, payload any) error
	// Events yields server pushes; it is closed when the socket fails
	Events() <-chan protocol.Envelope
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Media owns the local camera, microphone and peer connections
type Media interface {
	Acquire(ctx context.Context) error
	Release()
}

// TokenSource supplies the current bearer for each attempt
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that never refreshes
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// NopMedia is used where no devices exist, such as the terminal client
type NopMedia struct{}

func (NopMedia) Acquire(context.Context) error { return nil }
func (NopMedia) Release()                      {}
