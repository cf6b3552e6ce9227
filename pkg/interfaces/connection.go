package interfaces

import "liveclass/pkg/types"

// Connection represents one authenticated socket as seen by the gateway
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and business logic
type Connection interface {
	// ID returns the ephemeral connection identifier (one per live socket)
	ID() string

	// Identity returns the user verified during the handshake
	// FUNCTIONAL DISCOVERY: Immutable for the life of the connection
	Identity() types.Identity

	// Send queues a frame for delivery without waiting for the network
	// FUNCTIONAL DISCOVERY: Broadcasts are fire-and-forget; implementations
	// must never block the dispatcher on a slow peer
	Send(v any) error

	// Close closes the connection and cleans up resources
	Close() error
}
