package websocket

import (
	"sync"

	"liveclass/pkg/interfaces"
)

// Registry indexes open connections by connection ID
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic;
// room membership lives in the presence registry, not here
type Registry struct {
	mu          sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections map[string]interfaces.Connection
	users       map[string]int // userID -> open connection count
}

// NewRegistry creates a new connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		users:       make(map[string]int),
	}
}

// Register adds conn under its ID
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = conn
	r.users[conn.Identity().UserID]++
	return nil
}

// Unregister removes conn if it is the instance registered under its ID
// FUNCTIONAL DISCOVERY: Idempotent operation safe for concurrent unregistration
func (r *Registry) Unregister(conn interfaces.Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[conn.ID()]
	if !exists || registered != conn {
		return false
	}
	delete(r.connections, conn.ID())

	userID := conn.Identity().UserID
	if r.users[userID] <= 1 {
		delete(r.users, userID)
	} else {
		r.users[userID]--
	}
	return true
}

// Get returns the connection registered under id
func (r *Registry) Get(id string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.connections[id]
	return conn, ok
}

// Count returns the number of open connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Snapshot returns the open connections in no particular order
func (r *Registry) Snapshot() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"connected_users":   len(r.users),
	}
}
