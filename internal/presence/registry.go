package presence

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

var _ interfaces.PresenceReader = (*Registry)(nil)

// Registry maps each live connection to the one room it occupies
// ARCHITECTURAL DISCOVERY: Mutated only from the gateway dispatcher goroutine,
// so mutations never interleave; the RWMutex exists for readers on other
// goroutines (REST participants, capacity guard, health)
//
// The registry is process-local. Running several gateway processes requires
// an external shared store; membership is not visible across processes.
type Registry struct {
	mu     sync.RWMutex
	byConn map[string]types.PresenceEntry // connectionID -> entry
	rooms  map[string]map[string]struct{} // sessionID -> connectionIDs
}

// NewRegistry creates an empty presence registry
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]types.PresenceEntry),
		rooms:  make(map[string]map[string]struct{}),
	}
}

// Set records entry under its connection ID, superseding any prior entry for
// that connection. The superseded entry is returned so the caller can notify
// the room it left.
func (r *Registry) Set(entry types.PresenceEntry) (types.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous, existed := r.byConn[entry.ConnectionID]
	if existed {
		r.detach(previous)
	}

	r.byConn[entry.ConnectionID] = entry
	room, ok := r.rooms[entry.SessionID]
	if !ok {
		room = make(map[string]struct{})
		r.rooms[entry.SessionID] = room
	}
	room[entry.ConnectionID] = struct{}{}

	return previous, existed
}

// Remove deletes the entry of connectionID. It returns false when there was
// none, which makes leave and disconnect idempotent with each other.
func (r *Registry) Remove(connectionID string) (types.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byConn[connectionID]
	if !ok {
		return types.PresenceEntry{}, false
	}
	delete(r.byConn, connectionID)
	r.detach(entry)
	return entry, true
}

// detach removes entry from its room index; caller holds the write lock
func (r *Registry) detach(entry types.PresenceEntry) {
	room, ok := r.rooms[entry.SessionID]
	if !ok {
		return
	}
	delete(room, entry.ConnectionID)
	if len(room) == 0 {
		delete(r.rooms, entry.SessionID)
	}
}

// Get returns the entry of connectionID
func (r *Registry) Get(connectionID string) (types.PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byConn[connectionID]
	return entry, ok
}

// MembersOf returns the room's entries in join order
func (r *Registry) MembersOf(sessionID string) []types.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[sessionID]
	members := make([]types.PresenceEntry, 0, len(room))
	for connID := range room {
		members = append(members, r.byConn[connID])
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].ConnectionID < members[j].ConnectionID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members
}

// Count returns the number of connections in the room
func (r *Registry) Count(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[sessionID])
}

// Identities returns the room's users, one per user ID, in first-join order
// FUNCTIONAL DISCOVERY: A user with two tabs holds two connections but is
// one participant
func (r *Registry) Identities(sessionID string) []types.Identity {
	members := r.MembersOf(sessionID)
	unique := lo.UniqBy(members, func(e types.PresenceEntry) string { return e.Identity.UserID })
	return lo.Map(unique, func(e types.PresenceEntry, _ int) types.Identity { return e.Identity.Public() })
}

// CountUsers returns the number of distinct users in the room
func (r *Registry) CountUsers(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make(map[string]struct{})
	for connID := range r.rooms[sessionID] {
		users[r.byConn[connID].Identity.UserID] = struct{}{}
	}
	return len(users)
}

// HasUser reports whether any connection of userID is in the room
func (r *Registry) HasUser(sessionID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for connID := range r.rooms[sessionID] {
		if r.byConn[connID].Identity.UserID == userID {
			return true
		}
	}
	return false
}

// Stats returns registry statistics for monitoring
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"present_connections": len(r.byConn),
		"occupied_rooms":      len(r.rooms),
	}
}
