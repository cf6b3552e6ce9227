package client

import (
	"time"

	"liveclass/pkg/types"
)

// State is a position in the participant connection lifecycle
type State string

const (
	StateIdle         State = "idle"
	StateJoining      State = "joining"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateLeaving      State = "leaving"
)

// EventKind names what an Event reports
type EventKind string

const (
	EventState             EventKind = "state"
	EventParticipantJoined EventKind = "participant_joined"
	EventParticipantLeft   EventKind = "participant_left"
	EventParticipants      EventKind = "participants"
	EventChat              EventKind = "chat"
	EventSessionEnded      EventKind = "session_ended"
)

// Event is delivered to the presentation layer through Client.Events
type Event struct {
	Kind  EventKind
	State State
	User  types.Identity
	Chat  *types.ChatMessage
	Local bool // optimistic echo of this client's own chat message
	Err   error
}

// Backoff returns the delay before retry attempt n (0-based): base doubled
// n times, capped at max
func Backoff(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		return max
	}
	return delay
}
