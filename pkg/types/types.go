package types

import (
	"time"
)

// Session lifecycle states
// FUNCTIONAL DISCOVERY: scheduled→live→ended or scheduled→cancelled; only the
// first two accept joins
const (
	SessionStatusScheduled = "scheduled"
	SessionStatusLive      = "live"
	SessionStatusEnded     = "ended"
	SessionStatusCancelled = "cancelled"
)

// RoleAdmin bypasses role access checks and is required for session CRUD.
const RoleAdmin = "admin"

// Session represents a scheduled live class
// ARCHITECTURAL DISCOVERY: Owned by the session directory; the real-time core
// only reads Status, HostID, RoleAccess and MaxParticipants
type Session struct {
	ID              string     `json:"id"`
	Title           string     `json:"title" validate:"required,min=1,max=200"`
	Description     string     `json:"description,omitempty" validate:"max=2000"`
	ScheduledTime   time.Time  `json:"scheduledTime" validate:"required"`
	DurationMinutes int        `json:"durationMinutes" validate:"gte=0,lte=1440"`
	Status          string     `json:"status" validate:"required,oneof=scheduled live ended cancelled"`
	HostID          string     `json:"hostId" validate:"required,userid"`
	RoleAccess      []string   `json:"roleAccess" validate:"dive,required,max=50"`
	MaxParticipants *int       `json:"maxParticipants,omitempty" validate:"omitempty,gt=0"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}

// Joinable reports whether participants may still enter the session.
func (s *Session) Joinable() bool {
	return s.Status == SessionStatusScheduled || s.Status == SessionStatusLive
}

// Identity is the authenticated principal behind a connection or request
// FUNCTIONAL DISCOVERY: Derived once from the bearer token and immutable for
// the life of the connection
type Identity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role,omitempty"`
}

// IsAdmin reports whether the identity carries the administrator role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Public strips fields that are not broadcast to other participants.
func (i Identity) Public() Identity {
	return Identity{UserID: i.UserID, Name: i.Name, Email: i.Email}
}

// PresenceEntry records which room a single connection currently occupies
// ARCHITECTURAL DISCOVERY: Keyed by connection ID, never by user ID, so one
// user with two tabs shows up as two entries
type PresenceEntry struct {
	ConnectionID string    `json:"connectionId"`
	SessionID    string    `json:"sessionId"`
	Identity     Identity  `json:"user"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// ChatMessage is relayed to a room at the moment it is received and never stored.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Attendance is the directory's persisted record of a REST join/leave pair.
type Attendance struct {
	ID        string     `json:"id"`
	SessionID string     `json:"sessionId"`
	UserID    string     `json:"userId"`
	UserName  string     `json:"userName"`
	JoinedAt  time.Time  `json:"joinedAt"`
	LeftAt    *time.Time `json:"leftAt,omitempty"`
}

// SessionPatch carries the mutable fields of a scheduled session; nil fields are left unchanged.
type SessionPatch struct {
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	ScheduledTime   *time.Time `json:"scheduledTime,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	RoleAccess      []string   `json:"roleAccess,omitempty"`
	MaxParticipants *int       `json:"maxParticipants,omitempty"`
}

// Apply copies the set fields onto s.
func (p SessionPatch) Apply(s *Session) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.ScheduledTime != nil {
		s.ScheduledTime = *p.ScheduledTime
	}
	if p.DurationMinutes != nil {
		s.DurationMinutes = *p.DurationMinutes
	}
	if p.RoleAccess != nil {
		s.RoleAccess = p.RoleAccess
	}
	if p.MaxParticipants != nil {
		s.MaxParticipants = p.MaxParticipants
	}
}
