package interfaces

import (
	"context"
	"time"

	"liveclass/pkg/types"
)

// DatabaseManager handles all persistence for the session directory
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and connection management
type DatabaseManager interface {
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	UpdateSession(ctx context.Context, session *types.Session) error
	DeleteSession(ctx context.Context, sessionID string) error

	// ListSessions returns sessions ordered by schedule; an empty status lists all
	ListSessions(ctx context.Context, status string) ([]*types.Session, error)

	// ListActiveSessions returns scheduled and live sessions for cache warm-up
	ListActiveSessions(ctx context.Context) ([]*types.Session, error)

	// Attendance operations
	// FUNCTIONAL DISCOVERY: Attendance is written by the REST join/leave calls
	// only; it is an audit trail, not presence
	RecordJoin(ctx context.Context, attendance *types.Attendance) error
	RecordLeave(ctx context.Context, sessionID, userID string, at time.Time) error
	ListAttendance(ctx context.Context, sessionID string) ([]*types.Attendance, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// SessionDirectory is the session metadata service consumed by the REST
// layer and the real-time core
type SessionDirectory interface {
	CreateSession(ctx context.Context, session *types.Session) (*types.Session, error)
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListSessions(ctx context.Context, status string) ([]*types.Session, error)
	UpdateSession(ctx context.Context, sessionID string, patch types.SessionPatch) (*types.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Lifecycle transitions
	StartSession(ctx context.Context, sessionID string) (*types.Session, error)
	EndSession(ctx context.Context, sessionID string) (*types.Session, error)
	CancelSession(ctx context.Context, sessionID string) (*types.Session, error)

	// Join runs the guard chain and records attendance
	Join(ctx context.Context, identity types.Identity, sessionID string) (*types.Session, error)
	Leave(ctx context.Context, identity types.Identity, sessionID string) error
	Attendance(ctx context.Context, sessionID string) ([]*types.Attendance, error)
}

// PresenceReader exposes the live room view to components outside the gateway.
type PresenceReader interface {
	Identities(sessionID string) []types.Identity
	CountUsers(sessionID string) int
	HasUser(sessionID, userID string) bool
}
