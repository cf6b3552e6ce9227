package directory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

var _ interfaces.SessionDirectory = (*Manager)(nil)

// ClosedListener is notified after a session ends or is cancelled.
type ClosedListener func(session *types.Session)

// Manager implements the SessionDirectory interface
// ARCHITECTURAL DISCOVERY: Joinable sessions are cached in memory so the join
// path never waits on SQLite for the common case; every write goes to the
// database first and updates the cache only after it succeeds
type Manager struct {
	dbManager      interfaces.DatabaseManager
	logger         *slog.Logger
	guards         []Guard
	activeSessions map[string]*types.Session // sessionID -> Session
	listeners      []ClosedListener
	now            func() time.Time
	mu             sync.RWMutex
}

// Option configures a Manager
type Option func(*Manager)

// WithGuards replaces the join guard chain
func WithGuards(guards ...Guard) Option {
	return func(m *Manager) { m.guards = guards }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a new session directory
func NewManager(dbManager interfaces.DatabaseManager, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		dbManager:      dbManager,
		logger:         logger.With("component", "directory"),
		guards:         []Guard{RequireJoinableStatus, RequireRoleAccess},
		activeSessions: make(map[string]*types.Session),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnSessionClosed registers a listener for end and cancel transitions
func (m *Manager) OnSessionClosed(listener ClosedListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, listener)
	m.mu.Unlock()
}

// LoadActiveSessions loads all joinable sessions from database into memory
func (m *Manager) LoadActiveSessions(ctx context.Context) error {
	sessions, err := m.dbManager.ListActiveSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active sessions: %w", err)
	}

	m.mu.Lock()
	m.activeSessions = make(map[string]*types.Session, len(sessions))
	for _, session := range sessions {
		m.activeSessions[session.ID] = session
	}
	m.mu.Unlock()

	m.logger.Info("loaded active sessions", "count", len(sessions))
	return nil
}

// CreateSession validates and persists a new scheduled session
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) (*types.Session, error) {
	created := clone(session)
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	now := m.now().UTC()
	created.Status = types.SessionStatusScheduled
	created.CreatedAt = now
	created.UpdatedAt = now
	created.StartedAt = nil
	created.EndedAt = nil
	if created.RoleAccess == nil {
		created.RoleAccess = []string{}
	}

	if !types.IsValidSessionID(created.ID) {
		return nil, types.ErrInvalidSessionID
	}
	if err := created.Validate(); err != nil {
		return nil, err
	}

	if err := m.dbManager.CreateSession(ctx, created); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.cache(created)
	m.logger.Info("created session", "session_id", created.ID, "title", created.Title, "host_id", created.HostID)
	return clone(created), nil
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	m.mu.RLock()
	session, exists := m.activeSessions[sessionID]
	m.mu.RUnlock()
	if exists {
		return clone(session), nil
	}

	// Query database for closed sessions or cache misses
	session, err := m.dbManager.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions lists sessions, optionally filtered by status
func (m *Manager) ListSessions(ctx context.Context, status string) ([]*types.Session, error) {
	if status != "" && !types.IsValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", types.ErrInvalidSession, status)
	}
	return m.dbManager.ListSessions(ctx, status)
}

// UpdateSession applies patch to a scheduled session
func (m *Manager) UpdateSession(ctx context.Context, sessionID string, patch types.SessionPatch) (*types.Session, error) {
	current, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if current.Status != types.SessionStatusScheduled {
		return nil, ErrSessionLocked
	}

	patch.Apply(current)
	current.UpdatedAt = m.now().UTC()
	if err := current.Validate(); err != nil {
		return nil, err
	}

	if err := m.dbManager.UpdateSession(ctx, current); err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	m.cache(current)
	return clone(current), nil
}

// DeleteSession removes a session that is not currently live
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	current, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if current.Status == types.SessionStatusLive {
		return ErrSessionLive
	}

	if err := m.dbManager.DeleteSession(ctx, sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.activeSessions, sessionID)
	m.mu.Unlock()

	m.logger.Info("deleted session", "session_id", sessionID)
	return nil
}

// StartSession moves a scheduled session to live
func (m *Manager) StartSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return m.transition(ctx, sessionID, types.SessionStatusScheduled, types.SessionStatusLive)
}

// EndSession moves a live session to ended
func (m *Manager) EndSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return m.transition(ctx, sessionID, types.SessionStatusLive, types.SessionStatusEnded)
}

// CancelSession moves a scheduled session to cancelled
func (m *Manager) CancelSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return m.transition(ctx, sessionID, types.SessionStatusScheduled, types.SessionStatusCancelled)
}

// transition performs a single status change
// FUNCTIONAL DISCOVERY: scheduled→live→ended or scheduled→cancelled; anything
// else, including repeating a transition, is rejected
func (m *Manager) transition(ctx context.Context, sessionID, from, to string) (*types.Session, error) {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != from {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, session.Status, to)
	}

	now := m.now().UTC()
	session.Status = to
	session.UpdatedAt = now
	switch to {
	case types.SessionStatusLive:
		session.StartedAt = &now
	case types.SessionStatusEnded, types.SessionStatusCancelled:
		session.EndedAt = &now
	}

	if err := m.dbManager.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}

	if session.Joinable() {
		m.cache(session)
	} else {
		m.mu.Lock()
		delete(m.activeSessions, sessionID)
		listeners := slices.Clone(m.listeners)
		m.mu.Unlock()

		for _, listener := range listeners {
			listener(clone(session))
		}
	}

	m.logger.Info("session status changed", "session_id", sessionID, "from", from, "to", to)
	return clone(session), nil
}

// Join evaluates the guard chain and records attendance
func (m *Manager) Join(ctx context.Context, identity types.Identity, sessionID string) (*types.Session, error) {
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for _, guard := range m.guards {
		if err := guard(identity, session); err != nil {
			m.logger.Info("join denied",
				"session_id", sessionID,
				"user_id", identity.UserID,
				"err", err,
			)
			return nil, err
		}
	}

	attendance := &types.Attendance{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    identity.UserID,
		UserName:  identity.Name,
		JoinedAt:  m.now().UTC(),
	}
	if err := m.dbManager.RecordJoin(ctx, attendance); err != nil {
		return nil, fmt.Errorf("failed to record join: %w", err)
	}

	return session, nil
}

// Admit runs the join guard chain against the in-memory cache only, so a
// socket cannot take a room seat the REST join would have refused. Sessions
// absent from the cache are closed or unknown.
// FUNCTIONAL DISCOVERY: Called on the gateway dispatcher goroutine, which must
// not wait on the database; guards read only the session and presence
func (m *Manager) Admit(identity types.Identity, sessionID string) error {
	m.mu.RLock()
	session, exists := m.activeSessions[sessionID]
	m.mu.RUnlock()
	if !exists {
		return ErrSessionNotJoinable
	}
	for _, guard := range m.guards {
		if err := guard(identity, session); err != nil {
			return err
		}
	}
	return nil
}

// Leave closes the caller's open attendance in the session
func (m *Manager) Leave(ctx context.Context, identity types.Identity, sessionID string) error {
	if _, err := m.GetSession(ctx, sessionID); err != nil {
		return err
	}
	if err := m.dbManager.RecordLeave(ctx, sessionID, identity.UserID, m.now().UTC()); err != nil {
		return fmt.Errorf("failed to record leave: %w", err)
	}
	return nil
}

// Attendance returns the join/leave audit trail of a session
func (m *Manager) Attendance(ctx context.Context, sessionID string) ([]*types.Attendance, error) {
	if _, err := m.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return m.dbManager.ListAttendance(ctx, sessionID)
}

// GetStats returns directory statistics
func (m *Manager) GetStats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	live := 0
	for _, s := range m.activeSessions {
		if s.Status == types.SessionStatusLive {
			live++
		}
	}
	return map[string]any{
		"cached_sessions": len(m.activeSessions),
		"live_sessions":   live,
	}
}

func (m *Manager) cache(session *types.Session) {
	m.mu.Lock()
	m.activeSessions[session.ID] = clone(session)
	m.mu.Unlock()
}

// clone returns a copy that shares nothing mutable with s
func clone(s *types.Session) *types.Session {
	c := *s
	c.RoleAccess = slices.Clone(s.RoleAccess)
	if s.MaxParticipants != nil {
		v := *s.MaxParticipants
		c.MaxParticipants = &v
	}
	if s.StartedAt != nil {
		v := *s.StartedAt
		c.StartedAt = &v
	}
	if s.EndedAt != nil {
		v := *s.EndedAt
		c.EndedAt = &v
	}
	return &c
}
