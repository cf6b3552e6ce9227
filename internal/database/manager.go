package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

var _ interfaces.DatabaseManager = (*Manager)(nil)

// Manager implements the DatabaseManager interface over SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager creates a new database manager
func NewManager(config *dbconfig.Config, logger *slog.Logger) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With("component", "database"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Only lock contention is worth one retry;
			// constraint and not-found errors are returned as-is
			err := op.operation(m.db)
			if isBusy(err) {
				m.logger.Warn("database busy, retrying write", "delay", m.retryDelay, "err", err)
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("database write failed after retry", "err", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug("database write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

const sessionColumns = `id, title, description, scheduled_time, duration_minutes, status,
	host_id, role_access, max_participants, created_at, updated_at, started_at, ended_at`

// CreateSession inserts a new session
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	roleAccess, err := encodeRoles(session.RoleAccess)
	if err != nil {
		return err
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO live_sessions (`+sessionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			session.ID,
			session.Title,
			session.Description,
			session.ScheduledTime.UTC(),
			session.DurationMinutes,
			session.Status,
			session.HostID,
			roleAccess,
			nullInt(session.MaxParticipants),
			session.CreatedAt.UTC(),
			session.UpdatedAt.UTC(),
			nullTime(session.StartedAt),
			nullTime(session.EndedAt),
		)
		if isConstraintViolation(err, sqlite3.ErrConstraintPrimaryKey) {
			return interfaces.ErrDuplicateSession
		}
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

func isConstraintViolation(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM live_sessions WHERE id = ?`, sessionID)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return session, nil
}

// UpdateSession overwrites every mutable column of an existing session
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	roleAccess, err := encodeRoles(session.RoleAccess)
	if err != nil {
		return err
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE live_sessions
			SET title = ?, description = ?, scheduled_time = ?, duration_minutes = ?,
			    status = ?, role_access = ?, max_participants = ?, updated_at = ?,
			    started_at = ?, ended_at = ?
			WHERE id = ?
		`,
			session.Title,
			session.Description,
			session.ScheduledTime.UTC(),
			session.DurationMinutes,
			session.Status,
			roleAccess,
			nullInt(session.MaxParticipants),
			session.UpdatedAt.UTC(),
			nullTime(session.StartedAt),
			nullTime(session.EndedAt),
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return requireAffected(res)
	})
}

// DeleteSession removes a session and, by cascade, its attendance rows
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM live_sessions WHERE id = ?`, sessionID)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return requireAffected(res)
	})
}

// ListSessions returns sessions in schedule order, optionally filtered by status
func (m *Manager) ListSessions(ctx context.Context, status string) ([]*types.Session, error) {
	if status == "" {
		return m.querySessions(ctx, `SELECT `+sessionColumns+` FROM live_sessions ORDER BY scheduled_time ASC`)
	}
	return m.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM live_sessions WHERE status = ? ORDER BY scheduled_time ASC`, status)
}

// ListActiveSessions returns all joinable sessions
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	return m.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM live_sessions WHERE status IN (?, ?) ORDER BY scheduled_time ASC`,
		types.SessionStatusScheduled, types.SessionStatusLive)
}

func (m *Manager) querySessions(ctx context.Context, query string, args ...any) ([]*types.Session, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []*types.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

// RecordJoin stores an attendance row opened by a REST join
func (m *Manager) RecordJoin(ctx context.Context, attendance *types.Attendance) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO session_attendance (id, session_id, user_id, user_name, joined_at)
			VALUES (?, ?, ?, ?, ?)
		`,
			attendance.ID,
			attendance.SessionID,
			attendance.UserID,
			attendance.UserName,
			attendance.JoinedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to record join: %w", err)
		}
		return nil
	})
}

// RecordLeave closes every open attendance row of the user in the session
// FUNCTIONAL DISCOVERY: Leaving without an open row is not an error; the
// client may call leave after a crash recovery that never re-joined
func (m *Manager) RecordLeave(ctx context.Context, sessionID, userID string, at time.Time) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			UPDATE session_attendance
			SET left_at = ?
			WHERE session_id = ? AND user_id = ? AND left_at IS NULL
		`, at.UTC(), sessionID, userID)
		if err != nil {
			return fmt.Errorf("failed to record leave: %w", err)
		}
		return nil
	})
}

// ListAttendance returns the attendance trail of a session in join order
func (m *Manager) ListAttendance(ctx context.Context, sessionID string) ([]*types.Attendance, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, user_id, user_name, joined_at, left_at
		FROM session_attendance
		WHERE session_id = ?
		ORDER BY joined_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []*types.Attendance{}
	for rows.Next() {
		var a types.Attendance
		var leftAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &a.UserName, &a.JoinedAt, &leftAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendance row: %w", err)
		}
		if leftAt.Valid {
			a.LeftAt = &leftAt.Time
		}
		records = append(records, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attendance rows: %w", err)
	}
	return records, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM live_sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*types.Session, error) {
	var (
		session         types.Session
		roleAccessJSON  string
		maxParticipants sql.NullInt64
		startedAt       sql.NullTime
		endedAt         sql.NullTime
	)

	err := row.Scan(
		&session.ID,
		&session.Title,
		&session.Description,
		&session.ScheduledTime,
		&session.DurationMinutes,
		&session.Status,
		&session.HostID,
		&roleAccessJSON,
		&maxParticipants,
		&session.CreatedAt,
		&session.UpdatedAt,
		&startedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	// TECHNICAL DISCOVERY: JSON column keeps role access a single row lookup
	if err := json.Unmarshal([]byte(roleAccessJSON), &session.RoleAccess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal role access: %w", err)
	}
	if maxParticipants.Valid {
		limit := int(maxParticipants.Int64)
		session.MaxParticipants = &limit
	}
	if startedAt.Valid {
		session.StartedAt = &startedAt.Time
	}
	if endedAt.Valid {
		session.EndedAt = &endedAt.Time
	}
	return &session, nil
}

func encodeRoles(roles []string) (string, error) {
	if roles == nil {
		roles = []string{}
	}
	normalized := make([]string, 0, len(roles))
	for _, role := range roles {
		normalized = append(normalized, strings.TrimSpace(role))
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("failed to marshal role access: %w", err)
	}
	return string(raw), nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return interfaces.ErrSessionNotFound
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}
