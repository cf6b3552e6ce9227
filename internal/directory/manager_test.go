package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// In-memory DatabaseManager for testing
type fakeDatabase struct {
	mu         sync.Mutex
	sessions   map[string]*types.Session
	attendance []*types.Attendance
	failWrites bool
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{sessions: make(map[string]*types.Session)}
}

var errWriteFailed = errors.New("write failed")

func (f *fakeDatabase) CreateSession(ctx context.Context, s *types.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errWriteFailed
	}
	f.sessions[s.ID] = clone(s)
	return nil
}

func (f *fakeDatabase) GetSession(ctx context.Context, id string) (*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return clone(s), nil
}

func (f *fakeDatabase) UpdateSession(ctx context.Context, s *types.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errWriteFailed
	}
	if _, ok := f.sessions[s.ID]; !ok {
		return interfaces.ErrSessionNotFound
	}
	f.sessions[s.ID] = clone(s)
	return nil
}

func (f *fakeDatabase) DeleteSession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return interfaces.ErrSessionNotFound
	}
	delete(f.sessions, id)
	return nil
}

func (f *fakeDatabase) ListSessions(ctx context.Context, status string) ([]*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Session
	for _, s := range f.sessions {
		if status == "" || s.Status == status {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeDatabase) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Session
	for _, s := range f.sessions {
		if s.Joinable() {
			out = append(out, clone(s))
		}
	}
	return out, nil
}

func (f *fakeDatabase) RecordJoin(ctx context.Context, a *types.Attendance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return errWriteFailed
	}
	f.attendance = append(f.attendance, a)
	return nil
}

func (f *fakeDatabase) RecordLeave(ctx context.Context, sessionID, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attendance {
		if a.SessionID == sessionID && a.UserID == userID && a.LeftAt == nil {
			left := at
			a.LeftAt = &left
		}
	}
	return nil
}

func (f *fakeDatabase) ListAttendance(ctx context.Context, sessionID string) ([]*types.Attendance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Attendance
	for _, a := range f.attendance {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeDatabase) HealthCheck(ctx context.Context) error { return nil }
func (f *fakeDatabase) Close() error                          { return nil }

type fakePresence struct {
	users map[string][]string
}

func (p *fakePresence) Identities(sessionID string) []types.Identity { return nil }
func (p *fakePresence) CountUsers(sessionID string) int              { return len(p.users[sessionID]) }
func (p *fakePresence) HasUser(sessionID, userID string) bool {
	for _, u := range p.users[sessionID] {
		if u == userID {
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *fakeDatabase) {
	t.Helper()
	db := newFakeDatabase()
	return NewManager(db, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...), db
}

func draft(host string, roles ...string) *types.Session {
	return &types.Session{
		Title:           "Risk management",
		ScheduledTime:   time.Now().Add(time.Hour),
		DurationMinutes: 45,
		HostID:          host,
		RoleAccess:      roles,
	}
}

func TestManager_CreateSession(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()

	created, err := m.CreateSession(ctx, draft("host-1", "premium"))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, types.SessionStatusScheduled, created.Status)
	require.False(t, created.CreatedAt.IsZero())

	stored, err := db.GetSession(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, created.Title, stored.Title)
	require.Equal(t, 1, m.GetStats()["cached_sessions"])
}

func TestManager_CreateSessionValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*types.Session)
		want   error
	}{
		{"empty title", func(s *types.Session) { s.Title = "" }, types.ErrInvalidSession},
		{"bad host", func(s *types.Session) { s.HostID = "bad host" }, types.ErrInvalidSession},
		{"zero schedule", func(s *types.Session) { s.ScheduledTime = time.Time{} }, types.ErrInvalidSession},
		{"zero capacity", func(s *types.Session) { zero := 0; s.MaxParticipants = &zero }, types.ErrInvalidSession},
		{"bad id", func(s *types.Session) { s.ID = "has space" }, types.ErrInvalidSessionID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := draft("host-1")
			tt.mutate(s)
			_, err := m.CreateSession(ctx, s)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestManager_LifecycleTransitions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, draft("host-1"))
	require.NoError(t, err)

	_, err = m.EndSession(ctx, s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	live, err := m.StartSession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, types.SessionStatusLive, live.Status)
	require.NotNil(t, live.StartedAt)

	_, err = m.StartSession(ctx, s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = m.CancelSession(ctx, s.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	ended, err := m.EndSession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, types.SessionStatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	require.Equal(t, 0, m.GetStats()["cached_sessions"])

	// still readable from the database after leaving the cache
	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, types.SessionStatusEnded, got.Status)
}

func TestManager_ClosedListenerFiresOnEndAndCancel(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	var closed []string
	m.OnSessionClosed(func(s *types.Session) { closed = append(closed, s.ID+":"+s.Status) })

	a, err := m.CreateSession(ctx, draft("host-1"))
	require.NoError(t, err)
	b, err := m.CreateSession(ctx, draft("host-1"))
	require.NoError(t, err)

	_, err = m.StartSession(ctx, a.ID)
	require.NoError(t, err)
	require.Empty(t, closed)

	_, err = m.EndSession(ctx, a.ID)
	require.NoError(t, err)
	_, err = m.CancelSession(ctx, b.ID)
	require.NoError(t, err)

	require.Equal(t, []string{a.ID + ":ended", b.ID + ":cancelled"}, closed)
}

func TestManager_UpdateOnlyWhileScheduled(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, draft("host-1"))
	require.NoError(t, err)

	title := "Updated"
	limit := 10
	updated, err := m.UpdateSession(ctx, s.ID, types.SessionPatch{Title: &title, MaxParticipants: &limit})
	require.NoError(t, err)
	require.Equal(t, "Updated", updated.Title)
	require.Equal(t, 10, *updated.MaxParticipants)

	empty := ""
	_, err = m.UpdateSession(ctx, s.ID, types.SessionPatch{Title: &empty})
	require.ErrorIs(t, err, types.ErrInvalidSession)

	_, err = m.StartSession(ctx, s.ID)
	require.NoError(t, err)
	_, err = m.UpdateSession(ctx, s.ID, types.SessionPatch{Title: &title})
	require.ErrorIs(t, err, ErrSessionLocked)
}

func TestManager_DeleteSession(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, draft("host-1"))
	require.NoError(t, err)
	_, err = m.StartSession(ctx, s.ID)
	require.NoError(t, err)

	require.ErrorIs(t, m.DeleteSession(ctx, s.ID), ErrSessionLive)

	_, err = m.EndSession(ctx, s.ID)
	require.NoError(t, err)
	require.NoError(t, m.DeleteSession(ctx, s.ID))

	_, err = m.GetSession(ctx, s.ID)
	require.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestManager_JoinRecordsAttendance(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, draft("host-1", "premium"))
	require.NoError(t, err)

	user := types.Identity{UserID: "u1", Name: "Ana", Role: "premium"}
	joined, err := m.Join(ctx, user, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, joined.ID)

	require.NoError(t, m.Leave(ctx, user, s.ID))

	records, err := m.Attendance(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Ana", records[0].UserName)
	require.NotNil(t, records[0].LeftAt)

	db.failWrites = true
	_, err = m.Join(ctx, user, s.ID)
	require.ErrorIs(t, err, errWriteFailed)
}

func TestManager_JoinCancelledSessionNotJoinable(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, draft("host-1"))
	require.NoError(t, err)
	_, err = m.CancelSession(ctx, s.ID)
	require.NoError(t, err)

	_, err = m.Join(ctx, types.Identity{UserID: "u1", Role: types.RoleAdmin}, s.ID)
	require.ErrorIs(t, err, ErrSessionNotJoinable)
	require.Empty(t, db.attendance)
}

func TestManager_JoinUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Join(context.Background(), types.Identity{UserID: "u1"}, "ghost")
	require.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func TestGuards_RoleAccess(t *testing.T) {
	session := &types.Session{ID: "s", HostID: "host", Status: types.SessionStatusLive, RoleAccess: []string{"premium"}}
	open := &types.Session{ID: "s", HostID: "host", Status: types.SessionStatusLive}

	tests := []struct {
		name     string
		identity types.Identity
		session  *types.Session
		want     error
	}{
		{"listed role", types.Identity{UserID: "u", Role: "premium"}, session, nil},
		{"unlisted role", types.Identity{UserID: "u", Role: "basic"}, session, ErrForbidden},
		{"no role", types.Identity{UserID: "u"}, session, ErrForbidden},
		{"admin", types.Identity{UserID: "u", Role: types.RoleAdmin}, session, nil},
		{"host", types.Identity{UserID: "host", Role: "basic"}, session, nil},
		{"open session", types.Identity{UserID: "u"}, open, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RequireRoleAccess(tt.identity, tt.session)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGuards_Capacity(t *testing.T) {
	limit := 2
	session := &types.Session{ID: "s", HostID: "host", Status: types.SessionStatusLive, MaxParticipants: &limit}
	presence := &fakePresence{users: map[string][]string{"s": {"a", "b"}}}
	guard := RequireCapacity(presence)

	require.ErrorIs(t, guard(types.Identity{UserID: "c"}, session), ErrSessionFull)
	require.NoError(t, guard(types.Identity{UserID: "a"}, session), "present users rejoin freely")
	require.NoError(t, guard(types.Identity{UserID: "host"}, session))
	require.NoError(t, guard(types.Identity{UserID: "c", Role: types.RoleAdmin}, session))

	presence.users["s"] = []string{"a"}
	require.NoError(t, guard(types.Identity{UserID: "c"}, session))

	session.MaxParticipants = nil
	presence.users["s"] = []string{"a", "b", "d"}
	require.NoError(t, guard(types.Identity{UserID: "c"}, session))
}

func TestManager_GuardChainOrder(t *testing.T) {
	limit := 1
	presence := &fakePresence{users: map[string][]string{}}
	m, _ := newTestManager(t, WithGuards(DefaultGuards(presence)...))
	ctx := context.Background()

	d := draft("host-1", "premium")
	d.MaxParticipants = &limit
	s, err := m.CreateSession(ctx, d)
	require.NoError(t, err)

	presence.users[s.ID] = []string{"someone"}

	// role denial comes before the capacity check
	_, err = m.Join(ctx, types.Identity{UserID: "u1", Role: "basic"}, s.ID)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = m.Join(ctx, types.Identity{UserID: "u1", Role: "premium"}, s.ID)
	require.ErrorIs(t, err, ErrSessionFull)
}

func TestManager_LoadActiveSessions(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()

	db.sessions["a"] = &types.Session{ID: "a", Status: types.SessionStatusLive}
	db.sessions["b"] = &types.Session{ID: "b", Status: types.SessionStatusEnded}

	require.NoError(t, m.LoadActiveSessions(ctx))
	stats := m.GetStats()
	require.Equal(t, 1, stats["cached_sessions"])
	require.Equal(t, 1, stats["live_sessions"])
}

func TestManager_ListSessionsRejectsUnknownStatus(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.ListSessions(context.Background(), "paused")
	require.ErrorIs(t, err, types.ErrInvalidSession)
}

func TestManager_AdmitUsesCache(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()

	s, err := m.CreateSession(ctx, draft("host-1", "premium"))
	require.NoError(t, err)

	require.NoError(t, m.Admit(types.Identity{UserID: "u1", Role: "premium"}, s.ID))
	require.ErrorIs(t, m.Admit(types.Identity{UserID: "u1", Role: "basic"}, s.ID), ErrForbidden)
	require.ErrorIs(t, m.Admit(types.Identity{UserID: "u1"}, "ghost"), ErrSessionNotJoinable)

	// present in the database but never cached
	db.sessions["cold"] = &types.Session{ID: "cold", Status: types.SessionStatusLive}
	require.ErrorIs(t, m.Admit(types.Identity{UserID: "u1"}, "cold"), ErrSessionNotJoinable)

	_, err = m.CancelSession(ctx, s.ID)
	require.NoError(t, err)
	require.ErrorIs(t, m.Admit(types.Identity{UserID: "u1", Role: types.RoleAdmin}, s.ID), ErrSessionNotJoinable)
}

func TestManager_AdmitEnforcesCapacity(t *testing.T) {
	limit := 2
	presence := &fakePresence{users: map[string][]string{}}
	m, _ := newTestManager(t, WithGuards(DefaultGuards(presence)...))

	d := draft("host-1")
	d.MaxParticipants = &limit
	s, err := m.CreateSession(context.Background(), d)
	require.NoError(t, err)

	presence.users[s.ID] = []string{"a", "b"}

	require.ErrorIs(t, m.Admit(types.Identity{UserID: "c"}, s.ID), ErrSessionFull)
	require.NoError(t, m.Admit(types.Identity{UserID: "b"}, s.ID), "a present user may add a connection")
	require.NoError(t, m.Admit(types.Identity{UserID: "host-1"}, s.ID), "the host bypasses the limit")
}
