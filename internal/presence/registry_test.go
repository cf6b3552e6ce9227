package presence

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"liveclass/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func entry(conn, session, user string, offset int) types.PresenceEntry {
	return types.PresenceEntry{
		ConnectionID: conn,
		SessionID:    session,
		Identity:     types.Identity{UserID: user, Name: "name-" + user, Role: "premium"},
		JoinedAt:     t0.Add(time.Duration(offset) * time.Second),
	}
}

func TestRegistry_SetAndRemove(t *testing.T) {
	r := NewRegistry()

	_, superseded := r.Set(entry("c1", "42", "A", 0))
	require.False(t, superseded)
	r.Set(entry("c2", "42", "B", 1))

	require.Equal(t, 2, r.Count("42"))
	members := r.MembersOf("42")
	require.Equal(t, "c1", members[0].ConnectionID)
	require.Equal(t, "c2", members[1].ConnectionID)

	removed, ok := r.Remove("c1")
	require.True(t, ok)
	require.Equal(t, "A", removed.Identity.UserID)

	_, ok = r.Remove("c1")
	require.False(t, ok, "second removal is a no-op")

	require.Equal(t, 1, r.Count("42"))
	_, ok = r.Get("c1")
	require.False(t, ok)
}

func TestRegistry_SingleRoomPerConnection(t *testing.T) {
	r := NewRegistry()

	r.Set(entry("c1", "room-a", "A", 0))
	previous, superseded := r.Set(entry("c1", "room-b", "A", 1))

	require.True(t, superseded)
	require.Equal(t, "room-a", previous.SessionID)
	require.Equal(t, 0, r.Count("room-a"))
	require.Equal(t, 1, r.Count("room-b"))
	require.Equal(t, 1, r.Stats()["occupied_rooms"])

	got, ok := r.Get("c1")
	require.True(t, ok)
	require.Equal(t, "room-b", got.SessionID)
}

func TestRegistry_IdentitiesDeduplicatesUsers(t *testing.T) {
	r := NewRegistry()

	r.Set(entry("c1", "42", "A", 0))
	r.Set(entry("c2", "42", "B", 1))
	r.Set(entry("c3", "42", "A", 2)) // second tab

	ids := r.Identities("42")
	require.Len(t, ids, 2)
	require.Equal(t, "A", ids[0].UserID)
	require.Equal(t, "B", ids[1].UserID)
	require.Empty(t, ids[0].Role, "role is not exposed to other participants")

	require.Equal(t, 3, r.Count("42"))
	require.Equal(t, 2, r.CountUsers("42"))
	require.True(t, r.HasUser("42", "A"))
	require.False(t, r.HasUser("42", "C"))
	require.False(t, r.HasUser("other", "A"))
}

func TestRegistry_EmptyRoom(t *testing.T) {
	r := NewRegistry()

	require.Empty(t, r.MembersOf("nobody"))
	require.Empty(t, r.Identities("nobody"))
	require.Zero(t, r.CountUsers("nobody"))
}

// Concurrent readers alongside a single writer, as the gateway uses it
func TestRegistry_InvariantUnderRandomOperations(t *testing.T) {
	r := NewRegistry()
	rng := rand.New(rand.NewSource(7))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = r.Identities("room-1")
					_ = r.CountUsers("room-2")
				}
			}
		}()
	}

	rooms := []string{"room-1", "room-2", "room-3"}
	for i := 0; i < 2000; i++ {
		conn := fmt.Sprintf("c%d", rng.Intn(20))
		if rng.Intn(3) == 0 {
			r.Remove(conn)
			continue
		}
		r.Set(entry(conn, rooms[rng.Intn(len(rooms))], conn, i))
	}
	close(stop)
	wg.Wait()

	total := 0
	seen := map[string]string{}
	for _, room := range rooms {
		for _, m := range r.MembersOf(room) {
			prev, dup := seen[m.ConnectionID]
			require.False(t, dup, "connection %s in both %s and %s", m.ConnectionID, prev, room)
			seen[m.ConnectionID] = room
			total++
		}
	}
	require.Equal(t, r.Stats()["present_connections"], total)
}
