package directory

import (
	"github.com/samber/lo"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Guard decides whether identity may join session; a non-nil error denies.
// Guards run in order and the first denial wins.
type Guard func(identity types.Identity, session *types.Session) error

// DefaultGuards returns the join pipeline: status, then role, then capacity.
func DefaultGuards(presence interfaces.PresenceReader) []Guard {
	return []Guard{
		RequireJoinableStatus,
		RequireRoleAccess,
		RequireCapacity(presence),
	}
}

// RequireJoinableStatus refuses ended and cancelled sessions.
func RequireJoinableStatus(_ types.Identity, session *types.Session) error {
	if !session.Joinable() {
		return ErrSessionNotJoinable
	}
	return nil
}

// RequireRoleAccess admits administrators, the host, and members whose role is
// listed in the session's role access. An empty role access list is open to
// every authenticated user.
func RequireRoleAccess(identity types.Identity, session *types.Session) error {
	if privileged(identity, session) || len(session.RoleAccess) == 0 {
		return nil
	}
	if identity.Role != "" && lo.Contains(session.RoleAccess, identity.Role) {
		return nil
	}
	return ErrForbidden
}

// RequireCapacity enforces MaxParticipants against distinct users currently
// present in the room. A user already present (second tab, reconnect) is
// never counted against the limit twice.
func RequireCapacity(presence interfaces.PresenceReader) Guard {
	return func(identity types.Identity, session *types.Session) error {
		if session.MaxParticipants == nil || presence == nil || privileged(identity, session) {
			return nil
		}
		if presence.HasUser(session.ID, identity.UserID) {
			return nil
		}
		if presence.CountUsers(session.ID) >= *session.MaxParticipants {
			return ErrSessionFull
		}
		return nil
	}
}

func privileged(identity types.Identity, session *types.Session) bool {
	return identity.IsAdmin() || identity.UserID == session.HostID
}
