package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"liveclass/internal/observability"
	"liveclass/internal/router"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

func (g *Gateway) handleConnect(conn interfaces.Connection) {
	if err := g.connections.Register(conn); err != nil {
		g.logger.Warn("connection not registered", "conn_id", conn.ID(), "err", err)
		return
	}
	g.logger.Debug("connection registered", "conn_id", conn.ID(), "user_id", conn.Identity().UserID)
}

// handleFrame decodes and routes one inbound frame
// FUNCTIONAL DISCOVERY: Protocol misuse is logged and answered with an error
// ack when the request carried an id; the connection stays open
func (g *Gateway) handleFrame(ctx context.Context, conn interfaces.Connection, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		g.metrics.Events.WithLabelValues("unknown", observability.OutcomeMalformed).Inc()
		g.logger.Warn("dropping malformed frame", "conn_id", conn.ID(), "err", err)
		return
	}

	if err := g.router.Route(ctx, conn, env); err != nil {
		label, outcome := env.Event, observability.OutcomeRejected
		switch {
		case errors.Is(err, router.ErrUnknownEvent):
			label, outcome = "unknown", observability.OutcomeMalformed
		case errors.Is(err, ErrMalformedPayload):
			outcome = observability.OutcomeMalformed
		}
		g.metrics.Events.WithLabelValues(label, outcome).Inc()
		g.logger.Info("event rejected",
			"conn_id", conn.ID(),
			"user_id", conn.Identity().UserID,
			"event", env.Event,
			"err", err,
		)
		g.ack(conn, env.ID, protocol.AckError(err))
		return
	}

	g.metrics.Events.WithLabelValues(env.Event, observability.OutcomeOK).Inc()
	g.ack(conn, env.ID, protocol.AckOK())
}

// handleJoin places the connection in a room, leaving any previous one
func (g *Gateway) handleJoin(_ context.Context, conn interfaces.Connection, env protocol.Envelope) error {
	var ref protocol.SessionRef
	if err := bindSessionRef(env, &ref); err != nil {
		return err
	}

	identity := conn.Identity()
	if g.admit != nil {
		if err := g.admit(identity, ref.SessionID); err != nil {
			return err
		}
	}

	entry := types.PresenceEntry{
		ConnectionID: conn.ID(),
		SessionID:    ref.SessionID,
		Identity:     identity,
		JoinedAt:     g.now().UTC(),
	}
	if current, ok := g.presence.Get(conn.ID()); ok && current.SessionID == ref.SessionID {
		entry.JoinedAt = current.JoinedAt
	}

	previous, superseded := g.presence.Set(entry)
	if superseded && previous.SessionID != ref.SessionID {
		g.announceLeft(previous, conn.ID())
	}
	g.broadcast(ref.SessionID, conn.ID(), protocol.EventParticipantJoined,
		protocol.PresencePayload{User: identity.Public()})

	g.logger.Info("joined room", "conn_id", conn.ID(), "session_id", ref.SessionID, "user_id", identity.UserID)
	return nil
}

// handleLeave removes the connection from the named room; leaving a room the
// connection is not in does nothing
func (g *Gateway) handleLeave(_ context.Context, conn interfaces.Connection, env protocol.Envelope) error {
	var ref protocol.SessionRef
	if err := bindSessionRef(env, &ref); err != nil {
		return err
	}

	entry, ok := g.presence.Get(conn.ID())
	if !ok || entry.SessionID != ref.SessionID {
		return nil
	}
	g.depart(conn.ID())
	return nil
}

// handleChat relays a message to every member of the sender's room, sender included
func (g *Gateway) handleChat(_ context.Context, conn interfaces.Connection, env protocol.Envelope) error {
	var req protocol.ChatRequest
	if err := env.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	entry, ok := g.presence.Get(conn.ID())
	if !ok || entry.SessionID != req.SessionID {
		return ErrNotInRoom
	}

	text, err := types.NormalizeChatText(req.Message)
	if err != nil {
		return err
	}

	g.broadcast(entry.SessionID, "", protocol.EventChatMessage, types.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: entry.SessionID,
		UserID:    entry.Identity.UserID,
		UserName:  entry.Identity.Name,
		Message:   text,
		Timestamp: g.now().UTC(),
	})
	return nil
}

// handleDisconnect covers departures the client never announced
func (g *Gateway) handleDisconnect(conn interfaces.Connection) {
	g.depart(conn.ID())
	g.connections.Unregister(conn)
	g.logger.Debug("connection unregistered", "conn_id", conn.ID())
}

// depart removes the presence entry of connID and tells the rest of its room.
// Explicit leave and disconnect both come through here, and only the first
// finds an entry, so participant_left is broadcast once.
func (g *Gateway) depart(connID string) {
	entry, ok := g.presence.Remove(connID)
	if !ok {
		return
	}
	g.announceLeft(entry, connID)
	g.logger.Info("left room", "conn_id", connID, "session_id", entry.SessionID, "user_id", entry.Identity.UserID)
}

// announceLeft tells the room of a departed entry that its user is gone,
// unless another connection of the same user is still in that room
func (g *Gateway) announceLeft(entry types.PresenceEntry, connID string) {
	if g.presence.HasUser(entry.SessionID, entry.Identity.UserID) {
		g.logger.Debug("user still present on another connection",
			"conn_id", connID, "session_id", entry.SessionID, "user_id", entry.Identity.UserID)
		return
	}
	g.broadcast(entry.SessionID, connID, protocol.EventParticipantLeft,
		protocol.PresencePayload{User: entry.Identity.Public()})
}

// handleSessionClosed empties the room of a session that ended or was cancelled
func (g *Gateway) handleSessionClosed(session *types.Session) {
	at := g.now().UTC()
	if session.EndedAt != nil {
		at = *session.EndedAt
	}
	frame, err := protocol.New(protocol.EventSessionEnded, "", protocol.SessionEndedPayload{
		SessionID: session.ID,
		Status:    session.Status,
		At:        at,
	})
	if err != nil {
		g.logger.Error("failed to build session_ended", "session_id", session.ID, "err", err)
		return
	}

	members := g.presence.MembersOf(session.ID)
	for _, member := range members {
		g.presence.Remove(member.ConnectionID)
		if conn, ok := g.connections.Get(member.ConnectionID); ok {
			g.send(conn, frame)
			g.metrics.Broadcasts.WithLabelValues(protocol.EventSessionEnded).Inc()
		}
	}
	g.logger.Info("room closed", "session_id", session.ID, "status", session.Status, "members", len(members))
}

// broadcast sends event to every member of the room except exclude
// ARCHITECTURAL DISCOVERY: Sends only enqueue on each recipient's writer; the
// dispatcher never waits on a socket
func (g *Gateway) broadcast(sessionID, exclude, event string, payload any) {
	frame, err := protocol.New(event, "", payload)
	if err != nil {
		g.logger.Error("failed to build broadcast", "event", event, "session_id", sessionID, "err", err)
		return
	}

	for _, member := range g.presence.MembersOf(sessionID) {
		if member.ConnectionID == exclude {
			continue
		}
		conn, ok := g.connections.Get(member.ConnectionID)
		if !ok {
			continue
		}
		g.send(conn, frame)
		g.metrics.Broadcasts.WithLabelValues(event).Inc()
	}
}

func (g *Gateway) ack(conn interfaces.Connection, id string, ack protocol.Ack) {
	if id == "" {
		return
	}
	frame, err := protocol.New(protocol.EventAck, id, ack)
	if err != nil {
		g.logger.Error("failed to build ack", "conn_id", conn.ID(), "err", err)
		return
	}
	g.send(conn, frame)
}

func (g *Gateway) send(conn interfaces.Connection, frame protocol.Envelope) {
	if err := conn.Send(frame); err != nil {
		g.metrics.DroppedSends.Inc()
		g.logger.Debug("send dropped", "conn_id", conn.ID(), "event", frame.Event, "err", err)
	}
}

func bindSessionRef(env protocol.Envelope, ref *protocol.SessionRef) error {
	if err := env.Bind(ref); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if !types.IsValidSessionID(ref.SessionID) {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, types.ErrInvalidSessionID)
	}
	return nil
}
