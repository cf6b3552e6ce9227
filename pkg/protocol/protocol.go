// Package protocol defines the JSON frames exchanged on the /ws/sessions namespace.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"liveclass/pkg/types"
)

// Namespace is the socket path served by the gateway.
const Namespace = "/ws/sessions"

// Handshake frames
const (
	EventConnect      = "connect"
	EventConnected    = "connected"
	EventConnectError = "connect_error"
)

// Inbound events
const (
	EventJoinSession  = "join_session"
	EventLeaveSession = "leave_session"
	EventChatMessage  = "chat_message"
)

// Outbound events. chat_message is used in both directions.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventSessionEnded      = "session_ended"
	EventAck               = "ack"
)

// Ack statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingEvent   = errors.New("frame has no event name")
)

// Envelope wraps every frame on the wire. ID is set by the sender of a
// request that expects an acknowledgement and echoed back on the ack.
type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode parses a raw frame and checks it names an event.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" {
		return Envelope{}, ErrMissingEvent
	}
	return env, nil
}

// Bind unmarshals the envelope payload into v.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformedFrame, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, e.Event, err)
	}
	return nil
}

// New builds an envelope with a marshalled payload.
func New(event, id string, data any) (Envelope, error) {
	env := Envelope{Event: event, ID: id}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

// ConnectAuth is the optional explicit auth payload of the handshake.
type ConnectAuth struct {
	Token string `json:"token"`
}

// ConnectPayload is sent by the client as its first frame.
type ConnectPayload struct {
	Auth *ConnectAuth `json:"auth,omitempty"`
}

// ConnectedPayload confirms a verified handshake.
type ConnectedPayload struct {
	ConnectionID string         `json:"connectionId"`
	User         types.Identity `json:"user"`
}

// ConnectErrorPayload precedes the server closing a rejected handshake.
type ConnectErrorPayload struct {
	Message string `json:"message"`
}

// SessionRef is the payload of join_session and leave_session.
type SessionRef struct {
	SessionID string `json:"sessionId"`
}

// ChatRequest is the inbound chat_message payload.
type ChatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// PresencePayload is carried by participant_joined and participant_left.
type PresencePayload struct {
	User types.Identity `json:"user"`
}

// SessionEndedPayload tells a room its session is over.
type SessionEndedPayload struct {
	SessionID string    `json:"sessionId"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

// Ack answers a request carrying an envelope ID.
type Ack struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the ack signals success.
func (a Ack) OK() bool {
	return a.Status == StatusOK
}

// AckOK is the success acknowledgement.
func AckOK() Ack {
	return Ack{Status: StatusOK}
}

// AckError reports a rejected request without closing the connection.
func AckError(err error) Ack {
	return Ack{Status: StatusError, Error: err.Error()}
}
