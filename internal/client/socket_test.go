package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"liveclass/pkg/protocol"
)

// fakeGateway speaks just enough of the session namespace for the dialer
type fakeGateway struct {
	t        *testing.T
	upgrader websocket.Upgrader
	reject   string
	frames   chan protocol.Envelope
	conns    chan *websocket.Conn
}

func newFakeGateway(t *testing.T) (*fakeGateway, string) {
	t.Helper()
	g := &fakeGateway{
		t:      t,
		frames: make(chan protocol.Envelope, 16),
		conns:  make(chan *websocket.Conn, 1),
	}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, "ws" + strings.TrimPrefix(srv.URL, "http") + protocol.Namespace
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var hello protocol.Envelope
	if err := conn.ReadJSON(&hello); err != nil || hello.Event != protocol.EventConnect {
		_ = conn.Close()
		return
	}
	var payload protocol.ConnectPayload
	_ = hello.Bind(&payload)

	if g.reject != "" || payload.Auth == nil || payload.Auth.Token != "tok" {
		reply, _ := protocol.New(protocol.EventConnectError, "", protocol.ConnectErrorPayload{Message: g.reject})
		_ = conn.WriteJSON(reply)
		_ = conn.Close()
		return
	}

	reply, _ := protocol.New(protocol.EventConnected, "", protocol.ConnectedPayload{ConnectionID: "conn-1", User: alice})
	_ = conn.WriteJSON(reply)
	g.conns <- conn

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			close(g.frames)
			return
		}
		g.frames <- env
		if env.ID == "" {
			continue
		}
		ack := protocol.AckOK()
		if env.Event == protocol.EventJoinSession {
			var ref protocol.SessionRef
			_ = env.Bind(&ref)
			if ref.SessionID == "closed" {
				ack = protocol.Ack{Status: protocol.StatusError, Error: "session is not joinable"}
			}
		}
		frame, _ := protocol.New(protocol.EventAck, env.ID, ack)
		_ = conn.WriteJSON(frame)
	}
}

func dialTest(t *testing.T, url, token string) (Socket, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return NewWSDialer(url, slog.New(slog.NewTextHandler(io.Discard, nil))).Dial(ctx, token)
}

func TestWSDialer_Handshake(t *testing.T) {
	_, url := newFakeGateway(t)

	sock, err := dialTest(t, url, "tok")
	require.NoError(t, err)
	defer func() { _ = sock.Close() }()

	require.Equal(t, alice, sock.Identity())
	require.Equal(t, "conn-1", sock.(*wsSocket).ConnectionID())
}

func TestWSDialer_ConnectErrorIsUnauthorized(t *testing.T) {
	g, url := newFakeGateway(t)
	g.reject = "token expired"

	_, err := dialTest(t, url, "tok")
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Contains(t, err.Error(), "token expired")
}

func TestWSSocket_RequestCorrelatesAcks(t *testing.T) {
	g, url := newFakeGateway(t)
	sock, err := dialTest(t, url, "tok")
	require.NoError(t, err)
	defer func() { _ = sock.Close() }()

	ctx := context.Background()
	ack, err := sock.Request(ctx, protocol.EventJoinSession, protocol.SessionRef{SessionID: "42"})
	require.NoError(t, err)
	require.True(t, ack.OK())

	ack, err = sock.Request(ctx, protocol.EventJoinSession, protocol.SessionRef{SessionID: "closed"})
	require.NoError(t, err)
	require.False(t, ack.OK())
	require.Equal(t, "session is not joinable", ack.Error)

	first := <-g.frames
	second := <-g.frames
	require.NotEmpty(t, first.ID)
	require.NotEqual(t, first.ID, second.ID)
}

func TestWSSocket_EmitAndEvents(t *testing.T) {
	g, url := newFakeGateway(t)
	sock, err := dialTest(t, url, "tok")
	require.NoError(t, err)
	defer func() { _ = sock.Close() }()
	server := <-g.conns

	require.NoError(t, sock.Emit(protocol.EventChatMessage, protocol.ChatRequest{SessionID: "42", Message: "hi"}))
	frame := <-g.frames
	require.Equal(t, protocol.EventChatMessage, frame.Event)
	require.Empty(t, frame.ID, "emit expects no ack")
	var chat protocol.ChatRequest
	require.NoError(t, json.Unmarshal(frame.Data, &chat))
	require.Equal(t, "hi", chat.Message)

	push, err := protocol.New(protocol.EventParticipantJoined, "", protocol.PresencePayload{User: bob})
	require.NoError(t, err)
	require.NoError(t, server.WriteJSON(push))

	select {
	case env := <-sock.Events():
		require.Equal(t, protocol.EventParticipantJoined, env.Event)
		var p protocol.PresencePayload
		require.NoError(t, env.Bind(&p))
		require.Equal(t, bob, p.User)
	case <-time.After(2 * time.Second):
		t.Fatal("push not delivered")
	}
}

func TestWSSocket_ServerCloseEndsEvents(t *testing.T) {
	g, url := newFakeGateway(t)
	sock, err := dialTest(t, url, "tok")
	require.NoError(t, err)

	server := <-g.conns
	_ = server.Close()

	select {
	case <-sock.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("socket did not notice the server going away")
	}
	_, open := <-sock.Events()
	require.False(t, open)
	require.Error(t, sock.Err())

	_, err = sock.Request(context.Background(), protocol.EventLeaveSession, protocol.SessionRef{SessionID: "42"})
	require.ErrorIs(t, err, ErrConnectionLost)
	require.NoError(t, sock.Close())
}
