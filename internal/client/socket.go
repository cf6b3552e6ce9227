package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

// WSDialer connects to the gateway namespace over gorilla/websocket
type WSDialer struct {
	url              string
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	logger           *slog.Logger
}

var _ Dialer = (*WSDialer)(nil)

// NewWSDialer targets a socket URL such as ws://localhost:8080/ws/sessions
func NewWSDialer(url string, logger *slog.Logger) *WSDialer {
	return &WSDialer{
		url:              url,
		dialer:           &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		handshakeTimeout: 10 * time.Second,
		writeTimeout:     10 * time.Second,
		logger:           logger.With("component", "socket"),
	}
}

// Dial upgrades, sends the connect frame and waits for connected
// FUNCTIONAL DISCOVERY: The token travels both as a header and in the connect
// payload; the gateway prefers the payload
func (d *WSDialer) Dial(ctx context.Context, token string) (Socket, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	identity, connID, err := d.handshake(conn, token)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	s := &wsSocket{
		conn:         conn,
		identity:     identity,
		connectionID: connID,
		writeTimeout: d.writeTimeout,
		events:       make(chan protocol.Envelope, 256),
		pending:      make(map[string]chan protocol.Ack),
		done:         make(chan struct{}),
		logger:       d.logger.With("conn_id", connID),
	}
	go s.readLoop()
	return s, nil
}

func (d *WSDialer) handshake(conn *websocket.Conn, token string) (types.Identity, string, error) {
	frame, err := protocol.New(protocol.EventConnect, "", protocol.ConnectPayload{Auth: &protocol.ConnectAuth{Token: token}})
	if err != nil {
		return types.Identity{}, "", err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(d.writeTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		return types.Identity{}, "", fmt.Errorf("send connect: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(d.handshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return types.Identity{}, "", fmt.Errorf("read handshake reply: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(raw)
	if err != nil {
		return types.Identity{}, "", err
	}
	switch env.Event {
	case protocol.EventConnected:
		var p protocol.ConnectedPayload
		if err := env.Bind(&p); err != nil {
			return types.Identity{}, "", err
		}
		return p.User, p.ConnectionID, nil
	case protocol.EventConnectError:
		var p protocol.ConnectErrorPayload
		_ = env.Bind(&p)
		return types.Identity{}, "", fmt.Errorf("%w: %s", ErrUnauthorized, p.Message)
	default:
		return types.Identity{}, "", fmt.Errorf("unexpected handshake reply %q", env.Event)
	}
}

// wsSocket correlates acks by envelope id and hands every other frame to Events
type wsSocket struct {
	conn         *websocket.Conn
	identity     types.Identity
	connectionID string
	writeTimeout time.Duration
	logger       *slog.Logger

	writeMu sync.Mutex // TECHNICAL DISCOVERY: gorilla allows one concurrent writer
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan protocol.Ack
	err     error

	events    chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func (s *wsSocket) Identity() types.Identity         { return s.identity }
func (s *wsSocket) ConnectionID() string             { return s.connectionID }
func (s *wsSocket) Events() <-chan protocol.Envelope { return s.events }
func (s *wsSocket) Done() <-chan struct{}            { return s.done }

func (s *wsSocket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSocket) Request(ctx context.Context, event string, payload any) (protocol.Ack, error) {
	id := strconv.FormatUint(s.nextID.Add(1), 10)
	reply := make(chan protocol.Ack, 1)

	s.mu.Lock()
	s.pending[id] = reply
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.write(event, id, payload); err != nil {
		return protocol.Ack{}, err
	}

	select {
	case ack := <-reply:
		return ack, nil
	case <-ctx.Done():
		return protocol.Ack{}, ctx.Err()
	case <-s.done:
		return protocol.Ack{}, ErrConnectionLost
	}
}

func (s *wsSocket) Emit(event string, payload any) error {
	return s.write(event, "", payload)
}

func (s *wsSocket) write(event, id string, payload any) error {
	frame, err := protocol.New(event, id, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case <-s.done:
		return ErrConnectionLost
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		s.shutdown(err)
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// readLoop runs until the connection fails or is closed
func (s *wsSocket) readLoop() {
	defer close(s.events)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(err)
			return
		}
		env, err := protocol.Decode(raw)
		if err != nil {
			s.logger.Warn("dropping malformed server frame", "err", err)
			continue
		}

		if env.Event == protocol.EventAck {
			s.resolve(env)
			continue
		}

		// TECHNICAL DISCOVERY: Never block the reader on a slow consumer, or
		// acks queued behind the event would stall too
		select {
		case s.events <- env:
		default:
			s.logger.Warn("event buffer full, dropping", "event", env.Event)
		}
	}
}

func (s *wsSocket) resolve(env protocol.Envelope) {
	var ack protocol.Ack
	if err := env.Bind(&ack); err != nil {
		s.logger.Warn("dropping malformed ack", "id", env.ID, "err", err)
		return
	}
	s.mu.Lock()
	reply, ok := s.pending[env.ID]
	s.mu.Unlock()
	if !ok {
		return
	}
	select {
	case reply <- ack:
	default:
	}
}

func (s *wsSocket) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *wsSocket) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	s.shutdown(nil)
	return nil
}
