package websocket

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/internal/auth"
	"liveclass/internal/observability"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

// TokenVerifier turns a bearer token into an identity
type TokenVerifier interface {
	Verify(token string) (types.Identity, error)
}

// Dispatcher receives the lifecycle and frames of every authenticated
// connection. Calls for one connection arrive in order from one goroutine.
type Dispatcher interface {
	Connect(conn interfaces.Connection) error
	Deliver(conn interfaces.Connection, raw []byte) error
	Disconnect(conn interfaces.Connection) error
}

// HandlerConfig holds socket tuning
type HandlerConfig struct {
	AllowedOrigin    string
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	BufferSize       int
	MaxMessageBytes  int64
}

// Handler upgrades requests on the session namespace, authenticates the
// handshake and pumps frames into the dispatcher
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from
// business logic; the handler never inspects event payloads after connect
type Handler struct {
	verifier   TokenVerifier
	dispatcher Dispatcher
	cfg        HandlerConfig
	upgrader   websocket.Upgrader
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(verifier TokenVerifier, dispatcher Dispatcher, cfg HandlerConfig, metrics *observability.Metrics, logger *slog.Logger) *Handler {
	h := &Handler{
		verifier:   verifier,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger.With("component", "websocket"),
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

// checkOrigin admits the configured front-end origin. Requests without an
// Origin header come from non-browser clients and are admitted; the bearer
// token still gates them.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "*" {
		return true
	}
	return origin == h.cfg.AllowedOrigin
}

// ServeHTTP handles one socket from upgrade to disconnect
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	if h.cfg.MaxMessageBytes > 0 {
		raw.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	identity, err := h.handshake(raw, r)
	if err != nil {
		h.metrics.HandshakeFailures.WithLabelValues(handshakeReason(err)).Inc()
		h.logger.Info("handshake rejected", "remote", r.RemoteAddr, "err", err)
		h.reject(raw, err)
		return
	}

	conn := NewConnection(raw, identity, h.cfg.BufferSize, h.cfg.WriteTimeout)
	connected, err := protocol.New(protocol.EventConnected, "", protocol.ConnectedPayload{
		ConnectionID: conn.ID(),
		User:         identity.Public(),
	})
	if err != nil || conn.Send(connected) != nil {
		_ = conn.Close()
		return
	}

	if err := h.dispatcher.Connect(conn); err != nil {
		h.logger.Warn("dispatcher refused connection", "conn_id", conn.ID(), "err", err)
		_ = conn.Close()
		return
	}
	h.metrics.Connections.Inc()

	go h.pump(conn)
}

// handshake reads the connect frame and verifies the bearer token
// FUNCTIONAL DISCOVERY: No event for this socket reaches the dispatcher
// until this returns successfully
func (h *Handler) handshake(raw *websocket.Conn, r *http.Request) (types.Identity, error) {
	if err := raw.SetReadDeadline(time.Now().Add(h.cfg.HandshakeTimeout)); err != nil {
		return types.Identity{}, err
	}
	_, frame, err := raw.ReadMessage()
	if err != nil {
		return types.Identity{}, err
	}

	env, err := protocol.Decode(frame)
	if err != nil {
		return types.Identity{}, err
	}
	if env.Event != protocol.EventConnect {
		return types.Identity{}, ErrHandshakeExpected
	}

	var payload protocol.ConnectPayload
	if len(env.Data) > 0 {
		if err := env.Bind(&payload); err != nil {
			return types.Identity{}, err
		}
	}
	explicit := ""
	if payload.Auth != nil {
		explicit = payload.Auth.Token
	}

	return h.verifier.Verify(auth.TokenFromRequest(explicit, r))
}

// reject tells the client why and terminates the socket
func (h *Handler) reject(raw *websocket.Conn, cause error) {
	deadline := time.Now().Add(h.cfg.WriteTimeout)
	if frame, err := protocol.New(protocol.EventConnectError, "", protocol.ConnectErrorPayload{Message: cause.Error()}); err == nil {
		_ = raw.SetWriteDeadline(deadline)
		_ = raw.WriteJSON(frame)
	}
	_ = raw.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
		deadline)
	_ = raw.Close()
}

// pump reads frames until the socket fails, then reports the disconnect
// ARCHITECTURAL DISCOVERY: Single goroutine per connection reads frames;
// pings run on a ticker beside it and stop with the connection
func (h *Handler) pump(conn *Connection) {
	defer func() {
		if err := h.dispatcher.Disconnect(conn); err != nil {
			h.logger.Warn("disconnect not dispatched", "conn_id", conn.ID(), "err", err)
		}
		_ = conn.Close()
		h.metrics.Connections.Dec()
	}()

	extend := func() error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	}
	if err := extend(); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error { return extend() })

	go h.ping(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket read error", "conn_id", conn.ID(), "err", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := extend(); err != nil {
			return
		}
		if err := h.dispatcher.Deliver(conn, data); err != nil {
			h.logger.Warn("frame not dispatched", "conn_id", conn.ID(), "err", err)
			return
		}
	}
}

func (h *Handler) ping(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func handshakeReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return "missing_token"
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired_token"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrHandshakeExpected), errors.Is(err, protocol.ErrMalformedFrame), errors.Is(err, protocol.ErrMissingEvent):
		return "bad_frame"
	default:
		return "io"
	}
}
