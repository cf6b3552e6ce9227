package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

var _ interfaces.Connection = (*Connection)(nil)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	id           string
	conn         *websocket.Conn
	identity     types.Identity
	writeCh      chan []byte // FUNCTIONAL DISCOVERY: buffer absorbs broadcast bursts
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps an upgraded socket whose identity is already verified
func NewConnection(conn *websocket.Conn, identity types.Identity, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		identity:     identity,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()
	return c
}

// ID returns the ephemeral connection identifier
func (c *Connection) ID() string { return c.id }

// Identity returns the identity verified during the handshake
func (c *Connection) Identity() types.Identity { return c.identity }

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// writeCh is never closed, so Send cannot panic on a closed channel.
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send marshals v and queues it without blocking
// FUNCTIONAL DISCOVERY: A peer that cannot keep up is disconnected rather
// than allowed to stall the dispatcher; its disconnect then flows through the
// normal leave path
func (c *Connection) Send(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		// TECHNICAL DISCOVERY: Close waits on gorilla's write lock, which the
		// write loop holds while stuck on this peer; only cancel inline
		c.cancel()
		go func() { _ = c.Close() }()
		return ErrSendQueueFull
	}
}

// Ping writes a ping control frame
// TECHNICAL DISCOVERY: WriteControl may run concurrently with writeLoop
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close closes the socket once; later calls are no-ops
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
