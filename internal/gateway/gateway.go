package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"liveclass/internal/observability"
	"liveclass/internal/presence"
	"liveclass/internal/router"
	"liveclass/internal/websocket"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

var _ websocket.Dispatcher = (*Gateway)(nil)

// Admission decides whether identity may occupy the room of sessionID.
// It runs on the dispatcher goroutine and must not block.
type Admission func(identity types.Identity, sessionID string) error

type eventKind int

const (
	kindConnect eventKind = iota
	kindFrame
	kindDisconnect
	kindSessionClosed
	kindBarrier
)

// event is one unit of dispatcher work
type event struct {
	kind    eventKind
	conn    interfaces.Connection
	raw     []byte
	session *types.Session
	done    chan struct{}
}

// Gateway coordinates room membership and chat for every socket
// ARCHITECTURAL DISCOVERY: Every connect, frame, disconnect and session-closed
// notification is funnelled through one channel into one goroutine, so
// presence mutations and the broadcasts they cause never interleave and each
// room sees events in the order they were processed
type Gateway struct {
	events   chan event
	shutdown chan struct{}
	stopped  chan struct{}

	connections *websocket.Registry
	presence    *presence.Registry
	router      *router.Router
	admit       Admission
	metrics     *observability.Metrics
	logger      *slog.Logger
	now         func() time.Time

	running bool
	mu      sync.RWMutex
}

// Option configures a Gateway
type Option func(*Gateway)

// WithAdmission checks join_session requests before membership changes
func WithAdmission(admit Admission) Option {
	return func(g *Gateway) { g.admit = admit }
}

// WithClock overrides the time source used for joins and chat timestamps
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithQueueSize sets the dispatcher queue capacity
func WithQueueSize(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.events = make(chan event, n)
		}
	}
}

// NewGateway creates a gateway over the shared connection index and presence registry
func NewGateway(connections *websocket.Registry, presence *presence.Registry, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		// TECHNICAL DISCOVERY: Buffer absorbs a classroom's worth of simultaneous joins
		events:      make(chan event, 1000),
		shutdown:    make(chan struct{}),
		stopped:     make(chan struct{}),
		connections: connections,
		presence:    presence,
		metrics:     metrics,
		logger:      logger.With("component", "gateway"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.router = g.routes()
	return g
}

// routes builds the event table once
func (g *Gateway) routes() *router.Router {
	r := router.NewRouter()
	r.Use(g.timed)
	r.Handle(protocol.EventJoinSession, g.handleJoin)
	r.Handle(protocol.EventLeaveSession, g.handleLeave)
	r.Handle(protocol.EventChatMessage, g.handleChat)
	return r
}

func (g *Gateway) timed(_ string, next router.HandlerFunc) router.HandlerFunc {
	return func(ctx context.Context, conn interfaces.Connection, env protocol.Envelope) error {
		start := time.Now()
		defer func() { g.metrics.DispatchLatency.Observe(time.Since(start).Seconds()) }()
		return next(ctx, conn, env)
	}
}

// Start begins dispatching
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return ErrGatewayAlreadyRunning
	}
	g.running = true

	g.logger.Info("starting gateway dispatcher", "events", g.router.Events())
	go g.run(ctx)
	return nil
}

// Stop halts the dispatcher and waits for the in-flight event to finish
func (g *Gateway) Stop() error {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return ErrGatewayNotRunning
	}
	g.running = false
	close(g.shutdown)
	g.mu.Unlock()

	<-g.stopped
	g.logger.Info("gateway dispatcher stopped")
	return nil
}

// Connect registers an authenticated connection
func (g *Gateway) Connect(conn interfaces.Connection) error {
	return g.enqueue(event{kind: kindConnect, conn: conn})
}

// Deliver queues a raw inbound frame from conn
func (g *Gateway) Deliver(conn interfaces.Connection, raw []byte) error {
	return g.enqueue(event{kind: kindFrame, conn: conn, raw: raw})
}

// Disconnect queues the departure of conn
// FUNCTIONAL DISCOVERY: Runs for every connection that reached Connect,
// whether or not the client ever sent leave_session
func (g *Gateway) Disconnect(conn interfaces.Connection) error {
	return g.enqueue(event{kind: kindDisconnect, conn: conn})
}

// SessionClosed tells the room of an ended or cancelled session that it is over
func (g *Gateway) SessionClosed(session *types.Session) {
	if err := g.enqueue(event{kind: kindSessionClosed, session: session}); err != nil {
		g.logger.Warn("session_ended not dispatched", "session_id", session.ID, "err", err)
	}
}

// Flush blocks until every event queued before it has been dispatched
func (g *Gateway) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := g.enqueue(event{kind: kindBarrier, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.stopped:
		return ErrGatewayNotRunning
	}
}

// Participants returns the distinct users present in a room
func (g *Gateway) Participants(sessionID string) []types.Identity {
	return g.presence.Identities(sessionID)
}

// GetStats returns gateway statistics for monitoring
func (g *Gateway) GetStats() map[string]int {
	stats := g.connections.GetStats()
	for k, v := range g.presence.Stats() {
		stats[k] = v
	}
	stats["queued_events"] = len(g.events)
	return stats
}

// enqueue blocks until the dispatcher accepts ev or stops
// TECHNICAL DISCOVERY: Blocking here applies back-pressure to the socket
// reader of the sending connection only; the dispatcher never waits on a reader
func (g *Gateway) enqueue(ev event) error {
	g.mu.RLock()
	running := g.running
	g.mu.RUnlock()
	if !running {
		return ErrGatewayNotRunning
	}

	select {
	case g.events <- ev:
		return nil
	case <-g.shutdown:
		return ErrGatewayNotRunning
	case <-g.stopped:
		return ErrGatewayNotRunning
	}
}

// run is the dispatcher loop
func (g *Gateway) run(ctx context.Context) {
	defer close(g.stopped)

	for {
		select {
		case ev := <-g.events:
			g.dispatch(ctx, ev)
		case <-g.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, ev event) {
	switch ev.kind {
	case kindConnect:
		g.handleConnect(ev.conn)
	case kindFrame:
		g.handleFrame(ctx, ev.conn, ev.raw)
	case kindDisconnect:
		g.handleDisconnect(ev.conn)
	case kindSessionClosed:
		g.handleSessionClosed(ev.session)
	case kindBarrier:
		close(ev.done)
	}
	g.metrics.RoomsOccupied.Set(float64(g.presence.Stats()["occupied_rooms"]))
}
