package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/samber/lo"

	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

// Config tunes the reconnection policy and heartbeat
type Config struct {
	SessionID         string
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	EventBuffer       int
}

// DefaultConfig returns the production policy for sessionID: 3 retries at
// 3s, 6s and 12s, and a 45s heartbeat
func DefaultConfig(sessionID string) Config {
	return Config{
		SessionID:         sessionID,
		MaxRetries:        3,
		BaseDelay:         3 * time.Second,
		MaxDelay:          15 * time.Second,
		HeartbeatInterval: 45 * time.Second,
		RequestTimeout:    10 * time.Second,
		EventBuffer:       256,
	}
}

// WaitFunc sleeps for d or until ctx is done
type WaitFunc func(ctx context.Context, d time.Duration) error

// Option configures a Client
type Option func(*Client)

// WithWait replaces the back-off sleep
func WithWait(wait WaitFunc) Option {
	return func(c *Client) { c.wait = wait }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.With("component", "client") }
}

// Client drives one participant's side of a live session
// ARCHITECTURAL DISCOVERY: One supervisor goroutine per join owns the socket
// and the retry loop; every result it produces is tagged with the epoch it
// started under and dropped if Leave or a newer Join has moved the epoch on
type Client struct {
	cfg       Config
	directory Directory
	dialer    Dialer
	media     Media
	tokens    TokenSource
	logger    *slog.Logger
	wait      WaitFunc
	newTicker func(d time.Duration) (<-chan time.Time, func())
	events    chan Event

	mu           sync.Mutex
	state        State
	epoch        uint64
	err          error
	socket       Socket
	self         types.Identity
	participants []types.Identity
	visible      bool
	mediaHeld    bool
	pendingEcho  map[string]int // own messages echoed locally, awaiting the server copy
	cancel       context.CancelFunc
	done         chan struct{}
	refresh      chan struct{}
}

// New creates an idle client
func New(cfg Config, directory Directory, dialer Dialer, media Media, tokens TokenSource, opts ...Option) *Client {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if media == nil {
		media = NopMedia{}
	}
	c := &Client{
		cfg:       cfg,
		directory: directory,
		dialer:    dialer,
		media:     media,
		tokens:    tokens,
		logger:    slog.Default().With("component", "client"),
		wait:      sleep,
		newTicker: newTicker,
		events:    make(chan Event, cfg.EventBuffer),
		state:     StateIdle,
		visible:   true,
		refresh:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	ticker := time.NewTicker(d)
	return ticker.C, ticker.Stop
}

// Events delivers state changes, presence, and chat to the presentation layer
func (c *Client) Events() <-chan Event { return c.events }

// State returns the current lifecycle state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that caused the last transition to failed or reconnecting
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Participants returns the last reconciled member list
func (c *Client) Participants() []types.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.Identity(nil), c.participants...)
}

// Join runs the joining sequence and returns once the client is connected or
// has failed terminally. Transient failures are retried under the back-off
// policy first. Cancelling ctx abandons the attempt.
func (c *Client) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateFailed {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.epoch++
	epoch := c.epoch
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.err = nil
	c.participants = nil
	c.pendingEcho = make(map[string]int)
	c.setStateLocked(StateJoining, nil)
	c.mu.Unlock()

	first := make(chan error, 1)
	go c.supervise(runCtx, epoch, first, done)

	select {
	case err := <-first:
		return err
	case <-done:
		// Leave or a newer attempt ended this one before it reported
		select {
		case err := <-first:
			return err
		default:
			return ErrStaleAttempt
		}
	case <-ctx.Done():
		c.abandon(epoch)
		return ctx.Err()
	}
}

// abandon discards an attempt the caller stopped waiting for. It does not
// wait for in-flight calls; their results carry a stale epoch and are dropped.
func (c *Client) abandon(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.epoch++
	cancel, socket := c.cancel, c.socket
	c.socket = nil
	c.setStateLocked(StateIdle, nil)
	c.mu.Unlock()

	cancel()
	if socket != nil {
		_ = socket.Close()
	}
	c.releaseMedia()
}

// supervise owns one join from first attempt to terminal outcome
func (c *Client) supervise(ctx context.Context, epoch uint64, first chan<- error, done chan struct{}) {
	defer close(done)

	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			first <- err
		}
	}

	failures := 0
	for {
		socket, err := c.connect(ctx, epoch)
		if err == nil {
			failures = 0
			report(nil)
			err = c.serve(ctx, epoch, socket)
			if ctx.Err() != nil {
				// Leave owns the socket from here
				return
			}
			_ = socket.Close()
		}
		if ctx.Err() != nil || errors.Is(err, ErrStaleAttempt) {
			return
		}
		if isTerminal(err) {
			c.fail(epoch, err)
			report(err)
			return
		}

		if failures >= c.cfg.MaxRetries {
			err = fmt.Errorf("%w: %v", ErrRetriesExhausted, err)
			c.fail(epoch, err)
			report(err)
			return
		}

		delay := Backoff(failures, c.cfg.BaseDelay, c.cfg.MaxDelay)
		failures++
		if !c.transition(epoch, StateReconnecting, err) {
			return
		}
		c.logger.Warn("connection failed, retrying",
			"session_id", c.cfg.SessionID,
			"attempt", failures,
			"delay", delay,
			"err", err,
		)
		if err := c.wait(ctx, delay); err != nil {
			return
		}
	}
}

// connect runs the joining sequence: REST join, socket dial, join_session,
// then the first member list fetch
func (c *Client) connect(ctx context.Context, epoch uint64) (_ Socket, err error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	rctx, cancel := c.withTimeout(ctx)
	defer cancel()

	// A REST join may land after Leave or abandon already ran; close the
	// attendance it opened once this attempt turns out stale
	defer func() {
		if err != nil && !c.current(epoch) {
			c.releaseStaleJoin(token)
		}
	}()

	if err := c.directory.Join(rctx, c.cfg.SessionID, token); err != nil {
		return nil, classify(err)
	}
	if !c.current(epoch) {
		return nil, ErrStaleAttempt
	}
	if err := c.acquireMedia(ctx, epoch); err != nil {
		return nil, err
	}

	socket, err := c.dialer.Dial(rctx, token)
	if err != nil {
		return nil, err
	}
	if !c.current(epoch) {
		_ = socket.Close()
		return nil, ErrStaleAttempt
	}

	ack, err := socket.Request(rctx, protocol.EventJoinSession, protocol.SessionRef{SessionID: c.cfg.SessionID})
	if err != nil {
		_ = socket.Close()
		return nil, err
	}
	if !ack.OK() {
		_ = socket.Close()
		return nil, fmt.Errorf("%w: %s", ErrSessionUnavailable, ack.Error)
	}

	participants, err := c.directory.Participants(rctx, c.cfg.SessionID, token)
	if err != nil {
		_ = socket.Close()
		return nil, classify(err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		_ = socket.Close()
		return nil, ErrStaleAttempt
	}
	c.socket = socket
	c.self = socket.Identity()
	c.participants = participants
	c.setStateLocked(StateConnected, nil)
	c.mu.Unlock()

	c.emit(Event{Kind: EventParticipants})
	c.logger.Info("connected", "session_id", c.cfg.SessionID, "participants", len(participants))
	return socket, nil
}

// releaseStaleJoin sends the REST leave for a superseded attempt. A newer
// attempt owns the membership, so nothing is sent while one is active.
func (c *Client) releaseStaleJoin(token string) {
	c.mu.Lock()
	active := c.state == StateJoining || c.state == StateConnected || c.state == StateReconnecting
	c.mu.Unlock()
	if active {
		return
	}

	ctx, cancel := c.withTimeout(context.Background())
	defer cancel()
	if err := c.directory.Leave(ctx, c.cfg.SessionID, token); err != nil {
		c.logger.Warn("stale join not released", "session_id", c.cfg.SessionID, "err", err)
	}
}

// withTimeout bounds one round of network calls
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// serve pumps server events and the heartbeat until the socket fails
func (c *Client) serve(ctx context.Context, epoch uint64, socket Socket) error {
	var tick <-chan time.Time
	if c.cfg.HeartbeatInterval > 0 {
		var stop func()
		tick, stop = c.newTicker(c.cfg.HeartbeatInterval)
		defer stop()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-socket.Events():
			if !ok {
				return lost(socket)
			}
			if err := c.handle(epoch, env); err != nil {
				return err
			}

		case <-socket.Done():
			return lost(socket)

		case <-tick:
			// FUNCTIONAL DISCOVERY: Hidden tabs skip the heartbeat entirely
			if c.isVisible() {
				c.reconcile(ctx, epoch, "heartbeat")
			}

		case <-c.refresh:
			c.reconcile(ctx, epoch, "visibility")
		}
	}
}

func lost(socket Socket) error {
	if err := socket.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return ErrConnectionLost
}

// reconcile replaces the local member list with the server's
// FUNCTIONAL DISCOVERY: A failed refresh is logged only; it never moves the
// state machine
func (c *Client) reconcile(ctx context.Context, epoch uint64, reason string) {
	rctx, cancel := c.withTimeout(ctx)
	defer cancel()

	token, err := c.tokens.Token(rctx)
	if err == nil {
		var participants []types.Identity
		participants, err = c.directory.Participants(rctx, c.cfg.SessionID, token)
		if err == nil {
			c.mu.Lock()
			if c.epoch == epoch {
				c.participants = participants
			}
			c.mu.Unlock()
			c.emit(Event{Kind: EventParticipants})
			return
		}
	}
	c.logger.Warn("participant refresh failed", "session_id", c.cfg.SessionID, "reason", reason, "err", err)
}

// handle applies one server push; a non-nil error ends the connection
func (c *Client) handle(epoch uint64, env protocol.Envelope) error {
	switch env.Event {
	// FUNCTIONAL DISCOVERY: The gateway announces participant_left only when a
	// user's last connection leaves the room, so both events key on user ID
	case protocol.EventParticipantJoined, protocol.EventParticipantLeft:
		var p protocol.PresencePayload
		if err := env.Bind(&p); err != nil {
			c.logger.Warn("dropping malformed presence event", "err", err)
			return nil
		}
		c.mu.Lock()
		if c.epoch == epoch {
			c.participants = lo.Reject(c.participants, func(id types.Identity, _ int) bool { return id.UserID == p.User.UserID })
			if env.Event == protocol.EventParticipantJoined {
				c.participants = append(c.participants, p.User)
			}
		}
		c.mu.Unlock()
		kind := EventParticipantJoined
		if env.Event == protocol.EventParticipantLeft {
			kind = EventParticipantLeft
		}
		c.emit(Event{Kind: kind, User: p.User})

	case protocol.EventChatMessage:
		var msg types.ChatMessage
		if err := env.Bind(&msg); err != nil {
			c.logger.Warn("dropping malformed chat message", "err", err)
			return nil
		}
		if c.consumeEcho(msg) {
			return nil
		}
		c.emit(Event{Kind: EventChat, Chat: &msg})

	case protocol.EventSessionEnded:
		var p protocol.SessionEndedPayload
		_ = env.Bind(&p)
		c.emit(Event{Kind: EventSessionEnded})
		return fmt.Errorf("%w: session %s", ErrSessionUnavailable, p.Status)

	default:
		c.logger.Debug("ignoring server event", "event", env.Event)
	}
	return nil
}

// consumeEcho reports whether msg is the server copy of a message this client
// already rendered locally
func (c *Client) consumeEcho(msg types.ChatMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.UserID != c.self.UserID || c.pendingEcho[msg.Message] == 0 {
		return false
	}
	c.pendingEcho[msg.Message]--
	if c.pendingEcho[msg.Message] == 0 {
		delete(c.pendingEcho, msg.Message)
	}
	return true
}

// SendChat renders the message locally at once and relays it to the room
func (c *Client) SendChat(ctx context.Context, text string) error {
	text, err := types.NormalizeChatText(text)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateConnected || c.socket == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	socket, self := c.socket, c.self
	c.pendingEcho[text]++
	c.mu.Unlock()

	c.emit(Event{Kind: EventChat, Local: true, Chat: &types.ChatMessage{
		SessionID: c.cfg.SessionID,
		UserID:    self.UserID,
		UserName:  self.Name,
		Message:   text,
		Timestamp: time.Now().UTC(),
	}})

	if err := socket.Emit(protocol.EventChatMessage, protocol.ChatRequest{SessionID: c.cfg.SessionID, Message: text}); err != nil {
		c.mu.Lock()
		if c.pendingEcho[text] > 0 {
			c.pendingEcho[text]--
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// SetVisible records tab visibility. Becoming visible while connected
// triggers one member list refresh; nothing is torn down while hidden.
func (c *Client) SetVisible(visible bool) {
	c.mu.Lock()
	wasVisible := c.visible
	c.visible = visible
	connected := c.state == StateConnected
	c.mu.Unlock()

	if visible && !wasVisible && connected {
		select {
		case c.refresh <- struct{}{}:
		default:
		}
	}
}

func (c *Client) isVisible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// Leave is the real departure: stop media, leave the room over the socket,
// leave over REST, close the socket, then go idle
func (c *Client) Leave(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateLeaving {
		c.mu.Unlock()
		return nil
	}
	c.epoch++
	cancel, socket := c.cancel, c.socket
	c.socket = nil
	c.setStateLocked(StateLeaving, nil)
	c.mu.Unlock()

	cancel()
	c.releaseMedia()

	var errs []error
	if socket != nil {
		if _, err := socket.Request(ctx, protocol.EventLeaveSession, protocol.SessionRef{SessionID: c.cfg.SessionID}); err != nil {
			errs = append(errs, fmt.Errorf("leave_session: %w", err))
		}
	}
	if token, err := c.tokens.Token(ctx); err != nil {
		errs = append(errs, err)
	} else if err := c.directory.Leave(ctx, c.cfg.SessionID, token); err != nil {
		errs = append(errs, fmt.Errorf("rest leave: %w", err))
	}
	if socket != nil {
		_ = socket.Close()
	}

	c.mu.Lock()
	c.participants = nil
	c.setStateLocked(StateIdle, nil)
	c.mu.Unlock()

	c.logger.Info("left session", "session_id", c.cfg.SessionID)
	return errors.Join(errs...)
}

// DisposeLocalResources releases camera, microphone and peer connections
// without telling the server anything. The socket and room membership stay
// as they are, so a transient teardown is not seen as a departure.
func (c *Client) DisposeLocalResources() {
	c.releaseMedia()
}

// RestoreLocalResources re-acquires media released by DisposeLocalResources
func (c *Client) RestoreLocalResources(ctx context.Context) error {
	c.mu.Lock()
	epoch, active := c.epoch, c.state != StateIdle && c.state != StateFailed
	c.mu.Unlock()
	if !active {
		return ErrNotConnected
	}
	return c.acquireMedia(ctx, epoch)
}

// acquireMedia takes the devices once per join; a result for a stale epoch
// is released straight away
func (c *Client) acquireMedia(ctx context.Context, epoch uint64) error {
	c.mu.Lock()
	held := c.mediaHeld
	c.mu.Unlock()
	if held {
		return nil
	}
	if err := c.media.Acquire(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}

	c.mu.Lock()
	if c.epoch != epoch || c.mediaHeld {
		c.mu.Unlock()
		c.media.Release()
		return ErrStaleAttempt
	}
	c.mediaHeld = true
	c.mu.Unlock()
	return nil
}

func (c *Client) releaseMedia() {
	c.mu.Lock()
	held := c.mediaHeld
	c.mediaHeld = false
	c.mu.Unlock()
	if held {
		c.media.Release()
	}
}

// fail moves a current attempt to the terminal failed state
func (c *Client) fail(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	socket := c.socket
	c.socket = nil
	c.setStateLocked(StateFailed, err)
	c.mu.Unlock()

	if socket != nil {
		_ = socket.Close()
	}
	c.releaseMedia()
	c.logger.Error("session connection failed", "session_id", c.cfg.SessionID, "err", err)
}

// transition changes state if epoch is still current
func (c *Client) transition(epoch uint64, state State, cause error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}
	if state != StateConnected {
		c.socket = nil
	}
	c.setStateLocked(state, cause)
	return true
}

func (c *Client) current(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// setStateLocked records the new state; caller holds c.mu
func (c *Client) setStateLocked(state State, cause error) {
	if c.state == state && cause == nil {
		return
	}
	c.state = state
	if cause != nil {
		c.err = cause
	}
	c.emitLocked(Event{Kind: EventState, State: state, Err: cause})
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(ev)
}

// emitLocked never blocks; a consumer that stops reading loses events
func (c *Client) emitLocked(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("event dropped", "kind", ev.Kind)
	}
}

// classify separates terminal REST refusals from transient failures
// FUNCTIONAL DISCOVERY: 408 and 429 are the only 4xx answers worth retrying
func classify(err error) error {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	switch {
	case statusErr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case statusErr.Code == http.StatusRequestTimeout, statusErr.Code == http.StatusTooManyRequests:
		return err
	case statusErr.Code >= 400 && statusErr.Code < 500:
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	default:
		return err
	}
}

func isTerminal(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrSessionUnavailable) ||
		errors.Is(err, ErrMediaUnavailable)
}
