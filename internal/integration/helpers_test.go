package integration

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"liveclass/internal/app"
	"liveclass/internal/client"
	"liveclass/internal/config"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

const (
	testSecret  = "integration-secret-0123456789abcdef"
	waitTimeout = 5 * time.Second
)

var (
	ana   = types.Identity{UserID: "u-ana", Name: "Ana", Email: "ana@example.com", Role: "premium"}
	ben   = types.Identity{UserID: "u-ben", Name: "Ben", Email: "ben@example.com", Role: "premium"}
	carla = types.Identity{UserID: "u-carla", Name: "Carla", Role: "premium"}
	host  = types.Identity{UserID: "host-1", Name: "Hosting Instructor", Role: "instructor"}
)

// liveServer is a running application on a loopback port with its own database
type liveServer struct {
	t      *testing.T
	app    *app.Application
	base   string
	wsURL  string
	logger *slog.Logger
}

func startServer(t *testing.T) *liveServer {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Auth.Secret = testSecret
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "liveclass.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx := context.Background()
	application, err := app.NewApplication(ctx, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = application.Stop(stopCtx)
	})

	base := "http://" + application.GetAddr()
	return &liveServer{
		t:      t,
		app:    application,
		base:   base,
		wsURL:  "ws://" + application.GetAddr() + protocol.Namespace,
		logger: logger,
	}
}

func (s *liveServer) token(identity types.Identity) string {
	s.t.Helper()
	token, err := s.app.Verifier().Issue(identity, time.Hour)
	require.NoError(s.t, err)
	return token
}

func (s *liveServer) createSession(id string, mutate func(*types.Session)) *types.Session {
	s.t.Helper()
	session := &types.Session{
		ID:            id,
		Title:         "Morning class " + id,
		ScheduledTime: time.Now().Add(time.Hour),
		HostID:        host.UserID,
	}
	if mutate != nil {
		mutate(session)
	}
	created, err := s.app.Directory().CreateSession(context.Background(), session)
	require.NoError(s.t, err)
	return created
}

// countingDialer records how many sockets a client opened
type countingDialer struct {
	client.Dialer
	dials atomic.Int32
}

func (d *countingDialer) Dial(ctx context.Context, token string) (client.Socket, error) {
	d.dials.Add(1)
	return d.Dialer.Dial(ctx, token)
}

func (s *liveServer) newClient(sessionID string, identity types.Identity) (*client.Client, *countingDialer) {
	s.t.Helper()
	dialer := &countingDialer{Dialer: client.NewWSDialer(s.wsURL, s.logger)}
	cfg := client.DefaultConfig(sessionID)
	cfg.HeartbeatInterval = time.Hour
	c := client.New(cfg,
		client.NewHTTPDirectory(s.base, nil),
		dialer,
		client.NopMedia{},
		client.StaticToken(s.token(identity)),
		client.WithLogger(s.logger.With("user_id", identity.UserID)),
	)
	s.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = c.Leave(ctx)
	})
	return c, dialer
}

func (s *liveServer) join(sessionID string, identity types.Identity) *client.Client {
	s.t.Helper()
	c, _ := s.newClient(sessionID, identity)
	require.NoError(s.t, c.Join(context.Background()))
	require.Equal(s.t, client.StateConnected, c.State())
	return c
}

// dial opens a bare gateway socket, for checks at the frame level
func (s *liveServer) dial(identity types.Identity) client.Socket {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	socket, err := client.NewWSDialer(s.wsURL, s.logger).Dial(ctx, s.token(identity))
	require.NoError(s.t, err)
	s.t.Cleanup(func() { _ = socket.Close() })
	return socket
}

func (s *liveServer) participants(sessionID string) []types.Identity {
	s.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	list, err := client.NewHTTPDirectory(s.base, nil).Participants(ctx, sessionID, s.token(host))
	require.NoError(s.t, err)
	return list
}

func request(t *testing.T, socket client.Socket, event string, payload any) protocol.Ack {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	ack, err := socket.Request(ctx, event, payload)
	require.NoError(t, err)
	return ack
}

// awaitEvent returns the first client event of kind accepted by match,
// skipping everything else
func awaitEvent(t *testing.T, c *client.Client, kind client.EventKind, match func(client.Event) bool) client.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == kind && (match == nil || match(ev)) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return client.Event{}
		}
	}
}

// awaitFrame returns the next server push named event, skipping others
func awaitFrame(t *testing.T, socket client.Socket, event string) protocol.Envelope {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case env, ok := <-socket.Events():
			require.True(t, ok, "socket closed while waiting for %s", event)
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s frame", event)
			return protocol.Envelope{}
		}
	}
}

// quietFor collects client events of kind for d
func quietFor(c *client.Client, kind client.EventKind, d time.Duration) []client.Event {
	var seen []client.Event
	deadline := time.After(d)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == kind {
				seen = append(seen, ev)
			}
		case <-deadline:
			return seen
		}
	}
}

func userIDs(list []types.Identity) []string {
	ids := make([]string, 0, len(list))
	for _, id := range list {
		ids = append(ids, id.UserID)
	}
	return ids
}
