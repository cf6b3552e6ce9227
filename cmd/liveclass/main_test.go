package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"liveclass/internal/app"
	"liveclass/internal/auth"
	"liveclass/internal/client"
	"liveclass/internal/config"
	"liveclass/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// execute runs the command tree with args in a directory free of .env files
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	chdir(t, t.TempDir())

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSocketURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws/sessions"},
		{"https://classes.example.com/", "wss://classes.example.com/ws/sessions"},
		{"https://example.com/live", "wss://example.com/live/ws/sessions"},
	}
	for _, tt := range tests {
		got, err := socketURL(tt.server)
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}

	_, err := socketURL("ftp://example.com")
	require.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("LIVECLASS_AUTH_SECRET", testSecret)

	out, err := execute(t, "token", "--user", "u-1", "--name", "Ana", "--role", "premium", "--ttl", "5m")
	require.NoError(t, err)

	verifier, err := auth.NewVerifier(testSecret)
	require.NoError(t, err)
	identity, err := verifier.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, types.Identity{UserID: "u-1", Name: "Ana", Role: "premium"}, identity)
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("LIVECLASS_AUTH_SECRET", "too-short")

	_, err := execute(t, "token", "--user", "u-1")
	require.ErrorIs(t, err, auth.ErrWeakSecret)
}

func TestParticipantsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/live-sessions/42/participants", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"participants": []types.Identity{
				{UserID: "u-1", Name: "Ana", Email: "ana@example.com"},
				{UserID: "u-2", Name: "Ben", Email: "ben@example.com"},
			},
		})
	}))
	defer srv.Close()

	out, err := execute(t, "participants", "--server", srv.URL, "--session", "42", "--token", "tok")
	require.NoError(t, err)
	require.Contains(t, out, "ana@example.com")
	require.Contains(t, out, "Ben")
	require.Contains(t, out, "2 PRESENT")
}

func TestParticipantsCommandNeedsToken(t *testing.T) {
	t.Setenv("LIVECLASS_TOKEN", "")

	_, err := execute(t, "participants", "--server", "http://127.0.0.1:1", "--session", "42")
	require.ErrorIs(t, err, auth.ErrMissingToken)
}

func TestServeRejectsMissingSecret(t *testing.T) {
	t.Setenv("LIVECLASS_AUTH_SECRET", "")

	_, err := execute(t, "serve")
	require.ErrorIs(t, err, config.ErrMissingSecret)
}

func TestPrintEvent(t *testing.T) {
	var out bytes.Buffer

	done, err := printEvent(&out, client.Event{Kind: client.EventParticipantJoined, User: types.Identity{Name: "Ana"}})
	require.False(t, done)
	require.NoError(t, err)

	_, _ = printEvent(&out, client.Event{Kind: client.EventChat, Local: true, Chat: &types.ChatMessage{UserName: "Me", Message: "echo"}})
	_, _ = printEvent(&out, client.Event{Kind: client.EventChat, Chat: &types.ChatMessage{UserName: "Ben", Message: "hello", Timestamp: time.Now()}})
	require.Contains(t, out.String(), "+ Ana joined")
	require.Contains(t, out.String(), "Ben: hello")
	require.NotContains(t, out.String(), "echo", "own messages are not printed twice")

	done, err = printEvent(&out, client.Event{Kind: client.EventState, State: client.StateFailed, Err: client.ErrSessionUnavailable})
	require.True(t, done)
	require.NoError(t, err, "an ended session is a normal exit")

	done, err = printEvent(&out, client.Event{Kind: client.EventState, State: client.StateFailed, Err: client.ErrRetriesExhausted})
	require.True(t, done)
	require.True(t, errors.Is(err, client.ErrRetriesExhausted))
}

// A terminal participant joins a running server, chats, and leaves on /leave
func TestRunJoinAgainstServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Auth.Secret = testSecret
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Database.Path = filepath.Join(t.TempDir(), "cli.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx := context.Background()
	application, err := app.NewApplication(ctx, cfg, logger)
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	_, err = application.Directory().CreateSession(ctx, &types.Session{
		ID:            "cli-1",
		Title:         "Terminal class",
		ScheduledTime: time.Now().Add(time.Hour),
		HostID:        "host-1",
	})
	require.NoError(t, err)

	token, err := application.Verifier().Issue(types.Identity{UserID: "u-1", Name: "Ana", Role: "premium"}, time.Hour)
	require.NoError(t, err)

	server := "http://" + application.GetAddr()
	wsURL, err := socketURL(server)
	require.NoError(t, err)

	c := client.New(client.DefaultConfig("cli-1"),
		client.NewHTTPDirectory(server, nil),
		client.NewWSDialer(wsURL, logger),
		client.NopMedia{},
		client.StaticToken(token),
		client.WithLogger(logger),
	)

	var out bytes.Buffer
	err = runJoin(ctx, c, strings.NewReader("hello class\n/leave\n"), &out, logger)
	require.NoError(t, err)
	require.Contains(t, out.String(), "joined; 1 present")
	require.Equal(t, client.StateIdle, c.State())
}

// chdir changes the working directory for the duration of the test
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
