package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"liveclass/pkg/types"
)

func TestHTTPDirectory_JoinAndLeave(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		seen = append(seen, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	dir := NewHTTPDirectory(srv.URL+"/", nil)
	require.NoError(t, dir.Join(context.Background(), "42", "tok"))
	require.NoError(t, dir.Leave(context.Background(), "42", "tok"))

	require.Equal(t, []string{
		"POST /live-sessions/42/join",
		"POST /live-sessions/42/leave",
	}, seen)
}

func TestHTTPDirectory_Participants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/live-sessions/42/participants", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessionId":    "42",
			"participants": []types.Identity{alice, bob},
			"count":        2,
		})
	}))
	defer srv.Close()

	got, err := NewHTTPDirectory(srv.URL, srv.Client()).Participants(context.Background(), "42", "tok")
	require.NoError(t, err)
	require.Equal(t, []types.Identity{alice, bob}, got)
}

func TestHTTPDirectory_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		terminal error
		message  string
	}{
		{"cancelled", http.StatusConflict, `{"error":"Conflict","code":409,"message":"session is not joinable"}`, ErrSessionUnavailable, "session is not joinable"},
		{"expired", http.StatusUnauthorized, `{"error":"Unauthorized","code":401,"message":"token expired"}`, ErrUnauthorized, "token expired"},
		{"role", http.StatusForbidden, `{"message":"role not allowed"}`, ErrSessionUnavailable, "role not allowed"},
		{"not json", http.StatusNotFound, `gone`, ErrSessionUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := NewHTTPDirectory(srv.URL, nil).Join(context.Background(), "42", "tok")
			var statusErr *StatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, tt.status, statusErr.Code)
			require.Equal(t, tt.message, statusErr.Message)
			require.ErrorIs(t, classify(err), tt.terminal)
		})
	}
}

func TestHTTPDirectory_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewHTTPDirectory(srv.URL, nil).Join(context.Background(), "42", "tok")
	require.Error(t, err)
	require.False(t, isTerminal(classify(err)))
	require.Contains(t, err.Error(), "503")
}

func TestHTTPDirectory_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPDirectory(url, nil).Join(context.Background(), "42", "tok")
	require.Error(t, err)
	require.False(t, isTerminal(classify(err)))
}
