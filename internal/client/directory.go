package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"liveclass/pkg/types"
)

// StatusError is a non-2xx answer from the session directory
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("directory returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("directory returned %d: %s", e.Code, e.Message)
}

// HTTPDirectory calls the /live-sessions REST endpoints
type HTTPDirectory struct {
	baseURL string
	http    *http.Client
}

var _ Directory = (*HTTPDirectory)(nil)

// NewHTTPDirectory targets the server at baseURL, for example http://localhost:8080
func NewHTTPDirectory(baseURL string, httpClient *http.Client) *HTTPDirectory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPDirectory{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Join asks the directory to admit the caller
func (d *HTTPDirectory) Join(ctx context.Context, sessionID, token string) error {
	return d.do(ctx, http.MethodPost, sessionID, "join", token, nil)
}

// Leave closes the caller's attendance
func (d *HTTPDirectory) Leave(ctx context.Context, sessionID, token string) error {
	return d.do(ctx, http.MethodPost, sessionID, "leave", token, nil)
}

// Participants fetches the authoritative member list
func (d *HTTPDirectory) Participants(ctx context.Context, sessionID, token string) ([]types.Identity, error) {
	var body struct {
		Participants []types.Identity `json:"participants"`
	}
	if err := d.do(ctx, http.MethodGet, sessionID, "participants", token, &body); err != nil {
		return nil, err
	}
	return body.Participants, nil
}

func (d *HTTPDirectory) do(ctx context.Context, method, sessionID, action, token string, out any) error {
	endpoint := fmt.Sprintf("%s/live-sessions/%s/%s", d.baseURL, url.PathEscape(sessionID), action)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, action, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body struct {
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(raw, &body)
		return &StatusError{Code: resp.StatusCode, Message: body.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	return nil
}
