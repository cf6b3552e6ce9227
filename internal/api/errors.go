package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"liveclass/internal/auth"
	"liveclass/internal/directory"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

var (
	ErrInvalidJSON   = errors.New("invalid JSON body")
	ErrAdminRequired = errors.New("administrator role required")
)

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// statusFor maps domain errors onto HTTP status codes
// ARCHITECTURAL DISCOVERY: One table keeps authentication (401),
// authorization (403) and availability (409) failures distinguishable to the
// client, which treats every 4xx on join as terminal
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, directory.ErrForbidden), errors.Is(err, ErrAdminRequired):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, directory.ErrSessionNotJoinable),
		errors.Is(err, directory.ErrSessionFull),
		errors.Is(err, directory.ErrInvalidTransition),
		errors.Is(err, directory.ErrSessionLocked),
		errors.Is(err, directory.ErrSessionLive),
		errors.Is(err, interfaces.ErrDuplicateSession):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidJSON),
		errors.Is(err, types.ErrInvalidSession),
		errors.Is(err, types.ErrInvalidSessionID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		message = "internal error"
	}
	respondJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
