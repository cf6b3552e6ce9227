package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

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

// StatsSource reports component counters for /health
type StatsSource interface {
	GetStats() map[string]int
}

// Dependencies are the collaborators the REST surface serves
type Dependencies struct {
	Directory     interfaces.SessionDirectory
	Database      interfaces.DatabaseManager
	Presence      interfaces.PresenceReader
	Verifier      TokenVerifier
	Socket        http.Handler // mounted at protocol.Namespace
	Stats         StatsSource
	Metrics       *observability.Metrics
	Sampler       *observability.ProcessSampler
	AllowedOrigin string
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	directory     interfaces.SessionDirectory
	database      interfaces.DatabaseManager
	presence      interfaces.PresenceReader
	verifier      TokenVerifier
	socket        http.Handler
	stats         StatsSource
	metrics       *observability.Metrics
	sampler       *observability.ProcessSampler
	allowedOrigin string
	logger        *slog.Logger
	router        chi.Router
}

// NewServer builds the router over deps
func NewServer(deps Dependencies, logger *slog.Logger) *Server {
	origin := deps.AllowedOrigin
	if origin == "" {
		origin = "*"
	}
	s := &Server{
		directory:     deps.Directory,
		database:      deps.Database,
		presence:      deps.Presence,
		verifier:      deps.Verifier,
		socket:        deps.Socket,
		stats:         deps.Stats,
		metrics:       deps.Metrics,
		sampler:       deps.Sampler,
		allowedOrigin: origin,
		logger:        logger.With("component", "api"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers every endpoint
// ARCHITECTURAL DISCOVERY: The socket namespace is mounted beside the REST
// routes without the REST middleware; its handshake authenticates on its own
func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	if s.socket != nil {
		r.Handle(protocol.Namespace, s.socket)
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(s.cors)
		r.Use(s.requestLogger)

		r.Get("/health", s.healthCheck)

		r.Route("/live-sessions", func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/", s.listSessions)
			r.With(s.requireAdmin).Post("/", s.createSession)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.With(s.requireAdmin).Patch("/", s.updateSession)
				r.With(s.requireAdmin).Delete("/", s.deleteSession)

				r.With(s.requireAdmin).Post("/start", s.startSession)
				r.With(s.requireAdmin).Post("/end", s.endSession)
				r.With(s.requireAdmin).Post("/cancel", s.cancelSession)

				r.Post("/join", s.joinSession)
				r.Post("/leave", s.leaveSession)
				r.Get("/participants", s.participants)
				r.With(s.requireAdmin).Get("/attendance", s.attendance)
			})
		})
	})

	s.router = r
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type CreateSessionRequest struct {
	ID              string    `json:"id,omitempty"`
	Title           string    `json:"title" validate:"required,min=1,max=200"`
	Description     string    `json:"description,omitempty" validate:"max=2000"`
	ScheduledTime   time.Time `json:"scheduledTime" validate:"required"`
	DurationMinutes int       `json:"durationMinutes" validate:"gte=0,lte=1440"`
	HostID          string    `json:"hostId,omitempty" validate:"omitempty,userid"`
	RoleAccess      []string  `json:"roleAccess,omitempty"`
	MaxParticipants *int      `json:"maxParticipants,omitempty" validate:"omitempty,gt=0"`
}

type SessionResponse struct {
	Session      *types.Session `json:"session"`
	Participants int            `json:"participants"`
}

type ListSessionsResponse struct {
	Sessions []*types.Session `json:"sessions"`
}

type JoinResponse struct {
	Session      *types.Session   `json:"session"`
	Participants []types.Identity `json:"participants"`
}

type ParticipantsResponse struct {
	SessionID    string           `json:"sessionId"`
	Participants []types.Identity `json:"participants"`
	Count        int              `json:"count"`
}

type AttendanceResponse struct {
	SessionID  string              `json:"sessionId"`
	Attendance []*types.Attendance `json:"attendance"`
}

type HealthResponse struct {
	Status      string                      `json:"status"`
	Timestamp   time.Time                   `json:"timestamp"`
	Database    string                      `json:"database"`
	Connections map[string]int              `json:"connections"`
	System      *observability.ProcessStats `json:"system,omitempty"`
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return nil
}

func sessionID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "id"))
}

// identity is set by authenticate on every /live-sessions route
func identity(r *http.Request) types.Identity {
	id, _ := auth.IdentityFrom(r.Context())
	return id
}

// POST /live-sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, r, err)
		return
	}
	if err := types.Validator().Struct(req); err != nil {
		s.sendError(w, r, fmt.Errorf("%w: %v", types.ErrInvalidSession, err))
		return
	}

	host := req.HostID
	if host == "" {
		host = identity(r).UserID
	}
	session, err := s.directory.CreateSession(r.Context(), &types.Session{
		ID:              req.ID,
		Title:           req.Title,
		Description:     req.Description,
		ScheduledTime:   req.ScheduledTime,
		DurationMinutes: req.DurationMinutes,
		HostID:          host,
		RoleAccess:      req.RoleAccess,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, SessionResponse{Session: session})
}

// GET /live-sessions?status=
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.directory.ListSessions(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*types.Session{}
	}
	respondJSON(w, http.StatusOK, ListSessionsResponse{Sessions: sessions})
}

// GET /live-sessions/{id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	session, err := s.directory.GetSession(r.Context(), id)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{
		Session:      session,
		Participants: s.presence.CountUsers(id),
	})
}

// PATCH /live-sessions/{id}
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	var patch types.SessionPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.sendError(w, r, err)
		return
	}
	session, err := s.directory.UpdateSession(r.Context(), sessionID(r), patch)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: session})
}

// DELETE /live-sessions/{id}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.DeleteSession(r.Context(), sessionID(r)); err != nil {
		s.sendError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type transitionFunc func(ctx context.Context, sessionID string) (*types.Session, error)

func (s *Server) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, err := fn(r.Context(), sessionID(r))
		if err != nil {
			s.sendError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, SessionResponse{Session: session})
	}
}

// POST /live-sessions/{id}/start
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	s.transition(s.directory.StartSession)(w, r)
}

// POST /live-sessions/{id}/end
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	s.transition(s.directory.EndSession)(w, r)
}

// POST /live-sessions/{id}/cancel
func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	s.transition(s.directory.CancelSession)(w, r)
}

// POST /live-sessions/{id}/join
// FUNCTIONAL DISCOVERY: The guard chain runs here, before the client opens
// any socket; a refusal is terminal for the client
func (s *Server) joinSession(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	session, err := s.directory.Join(r.Context(), identity(r), id)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, JoinResponse{
		Session:      session,
		Participants: nonNil(s.presence.Identities(id)),
	})
}

// POST /live-sessions/{id}/leave
func (s *Server) leaveSession(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.Leave(r.Context(), identity(r), sessionID(r)); err != nil {
		s.sendError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.AckOK())
}

// GET /live-sessions/{id}/participants
// FUNCTIONAL DISCOVERY: The authoritative member list is live presence, not
// the attendance log; clients reconcile against it on heartbeat
func (s *Server) participants(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if _, err := s.directory.GetSession(r.Context(), id); err != nil {
		s.sendError(w, r, err)
		return
	}
	list := nonNil(s.presence.Identities(id))
	respondJSON(w, http.StatusOK, ParticipantsResponse{
		SessionID:    id,
		Participants: list,
		Count:        len(list),
	})
}

// GET /live-sessions/{id}/attendance
func (s *Server) attendance(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	records, err := s.directory.Attendance(r.Context(), id)
	if err != nil {
		s.sendError(w, r, err)
		return
	}
	if records == nil {
		records = []*types.Attendance{}
	}
	respondJSON(w, http.StatusOK, AttendanceResponse{SessionID: id, Attendance: records})
}

// GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
	}

	// FUNCTIONAL DISCOVERY: Check database connectivity
	if err := s.database.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = fmt.Sprintf("error: %v", err)
	}
	if s.stats != nil {
		response.Connections = s.stats.GetStats()
	}
	if s.sampler != nil {
		if sample, err := s.sampler.Sample(); err == nil {
			response.System = &sample
		} else {
			s.logger.Debug("process sample unavailable", "err", err)
		}
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if response.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, response)
}

func nonNil(ids []types.Identity) []types.Identity {
	if ids == nil {
		return []types.Identity{}
	}
	return ids
}
