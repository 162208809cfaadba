// Package api serves the operator and catch-up HTTP endpoints and mounts the
// websocket gateway.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"sessionchat/internal/room"
	"sessionchat/internal/session"
	"sessionchat/pkg/interfaces"
	"sessionchat/pkg/types"
)

// RoleOperator is the credential role allowed to manage sessions.
const RoleOperator = "operator"

// History paging bounds.
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

type Authenticator interface {
	Authenticate(token string) (types.Identity, error)
}

type SessionService interface {
	CreateSession(ctx context.Context, req session.CreateRequest) (*types.Session, error)
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	CancelSession(ctx context.Context, sessionID, reason string) (*types.Session, error)
	RescheduleSession(ctx context.Context, sessionID string, start, end time.Time) (*types.Session, error)
	SetStatus(ctx context.Context, sessionID, status string) (*types.Session, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type ConnectionStats interface {
	Stats() map[string]int
}

type RoomStats interface {
	Stats(ctx context.Context) room.Stats
}

type PresenceSource interface {
	IsOnline(identity string) bool
	OnlineIdentities() []string
	ClusterOnline(ctx context.Context) ([]string, error)
	Snapshot() []types.PresenceRecord
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Auth        Authenticator
	Token       func(r *http.Request) string
	Sessions    SessionService
	History     interfaces.MessageLog
	Store       HealthChecker
	Connections ConnectionStats
	Rooms       RoomStats
	Presence    PresenceSource
	Gateway     http.Handler
	Logger      *zap.Logger
}

type Server struct {
	deps      Deps
	router    chi.Router
	logger    *zap.Logger
	startedAt time.Time
	now       func() time.Time
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{
		deps:      deps,
		router:    chi.NewRouter(),
		logger:    deps.Logger.Named("api"),
		startedAt: time.Now(),
		now:       time.Now,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.healthCheck)
	if s.deps.Gateway != nil {
		r.Handle("/ws", s.deps.Gateway)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(s.authenticate)

		api.Get("/presence", s.listPresence)

		api.Route("/sessions", func(sessions chi.Router) {
			sessions.With(requireRole(RoleOperator)).Post("/", s.createSession)

			sessions.Route("/{sessionID}", func(one chi.Router) {
				one.Get("/", s.getSession)
				one.Get("/messages", s.listMessages)

				one.Group(func(op chi.Router) {
					op.Use(requireRole(RoleOperator))
					op.Post("/cancel", s.cancelSession)
					op.Post("/reschedule", s.rescheduleSession)
					op.Post("/status", s.setStatus)
				})
			})
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type SessionResponse struct {
	Session *types.Session `json:"session"`
	Online  []string       `json:"online"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type RescheduleRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type MessagesResponse struct {
	SessionID string               `json:"session_id"`
	Messages  []*types.ChatMessage `json:"messages"`
	NextAfter int64                `json:"next_after"`
}

type PresenceResponse struct {
	Online  []string               `json:"online"`
	Cluster []string               `json:"cluster,omitempty"`
	Records []types.PresenceRecord `json:"records,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/sessions
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := s.deps.Sessions.CreateSession(r.Context(), req)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, SessionResponse{Session: created, Online: []string{}})
}

// GET /api/sessions/{sessionID}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	current, ok := s.loadVisibleSession(w, r)
	if !ok {
		return
	}

	online := lo.Filter([]string{current.RequesterID, current.CounterpartID}, func(id string, _ int) bool {
		return s.deps.Presence.IsOnline(id)
	})
	respondJSON(w, http.StatusOK, SessionResponse{Session: current, Online: online})
}

// GET /api/sessions/{sessionID}/messages?after=&limit=
func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	current, ok := s.loadVisibleSession(w, r)
	if !ok {
		return
	}

	after, limit, err := parsePaging(r)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := s.deps.History.History(r.Context(), current.ID, after, limit)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if messages == nil {
		messages = []*types.ChatMessage{}
	}

	next := after
	if n := len(messages); n > 0 {
		next = messages[n-1].Sequence
	}
	respondJSON(w, http.StatusOK, MessagesResponse{SessionID: current.ID, Messages: messages, NextAfter: next})
}

// POST /api/sessions/{sessionID}/cancel
func (s *Server) cancelSession(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	updated, err := s.deps.Sessions.CancelSession(r.Context(), chi.URLParam(r, "sessionID"), req.Reason)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: updated, Online: []string{}})
}

// POST /api/sessions/{sessionID}/reschedule
func (s *Server) rescheduleSession(w http.ResponseWriter, r *http.Request) {
	var req RescheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := s.deps.Sessions.RescheduleSession(r.Context(), chi.URLParam(r, "sessionID"), req.StartTime, req.EndTime)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: updated, Online: []string{}})
}

// POST /api/sessions/{sessionID}/status
func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := s.deps.Sessions.SetStatus(r.Context(), chi.URLParam(r, "sessionID"), req.Status)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Session: updated, Online: []string{}})
}

// GET /api/presence. Cluster lists identities online in any process when the
// presence mirror is on. Operators also see per-connection records.
func (s *Server) listPresence(w http.ResponseWriter, r *http.Request) {
	resp := PresenceResponse{Online: s.deps.Presence.OnlineIdentities()}
	cluster, err := s.deps.Presence.ClusterOnline(r.Context())
	if err != nil {
		s.logger.Warn("cluster presence unavailable", zap.Error(err))
	}
	resp.Cluster = cluster
	if identity, ok := IdentityFrom(r.Context()); ok && identity.Role == RoleOperator {
		resp.Records = s.deps.Presence.Snapshot()
	}
	respondJSON(w, http.StatusOK, resp)
}

// loadVisibleSession loads the session in the URL if the caller is one of its
// participants or an operator.
func (s *Server) loadVisibleSession(w http.ResponseWriter, r *http.Request) (*types.Session, bool) {
	current, err := s.deps.Sessions.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.sendServiceError(w, r, err)
		return nil, false
	}

	identity, _ := IdentityFrom(r.Context())
	if _, participant := current.RoleOf(identity.ID); !participant && identity.Role != RoleOperator {
		sendError(w, http.StatusForbidden, "not a participant of this session")
		return nil, false
	}
	return current, true
}

func parsePaging(r *http.Request) (int64, int, error) {
	q := r.URL.Query()
	var after int64
	limit := DefaultHistoryLimit

	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, 0, errors.New("after must be a non-negative sequence number")
		}
		after = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(n, MaxHistoryLimit)
	}
	return after, limit, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// sendServiceError maps domain errors to HTTP statuses.
func (s *Server) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, interfaces.ErrSessionNotFound):
		sendError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, interfaces.ErrSessionExists):
		sendError(w, http.StatusConflict, "session already exists")
	case errors.Is(err, session.ErrSessionCancelled),
		errors.Is(err, session.ErrSessionCompleted):
		sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrInvalidStatus),
		errors.Is(err, types.ErrInvalidUserID),
		errors.Is(err, types.ErrInvalidSessionID),
		errors.Is(err, types.ErrInvalidWindow),
		errors.Is(err, types.ErrSameParticipants),
		errors.Is(err, types.ErrInvalidStatus):
		sendError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sendError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Code:    status,
		Message: message,
	})
}
