package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sessionchat/internal/access"
	"sessionchat/internal/presence"
	"sessionchat/internal/protocol"
	"sessionchat/internal/room"
	"sessionchat/pkg/interfaces"
	"sessionchat/pkg/types"
)

// Authenticator resolves a bearer token to an identity.
type Authenticator interface {
	Authenticate(token string) (types.Identity, error)
}

// TokenExtractor pulls the raw token out of an upgrade request.
type TokenExtractor func(r *http.Request) string

// Config tunes the gateway.
type Config struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	RateLimit       int
	RateWindow      time.Duration
	MaxDecodeErrors int
	AllowedOrigins  []string
	Now             func() time.Time
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:    30 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		SendBuffer:      100,
		RateLimit:       DefaultRateLimit,
		RateWindow:      time.Minute,
		MaxDecodeErrors: 3,
		Now:             time.Now,
	}
}

// Handler is the connection gateway. It authenticates before upgrading, then
// routes each client frame to the room the connection has joined.
type Handler struct {
	cfg       Config
	upgrader  websocket.Upgrader
	auth      Authenticator
	token     TokenExtractor
	sessions  interfaces.SessionRegistry
	guard     *access.Guard
	rooms     *room.Manager
	presence  *presence.Tracker
	registry  *Registry
	limiter   *RateLimiter
	logger    *zap.Logger
	opTimeout time.Duration
}

// NewHandler wires the gateway.
func NewHandler(
	cfg Config,
	auth Authenticator,
	token TokenExtractor,
	sessions interfaces.SessionRegistry,
	guard *access.Guard,
	rooms *room.Manager,
	tracker *presence.Tracker,
	registry *Registry,
	logger *zap.Logger,
) *Handler {
	defaults := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaults.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = defaults.RateWindow
	}
	if cfg.MaxDecodeErrors <= 0 {
		cfg.MaxDecodeErrors = defaults.MaxDecodeErrors
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handler{
		cfg:       cfg,
		auth:      auth,
		token:     token,
		sessions:  sessions,
		guard:     guard,
		rooms:     rooms,
		presence:  tracker,
		registry:  registry,
		limiter:   NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		logger:    logger.Named("gateway"),
		opTimeout: cfg.WriteTimeout,
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP authenticates, upgrades and runs the connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Authenticate(h.token(r))
	if err != nil {
		h.logger.Info("rejected unauthenticated connection", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newConnection(ws, identity, h.cfg, h.logger)
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("failed to register connection", zap.Error(err))
		_ = conn.Close()
		return
	}
	h.presence.Register(identity, conn.ID())
	conn.logger.Info("connection established")

	_ = conn.Send(protocol.OnlineUsers{Users: h.presence.OnlineIdentities()})

	s := &clientSession{handler: h, conn: conn}
	defer s.cleanup()
	s.readLoop()
}

// clientSession is the per-connection state owned by the read goroutine.
type clientSession struct {
	handler      *Handler
	conn         *Connection
	room         *room.Room
	cleanupOnce  sync.Once
	decodeErrors int
}

func (s *clientSession) readLoop() {
	ws := s.conn.conn
	ws.SetReadLimit(protocol.MaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.handler.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.handler.cfg.ReadTimeout))
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.conn.logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.handler.cfg.ReadTimeout))

		if messageType != websocket.TextMessage {
			if s.decodeFailed("", "binary frames are not supported") {
				return
			}
			continue
		}

		cmd, err := protocol.DecodeCommand(data)
		if cmd.Type == protocol.TypeSend && errors.Is(err, protocol.ErrPayloadTooLarge) {
			// well-formed but oversized: a rejected message, not a bad frame
			s.decodeErrors = 0
			_ = s.conn.Reply(errorEvent(fmt.Errorf("%w: %w", room.ErrInvalidMessage, types.ErrBodyTooLong)), cmd.RequestID)
			continue
		}
		if err != nil {
			if s.decodeFailed(cmd.RequestID, err.Error()) {
				return
			}
			continue
		}
		s.decodeErrors = 0
		s.dispatch(cmd)
	}
}

// decodeFailed reports the error and whether the connection must be closed.
func (s *clientSession) decodeFailed(requestID, message string) bool {
	s.decodeErrors++
	_ = s.conn.Reply(protocol.ErrorEvent{Code: protocol.CodeInvalidArgument, Message: message}, requestID)
	if s.decodeErrors >= s.handler.cfg.MaxDecodeErrors {
		s.conn.logger.Info("closing connection after repeated invalid frames")
		s.conn.CloseAfterFlush()
		return true
	}
	return false
}

func (s *clientSession) dispatch(cmd protocol.Command) {
	ctx, cancel := context.WithTimeout(s.conn.ctx, s.handler.opTimeout)
	defer cancel()

	var err error
	switch p := cmd.Payload.(type) {
	case *protocol.JoinPayload:
		err = s.join(ctx, cmd.RequestID, p.SessionID)
	case *protocol.LeavePayload:
		err = s.leave(ctx)
	case *protocol.SendPayload:
		err = s.send(ctx, p)
	case *protocol.TypingPayload:
		err = s.typing(ctx, p.SessionID, cmd.Type == protocol.TypeTypingStart)
	case *protocol.MarkReadPayload:
		err = s.markRead(ctx, p)
	case *protocol.PingPayload:
		_ = s.conn.Reply(protocol.Pong{ServerTime: s.handler.cfg.Now()}, cmd.RequestID)
	}

	if err != nil {
		_ = s.conn.Reply(errorEvent(err), cmd.RequestID)
	}
}

func (s *clientSession) join(ctx context.Context, requestID, sessionID string) error {
	identity := s.conn.Identity()
	session, err := s.handler.sessions.GetSession(ctx, sessionID)
	if err != nil && !errors.Is(err, interfaces.ErrSessionNotFound) {
		return err
	}

	decision := s.handler.guard.CanJoin(identity.ID, session, s.handler.cfg.Now())
	if !decision.Admit {
		s.conn.logger.Info("join denied", zap.String("session_id", sessionID), zap.String("reason", decision.ReasonCode()))
		denied := protocol.AccessDenied{Reason: decision.ReasonCode(), Message: decision.Explain()}
		if errors.Is(decision.Reason, access.ErrOutsideWindow) {
			denied.SessionTime = &protocol.SessionTime{
				WindowStart: decision.Window.Start,
				WindowEnd:   decision.Window.End,
				ServerTime:  decision.Now,
			}
		}
		return s.conn.Reply(denied, requestID)
	}

	if s.room != nil && s.room.SessionID() != sessionID {
		if err := s.leave(ctx); err != nil {
			return err
		}
	}

	r, err := s.handler.rooms.Admit(ctx, s.conn, identity, session, decision)
	if err != nil {
		return err
	}
	s.room = r
	return nil
}

// leave dismisses the connection from its room. On failure the room is kept
// so cleanup can dismiss it again.
func (s *clientSession) leave(ctx context.Context) error {
	if s.room == nil {
		return nil
	}
	if err := s.room.Dismiss(ctx, s.conn.ID()); err != nil {
		s.conn.logger.Warn("dismiss failed", zap.String("session_id", s.room.SessionID()), zap.Error(err))
		return err
	}
	s.room = nil
	return nil
}

func (s *clientSession) requireRoom(sessionID string) (*room.Room, error) {
	if s.room == nil {
		return nil, ErrNotJoined
	}
	if s.room.SessionID() != sessionID {
		return nil, ErrSessionMismatch
	}
	return s.room, nil
}

func (s *clientSession) send(ctx context.Context, p *protocol.SendPayload) error {
	r, err := s.requireRoom(p.SessionID)
	if err != nil {
		return err
	}
	if !s.handler.limiter.Allow(s.conn.Identity().ID) {
		return ErrRateLimited
	}
	_, err = r.AcceptMessage(ctx, s.conn.ID(), p.Body)
	return err
}

func (s *clientSession) typing(ctx context.Context, sessionID string, typing bool) error {
	r, err := s.requireRoom(sessionID)
	if err != nil {
		return err
	}
	return r.SetTyping(ctx, s.conn.ID(), typing)
}

func (s *clientSession) markRead(ctx context.Context, p *protocol.MarkReadPayload) error {
	r, err := s.requireRoom(p.SessionID)
	if err != nil {
		return err
	}
	_, _, err = r.MarkRead(ctx, s.conn.ID(), p.MessageID)
	return err
}

// cleanup runs once per connection when the read loop exits.
func (s *clientSession) cleanup() {
	s.cleanupOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.handler.opTimeout)
		defer cancel()

		_ = s.leave(ctx)
		s.handler.presence.Unregister(s.conn.ID())
		s.handler.registry.Unregister(s.conn)
		_ = s.conn.Close()
		s.conn.logger.Info("connection closed")
	})
}

// errorEvent maps a failed operation to the error frame sent to the client.
func errorEvent(err error) protocol.ErrorEvent {
	code := protocol.CodeInternal
	switch {
	case errors.Is(err, ErrNotJoined), errors.Is(err, ErrSessionMismatch), errors.Is(err, room.ErrNotJoined):
		code = protocol.CodeNotJoined
	case errors.Is(err, room.ErrNotParticipant):
		code = protocol.CodeNotParticipant
	case errors.Is(err, room.ErrInvalidMessage):
		code = protocol.CodeInvalidMessage
	case errors.Is(err, room.ErrMessageNotFound):
		code = protocol.CodeMessageNotFound
	case errors.Is(err, ErrRateLimited):
		code = protocol.CodeRateLimited
	case errors.Is(err, room.ErrAppendFailed):
		code = protocol.CodeSendFailed
	}

	message := err.Error()
	if code == protocol.CodeInternal || code == protocol.CodeSendFailed {
		message = "the request could not be completed"
	}
	return protocol.ErrorEvent{Code: code, Message: message}
}
