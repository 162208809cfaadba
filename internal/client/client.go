// Package client is a websocket client for the chat gateway with a bounded
// fixed-delay reconnect loop.
//
// The server keeps nothing across connections, so every reconnect
// authenticates again and, if a session was joined, issues a fresh join.
// Messages missed while disconnected are fetched from the history API.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sessionchat/internal/protocol"
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// TokenSource returns the credential presented on each connection attempt.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken always presents token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

type Options struct {
	URL          string
	Token        TokenSource
	Dialer       Dialer
	MaxAttempts  int
	RetryDelay   time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	EventBuffer  int
	Logger       *zap.Logger

	// OnState is called on every state transition, from the Run goroutine.
	OnState func(State)
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:  5,
		RetryDelay:   time.Second,
		WriteTimeout: 10 * time.Second,
		PingInterval: 25 * time.Second,
		EventBuffer:  64,
	}
}

type Client struct {
	opts   Options
	logger *zap.Logger
	events chan protocol.Event

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	sessionID string
	attempts  int

	writeMu sync.Mutex
}

// New fills unset options from DefaultOptions.
func New(opts Options) *Client {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = def.EventBuffer
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if opts.Token == nil {
		opts.Token = StaticToken("")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		opts:   opts,
		logger: logger.Named("client"),
		events: make(chan protocol.Event, opts.EventBuffer),
	}
}

// Events delivers decoded server events. It is closed when Run returns.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the failed dial attempts since the last successful connect.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// SessionID returns the session the client joins on every connect.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed {
		c.logger.Debug("state changed", zap.Stringer("state", s))
		if c.opts.OnState != nil {
			c.opts.OnState(s)
		}
	}
}

// Run connects and keeps the client connected until ctx is done or
// MaxAttempts consecutive dials fail, in which case it returns ErrGaveUp.
// Run may be called once.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	for {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return ctx.Err()
			}

			c.mu.Lock()
			c.attempts++
			attempts := c.attempts
			c.mu.Unlock()

			c.logger.Warn("connect failed", zap.Int("attempt", attempts), zap.Error(err))
			if attempts >= c.opts.MaxAttempts {
				c.setState(StateGivingUp)
				return fmt.Errorf("%w after %d attempts: %w", ErrGaveUp, attempts, err)
			}

			select {
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return ctx.Err()
			case <-time.After(c.opts.RetryDelay):
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attempts = 0
		sessionID := c.sessionID
		c.mu.Unlock()
		c.setState(StateConnected)

		if sessionID != "" {
			if err := c.write(protocol.TypeJoin, protocol.JoinPayload{SessionID: sessionID}); err != nil {
				c.logger.Warn("rejoin failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}

		err = c.serve(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return ctx.Err()
		}
		c.logger.Info("connection lost", zap.Error(err))

		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return ctx.Err()
		case <-time.After(c.opts.RetryDelay):
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.opts.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// serve reads events until the connection fails or ctx is done. A ping
// frame goes out every PingInterval and the read deadline allows two
// missed pongs.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	deadline := 2 * c.opts.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.opts.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(c.opts.WriteTimeout))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := c.writeTo(conn, protocol.TypePing, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		if messageType != websocket.TextMessage {
			continue
		}

		ev, _, err := protocol.DecodeEvent(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) write(frameType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.writeTo(conn, frameType, payload)
}

func (c *Client) writeTo(conn *websocket.Conn, frameType string, payload any) error {
	data, err := protocol.EncodeCommand(frameType, uuid.NewString(), payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Join remembers sessionID for reconnects and joins it now if connected.
func (c *Client) Join(sessionID string) error {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
	return c.write(protocol.TypeJoin, protocol.JoinPayload{SessionID: sessionID})
}

// Leave forgets the joined session.
func (c *Client) Leave() error {
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
	return c.write(protocol.TypeLeave, protocol.LeavePayload{})
}

func (c *Client) Send(body string) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return ErrNotJoined
	}
	return c.write(protocol.TypeSend, protocol.SendPayload{SessionID: sessionID, Body: body})
}

func (c *Client) Typing(active bool) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return ErrNotJoined
	}
	frameType := protocol.TypeTypingStop
	if active {
		frameType = protocol.TypeTypingStart
	}
	return c.write(frameType, protocol.TypingPayload{SessionID: sessionID})
}

func (c *Client) MarkRead(messageID string) error {
	sessionID := c.SessionID()
	if sessionID == "" {
		return ErrNotJoined
	}
	return c.write(protocol.TypeMarkRead, protocol.MarkReadPayload{MessageID: messageID, SessionID: sessionID})
}

func (c *Client) Ping() error {
	return c.write(protocol.TypePing, protocol.PingPayload{})
}
