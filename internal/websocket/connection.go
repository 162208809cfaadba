package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sessionchat/internal/protocol"
	"sessionchat/pkg/types"
)

// Connection wraps one authenticated websocket. All socket writes happen on
// writeLoop; everything else only queues frames on writeCh.
type Connection struct {
	id           string
	conn         *websocket.Conn
	identity     types.Identity
	writeCh      chan []byte
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	connectedAt  time.Time
}

func newConnection(conn *websocket.Conn, identity types.Identity, cfg Config, logger *zap.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	c := &Connection{
		id:           id,
		conn:         conn,
		identity:     identity,
		writeCh:      make(chan []byte, cfg.SendBuffer),
		writeTimeout: cfg.WriteTimeout,
		pingInterval: cfg.PingInterval,
		logger:       logger.With(zap.String("connection_id", id), zap.String("identity", identity.ID)),
		ctx:          ctx,
		cancel:       cancel,
		connectedAt:  cfg.Now(),
	}
	go c.writeLoop()
	return c
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// Identity returns the authenticated identity.
func (c *Connection) Identity() types.Identity {
	return c.identity
}

// Send queues an unsolicited event.
func (c *Connection) Send(ev protocol.Event) error {
	return c.Reply(ev, "")
}

// Reply queues an event correlated to a client request. It never blocks:
// a full buffer means the client is not keeping up and the connection is
// closed. The socket is closed in the background because the writer may
// still hold it until the write deadline.
func (c *Connection) Reply(ev protocol.Event, requestID string) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := protocol.EncodeEvent(ev, requestID)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn("send buffer full, closing slow connection", zap.String("event", ev.EventType()))
		c.cancel()
		go func() { _ = c.Close() }()
		return ErrSendBufferFull
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case data := <-c.writeCh:
			if data == nil {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Close stops the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			err = c.conn.Close()
		}
	})
	return err
}

// CloseAfterFlush closes the connection once the frames queued so far have
// been written, or after the write timeout.
func (c *Connection) CloseAfterFlush() {
	select {
	case c.writeCh <- nil:
		select {
		case <-c.ctx.Done():
		case <-time.After(c.writeTimeout):
			_ = c.Close()
		}
	default:
		_ = c.Close()
	}
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
