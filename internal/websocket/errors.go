package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)

// Gateway errors
var (
	ErrNotJoined       = errors.New("no session joined")
	ErrSessionMismatch = errors.New("event targets a session the connection has not joined")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// Registry-related errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
)
