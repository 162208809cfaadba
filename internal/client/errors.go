package client

import "errors"

var (
	ErrNotConnected = errors.New("client is not connected")
	ErrGaveUp       = errors.New("gave up reconnecting")
	ErrNotJoined    = errors.New("no session joined")
)
