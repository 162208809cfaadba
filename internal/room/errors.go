package room

import "errors"

var (
	ErrNotJoined       = errors.New("connection has not joined this session")
	ErrNotParticipant  = errors.New("sender is not the session participant for its role")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrMessageNotFound = errors.New("message not found in this session")
	ErrAppendFailed    = errors.New("message could not be stored")
	ErrRoomClosed      = errors.New("room is closed")
	ErrManagerClosed   = errors.New("room manager is closed")
)
