package session

import "errors"

// Operator errors. Validation failures from pkg/types are returned as is.
var (
	ErrSessionCancelled = errors.New("session is cancelled")
	ErrSessionCompleted = errors.New("session is completed")
	ErrInvalidStatus    = errors.New("status cannot be set directly")
)
