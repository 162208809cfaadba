package types

import "errors"

// Validation errors shared by the session and message paths.
var (
	ErrInvalidUserID    = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen/dot/@ only")
	ErrInvalidSessionID = errors.New("session ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidWindow    = errors.New("session start must be before session end")
	ErrSameParticipants = errors.New("requester and counterpart must be different identities")
	ErrInvalidStatus    = errors.New("invalid session status")
	ErrEmptyBody        = errors.New("message body cannot be empty")
	ErrBodyTooLong      = errors.New("message body exceeds maximum length")
)
