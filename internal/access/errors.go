package access

import "errors"

// Denial reasons. The error text doubles as the wire reason.
var (
	ErrNotParticipant   = errors.New("NotParticipant")
	ErrSessionCancelled = errors.New("SessionCancelled")
	ErrOutsideWindow    = errors.New("OutsideWindow")
	ErrSessionNotFound  = errors.New("SessionNotFound")
)
