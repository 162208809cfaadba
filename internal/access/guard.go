// Package access decides whether an identity may join a session at a given time.
package access

import (
	"fmt"
	"time"

	"sessionchat/pkg/types"
)

// DefaultGrace is applied on both sides of the scheduled window when no
// explicit margins are configured.
const DefaultGrace = 10 * time.Minute

// Decision is the outcome of CanJoin. Window and Now are always set so a
// denied client can be told when to come back.
type Decision struct {
	Admit  bool
	Reason error
	Role   string
	Window types.Window
	Now    time.Time
}

// ReasonCode returns the wire name of the denial reason, or "" when admitted.
func (d Decision) ReasonCode() string {
	if d.Reason == nil {
		return ""
	}
	return d.Reason.Error()
}

// Explain renders a human readable denial message.
func (d Decision) Explain() string {
	switch d.Reason {
	case nil:
		return "access granted"
	case ErrNotParticipant:
		return "you are not a participant of this session"
	case ErrSessionCancelled:
		return "this session has been cancelled"
	case ErrOutsideWindow:
		if d.Now.Before(d.Window.Start) {
			return fmt.Sprintf("session opens at %s", d.Window.Start.UTC().Format(time.RFC3339))
		}
		return fmt.Sprintf("session closed at %s", d.Window.End.UTC().Format(time.RFC3339))
	case ErrSessionNotFound:
		return "session does not exist"
	default:
		return d.Reason.Error()
	}
}

// Guard holds the grace margins. It keeps no other state; every call is
// evaluated against the session record it is given.
type Guard struct {
	GraceBefore time.Duration
	GraceAfter  time.Duration
}

// NewGuard returns a guard with the given margins. Negative margins are treated as zero.
func NewGuard(graceBefore, graceAfter time.Duration) *Guard {
	return &Guard{
		GraceBefore: max(graceBefore, 0),
		GraceAfter:  max(graceAfter, 0),
	}
}

// EffectiveWindow widens the session's scheduled window by the grace margins.
func (g *Guard) EffectiveWindow(session *types.Session) types.Window {
	return types.Window{
		Start: session.StartTime.Add(-g.GraceBefore),
		End:   session.EndTime.Add(g.GraceAfter),
	}
}

// CanJoin checks participation first, then cancellation, then the window.
func (g *Guard) CanJoin(identityID string, session *types.Session, now time.Time) Decision {
	d := Decision{Now: now}
	if session == nil {
		d.Reason = ErrSessionNotFound
		return d
	}
	d.Window = g.EffectiveWindow(session)

	role, ok := session.RoleOf(identityID)
	if !ok {
		d.Reason = ErrNotParticipant
		return d
	}
	if session.Status == types.SessionStatusCancelled {
		d.Reason = ErrSessionCancelled
		return d
	}
	if !d.Window.Contains(now) {
		d.Reason = ErrOutsideWindow
		return d
	}

	d.Admit = true
	d.Role = role
	return d
}
