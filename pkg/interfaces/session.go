package interfaces

import (
	"context"

	"sessionchat/pkg/types"
)

//go:generate go run go.uber.org/mock/mockgen -source=session.go -destination=../../internal/mocks/mock_session.go -package=mocks

// SessionRegistry is the read side of the scheduling subsystem.
// Implementations must return the current record on every call; callers
// rely on this to re-validate windows on each join.
type SessionRegistry interface {
	// GetSession returns ErrSessionNotFound when no session has the given ID.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
}

// SessionStore adds the operator write side used by the admin API and seeding.
type SessionStore interface {
	SessionRegistry

	CreateSession(ctx context.Context, session *types.Session) error

	// UpdateSession replaces window and status of an existing session.
	UpdateSession(ctx context.Context, session *types.Session) error
}
