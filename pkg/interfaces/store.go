package interfaces

import "context"

// Store is a backend that serves both sessions and messages.
type Store interface {
	SessionStore
	MessageLog

	HealthCheck(ctx context.Context) error
	Close() error
}
