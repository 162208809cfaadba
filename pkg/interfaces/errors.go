package interfaces

import "errors"

// Common errors returned by store implementations
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrSessionExists   = errors.New("session already exists")
)
