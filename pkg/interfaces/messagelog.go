package interfaces

import (
	"context"

	"sessionchat/pkg/types"
)

//go:generate go run go.uber.org/mock/mockgen -source=messagelog.go -destination=../../internal/mocks/mock_messagelog.go -package=mocks

// MessageLog is the durable, append-only, per-session ordered message store.
type MessageLog interface {
	// Append commits message and returns the committed copy with its
	// per-session Sequence assigned. Sequence assignment and commit are atomic;
	// the returned order is the order every later reader observes.
	Append(ctx context.Context, message *types.ChatMessage) (*types.ChatMessage, error)

	// AddReceipt records receipt on messageID if the reader has none yet.
	// It returns the stored receipt and whether it was newly added.
	AddReceipt(ctx context.Context, messageID string, receipt types.ReadReceipt) (types.ReadReceipt, bool, error)

	// GetMessage returns ErrMessageNotFound for unknown IDs.
	GetMessage(ctx context.Context, messageID string) (*types.ChatMessage, error)

	// History returns up to limit messages of a session with Sequence > afterSequence,
	// in commit order. limit <= 0 means no limit.
	History(ctx context.Context, sessionID string, afterSequence int64, limit int) ([]*types.ChatMessage, error)
}
