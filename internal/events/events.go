// Package events publishes committed chat activity to other processes.
package events

import (
	"context"
	"time"

	"sessionchat/pkg/types"
)

// Event kinds.
const (
	KindMessageCommitted = "message.committed"
	KindReceiptAdded     = "receipt.added"
	KindSessionUpdated   = "session.updated"
)

// Event is published after the change it describes has been committed.
type Event struct {
	Kind      string             `json:"kind"`
	SessionID string             `json:"session_id"`
	Message   *types.ChatMessage `json:"message,omitempty"`
	MessageID string             `json:"message_id,omitempty"`
	Receipt   *types.ReadReceipt `json:"receipt,omitempty"`
	Session   *types.Session     `json:"session,omitempty"`
	At        time.Time          `json:"at"`
}

// Publisher delivers events. Failures never roll back the committed change.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// Recorder keeps published events in memory. Used in tests.
type Recorder struct {
	ch chan Event
}

func NewRecorder(buffer int) *Recorder {
	return &Recorder{ch: make(chan Event, buffer)}
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	select {
	case r.ch <- event:
	default:
	}
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns the channel of recorded events.
func (r *Recorder) Events() <-chan Event { return r.ch }
