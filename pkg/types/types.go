package types

import (
	"time"
)

// Session statuses as written by the scheduling side.
const (
	SessionStatusScheduled = "scheduled"
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
)

// Session roles. A session always has exactly one participant per role.
const (
	RoleRequester   = "requester"
	RoleCounterpart = "counterpart"
)

// Message kinds
const (
	MessageKindText   = "text"
	MessageKindSystem = "system"
)

// SystemSenderID is the sender recorded on system notices.
const SystemSenderID = "system"

// Session is a scheduled, time-boxed interaction between two participants.
// The chat core only reads sessions; the window is re-read on every join.
type Session struct {
	ID            string    `json:"id" db:"id"`
	RequesterID   string    `json:"requester_id" db:"requester_id"`
	CounterpartID string    `json:"counterpart_id" db:"counterpart_id"`
	StartTime     time.Time `json:"start_time" db:"start_time"`
	EndTime       time.Time `json:"end_time" db:"end_time"`
	Status        string    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// RoleOf returns the session role held by identityID.
func (s *Session) RoleOf(identityID string) (string, bool) {
	switch identityID {
	case "":
		return "", false
	case s.RequesterID:
		return RoleRequester, true
	case s.CounterpartID:
		return RoleCounterpart, true
	default:
		return "", false
	}
}

// ParticipantFor returns the identity holding role, or "" for unknown roles.
func (s *Session) ParticipantFor(role string) string {
	switch role {
	case RoleRequester:
		return s.RequesterID
	case RoleCounterpart:
		return s.CounterpartID
	default:
		return ""
	}
}

// Identity is an authenticated caller. Role and Contact come from the credential
// and are independent of any session role.
type Identity struct {
	ID      string `json:"id"`
	Role    string `json:"role,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// ReadReceipt records that a reader has seen a message.
type ReadReceipt struct {
	ReaderID string    `json:"reader_id"`
	ReadAt   time.Time `json:"read_at"`
}

// ChatMessage is a committed message in a session's log.
// Sequence is assigned by the message log on append and is the commit order.
type ChatMessage struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Sequence   int64         `json:"sequence"`
	SenderID   string        `json:"sender_id"`
	SenderRole string        `json:"sender_role"`
	Body       string        `json:"body"`
	Kind       string        `json:"kind"`
	CreatedAt  time.Time     `json:"created_at"`
	Receipts   []ReadReceipt `json:"receipts"`
}

// Receipt returns the receipt left by readerID, if any.
func (m *ChatMessage) Receipt(readerID string) (ReadReceipt, bool) {
	for _, r := range m.Receipts {
		if r.ReaderID == readerID {
			return r, true
		}
	}
	return ReadReceipt{}, false
}

// Clone returns a deep copy so callers can't grow another holder's receipt slice.
func (m *ChatMessage) Clone() *ChatMessage {
	if m == nil {
		return nil
	}
	c := *m
	c.Receipts = append([]ReadReceipt(nil), m.Receipts...)
	return &c
}

// PresenceRecord describes one live connection of an identity.
type PresenceRecord struct {
	Identity     string    `json:"identity"`
	Role         string    `json:"role,omitempty"`
	Contact      string    `json:"contact,omitempty"`
	ConnectionID string    `json:"connection_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	Live         bool      `json:"live"`
}

// Window is a closed time interval [Start, End].
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}
