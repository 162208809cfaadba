package protocol

import (
	"time"

	"sessionchat/pkg/types"
)

// Server -> client frame types.
const (
	TypeSessionJoined     = "session-joined"
	TypeAccessDenied      = "access-denied"
	TypeError             = "error"
	TypeNewMessage        = "new-message"
	TypeMessageRead       = "message-read"
	TypeUserOnline        = "user-online"
	TypeUserOffline       = "user-offline"
	TypeOnlineUsers       = "online-users"
	TypeUserTyping        = "user-typing"
	TypeUserStoppedTyping = "user-stopped-typing"
	TypePong              = "pong"
)

// Error codes carried by ErrorEvent.
const (
	CodeNotJoined       = "NotJoined"
	CodeNotParticipant  = "NotParticipant"
	CodeInvalidMessage  = "InvalidMessage"
	CodeMessageNotFound = "MessageNotFound"
	CodeInvalidArgument = "InvalidArgument"
	CodeRateLimited     = "RateLimited"
	CodeSendFailed      = "SendFailed"
	CodeInternal        = "Internal"
)

// Event is a server to client event payload.
type Event interface {
	EventType() string
}

// SessionInfo is the session as seen by a joined member.
type SessionInfo struct {
	ID            string    `json:"id"`
	RequesterID   string    `json:"requester_id"`
	CounterpartID string    `json:"counterpart_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"`
	Role          string    `json:"role"`
}

// NewSessionInfo describes session from the point of view of role.
func NewSessionInfo(session *types.Session, role string) SessionInfo {
	return SessionInfo{
		ID:            session.ID,
		RequesterID:   session.RequesterID,
		CounterpartID: session.CounterpartID,
		StartTime:     session.StartTime,
		EndTime:       session.EndTime,
		Status:        session.Status,
		Role:          role,
	}
}

// SessionTime is the effective access window and the server clock at decision time.
type SessionTime struct {
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	ServerTime  time.Time `json:"server_time"`
}

type SessionJoined struct {
	SessionID   string      `json:"session_id"`
	Message     string      `json:"message"`
	Session     SessionInfo `json:"session"`
	SessionTime SessionTime `json:"session_time"`
}

type AccessDenied struct {
	Reason      string       `json:"reason"`
	Message     string       `json:"message"`
	SessionTime *SessionTime `json:"session_time,omitempty"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type NewMessage struct {
	Message *types.ChatMessage `json:"message"`
}

type MessageRead struct {
	MessageID string            `json:"message_id"`
	SessionID string            `json:"session_id"`
	Receipt   types.ReadReceipt `json:"receipt"`
}

type UserOnline struct {
	Identity string `json:"identity"`
}

type UserOffline struct {
	Identity string `json:"identity"`
}

type OnlineUsers struct {
	Users []string `json:"users"`
}

type UserTyping struct {
	Identity  string `json:"identity"`
	SessionID string `json:"session_id"`
}

type UserStoppedTyping struct {
	Identity  string `json:"identity"`
	SessionID string `json:"session_id"`
}

type Pong struct {
	ServerTime time.Time `json:"server_time"`
}

func (SessionJoined) EventType() string     { return TypeSessionJoined }
func (AccessDenied) EventType() string      { return TypeAccessDenied }
func (ErrorEvent) EventType() string        { return TypeError }
func (NewMessage) EventType() string        { return TypeNewMessage }
func (MessageRead) EventType() string       { return TypeMessageRead }
func (UserOnline) EventType() string        { return TypeUserOnline }
func (UserOffline) EventType() string       { return TypeUserOffline }
func (OnlineUsers) EventType() string       { return TypeOnlineUsers }
func (UserTyping) EventType() string        { return TypeUserTyping }
func (UserStoppedTyping) EventType() string { return TypeUserStoppedTyping }
func (Pong) EventType() string              { return TypePong }

func newEvent(frameType string) (any, bool) {
	switch frameType {
	case TypeSessionJoined:
		return &SessionJoined{}, true
	case TypeAccessDenied:
		return &AccessDenied{}, true
	case TypeError:
		return &ErrorEvent{}, true
	case TypeNewMessage:
		return &NewMessage{}, true
	case TypeMessageRead:
		return &MessageRead{}, true
	case TypeUserOnline:
		return &UserOnline{}, true
	case TypeUserOffline:
		return &UserOffline{}, true
	case TypeOnlineUsers:
		return &OnlineUsers{}, true
	case TypeUserTyping:
		return &UserTyping{}, true
	case TypeUserStoppedTyping:
		return &UserStoppedTyping{}, true
	case TypePong:
		return &Pong{}, true
	default:
		return nil, false
	}
}

// derefEvent returns the value form so callers can type-switch on value types.
func derefEvent(ev any) Event {
	switch e := ev.(type) {
	case *SessionJoined:
		return *e
	case *AccessDenied:
		return *e
	case *ErrorEvent:
		return *e
	case *NewMessage:
		return *e
	case *MessageRead:
		return *e
	case *UserOnline:
		return *e
	case *UserOffline:
		return *e
	case *OnlineUsers:
		return *e
	case *UserTyping:
		return *e
	case *UserStoppedTyping:
		return *e
	case *Pong:
		return *e
	default:
		return nil
	}
}
