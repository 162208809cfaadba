// Package protocol defines the JSON frames exchanged over the websocket.
//
// Every frame is {"type": ..., "request_id": ..., "payload": {...}}. Client
// commands and server events are closed sets of typed payloads.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxPayloadBytes bounds a decoded frame payload. It leaves room for a
	// maximum length body written entirely in escaped non-BMP runes.
	MaxPayloadBytes = 64 * 1024

	// MaxFrameBytes is the transport read limit. Larger frames close the connection.
	MaxFrameBytes = 1 << 20
)

// Frame is the envelope for every message in either direction.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Client -> server frame types.
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeSend        = "send"
	TypeTypingStart = "typing-start"
	TypeTypingStop  = "typing-stop"
	TypeMarkRead    = "mark-message-read"
	TypePing        = "ping"
)

// Command is a decoded and validated client frame.
type Command struct {
	Type      string
	RequestID string
	Payload   any
}

type JoinPayload struct {
	SessionID string `json:"session_id" validate:"required,max=64"`
}

type LeavePayload struct{}

type SendPayload struct {
	SessionID string `json:"session_id" validate:"required,max=64"`
	Body      string `json:"body"`
}

type TypingPayload struct {
	SessionID string `json:"session_id" validate:"required,max=64"`
}

type MarkReadPayload struct {
	MessageID string `json:"message_id" validate:"required,max=64"`
	SessionID string `json:"session_id" validate:"required,max=64"`
}

type PingPayload struct{}

var validate = validator.New(validator.WithRequiredStructEnabled())

func newPayload(frameType string) (any, bool) {
	switch frameType {
	case TypeJoin:
		return &JoinPayload{}, true
	case TypeLeave:
		return &LeavePayload{}, true
	case TypeSend:
		return &SendPayload{}, true
	case TypeTypingStart, TypeTypingStop:
		return &TypingPayload{}, true
	case TypeMarkRead:
		return &MarkReadPayload{}, true
	case TypePing:
		return &PingPayload{}, true
	default:
		return nil, false
	}
}

// DecodeCommand parses a raw client frame. Errors wrap ErrMalformedFrame,
// ErrUnknownType or ErrInvalidPayload. The request id is returned whenever
// the envelope itself could be read so the error can be correlated.
func DecodeCommand(data []byte) (Command, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	cmd := Command{Type: frame.Type, RequestID: frame.RequestID}

	if len(frame.Payload) > MaxPayloadBytes {
		return cmd, fmt.Errorf("%w: %w", ErrInvalidPayload, ErrPayloadTooLarge)
	}

	payload, ok := newPayload(frame.Type)
	if !ok {
		return cmd, fmt.Errorf("%w: %q", ErrUnknownType, frame.Type)
	}
	if len(frame.Payload) > 0 && string(frame.Payload) != "null" {
		if err := json.Unmarshal(frame.Payload, payload); err != nil {
			return cmd, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	if err := validate.Struct(payload); err != nil {
		return cmd, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	cmd.Payload = payload
	return cmd, nil
}

// EncodeCommand builds a client frame. Used by the client and tests.
func EncodeCommand(frameType, requestID string, payload any) ([]byte, error) {
	frame := Frame{Type: frameType, RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		frame.Payload = raw
	}
	return json.Marshal(frame)
}

// EncodeEvent builds a server frame for ev.
func EncodeEvent(ev Event, requestID string) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", ev.EventType(), err)
	}
	return json.Marshal(Frame{Type: ev.EventType(), RequestID: requestID, Payload: raw})
}

// DecodeEvent parses a server frame into its typed event.
func DecodeEvent(data []byte) (Event, string, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	ev, ok := newEvent(frame.Type)
	if !ok {
		return nil, frame.RequestID, fmt.Errorf("%w: %q", ErrUnknownType, frame.Type)
	}
	if len(frame.Payload) > 0 {
		if err := json.Unmarshal(frame.Payload, ev); err != nil {
			return nil, frame.RequestID, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return derefEvent(ev), frame.RequestID, nil
}
