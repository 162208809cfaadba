package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionchat/pkg/types"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    any
		wantErr error
	}{
		{
			name: "join",
			raw:  `{"type":"join","request_id":"r1","payload":{"session_id":"s1"}}`,
			want: &JoinPayload{SessionID: "s1"},
		},
		{
			name: "send keeps body untouched",
			raw:  `{"type":"send","payload":{"session_id":"s1","body":"  hi  "}}`,
			want: &SendPayload{SessionID: "s1", Body: "  hi  "},
		},
		{
			name: "leave without payload",
			raw:  `{"type":"leave"}`,
			want: &LeavePayload{},
		},
		{
			name: "ping with null payload",
			raw:  `{"type":"ping","payload":null}`,
			want: &PingPayload{},
		},
		{
			name: "typing stop",
			raw:  `{"type":"typing-stop","payload":{"session_id":"s1"}}`,
			want: &TypingPayload{SessionID: "s1"},
		},
		{
			name: "mark read",
			raw:  `{"type":"mark-message-read","payload":{"message_id":"m1","session_id":"s1"}}`,
			want: &MarkReadPayload{MessageID: "m1", SessionID: "s1"},
		},
		{
			name:    "not json",
			raw:     `{"type":`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "unknown type",
			raw:     `{"type":"dance"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "join without session",
			raw:     `{"type":"join","payload":{}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "mark read without message",
			raw:     `{"type":"mark-message-read","payload":{"session_id":"s1"}}`,
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "wrong field type",
			raw:     `{"type":"send","payload":{"session_id":7}}`,
			wantErr: ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tt.raw))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Payload)
		})
	}
}

func TestDecodeCommand_KeepsRequestIDOnError(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"type":"join","request_id":"abc","payload":{}}`))
	require.Error(t, err)
	assert.Equal(t, "abc", cmd.RequestID)
}

func TestDecodeCommand_PayloadTooLarge(t *testing.T) {
	data, err := EncodeCommand(TypeSend, "big", SendPayload{SessionID: "s1", Body: strings.Repeat("a", MaxPayloadBytes)})
	require.NoError(t, err)

	cmd, err := DecodeCommand(data)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.Equal(t, TypeSend, cmd.Type)
	assert.Equal(t, "big", cmd.RequestID)
}

func TestEncodeEvent_Envelope(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw, err := EncodeEvent(Pong{ServerTime: now}, "r9")
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Equal(t, "pong", frame["type"])
	assert.Equal(t, "r9", frame["request_id"])
	assert.Equal(t, "2026-01-02T03:04:05Z", frame["payload"].(map[string]any)["server_time"])
}

func TestDecodeEvent_TypedValues(t *testing.T) {
	msg := &types.ChatMessage{ID: "m1", SessionID: "s1", Sequence: 3, Body: "hello"}
	raw, err := EncodeEvent(NewMessage{Message: msg}, "")
	require.NoError(t, err)

	ev, _, err := DecodeEvent(raw)
	require.NoError(t, err)
	got, ok := ev.(NewMessage)
	require.True(t, ok)
	assert.Equal(t, int64(3), got.Message.Sequence)

	raw, err = EncodeEvent(AccessDenied{Reason: "OutsideWindow", Message: "later"}, "")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "session_time", "window omitted when absent")

	_, _, err = DecodeEvent([]byte(`{"type":"nope"}`))
	assert.ErrorIs(t, err, ErrUnknownType)
}
