package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionchat/pkg/types"
)

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Event{Kind: KindMessageCommitted}))
	assert.NoError(t, p.Close())
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	r := NewRecorder(1)
	require.NoError(t, r.Publish(context.Background(), Event{Kind: KindMessageCommitted}))
	require.NoError(t, r.Publish(context.Background(), Event{Kind: KindReceiptAdded}))

	got := <-r.Events()
	assert.Equal(t, KindMessageCommitted, got.Kind)
	assert.Len(t, r.Events(), 0)
}

func TestNATSPublisher_Subject(t *testing.T) {
	p := &NATSPublisher{prefix: "sessionchat"}
	assert.Equal(t, "sessionchat.s1.message.committed",
		p.Subject(Event{Kind: KindMessageCommitted, SessionID: "s1"}))
}

func TestNATSPublisher_RoundTrip(t *testing.T) {
	url := os.Getenv("SESSIONCHAT_TEST_NATS_URL")
	if url == "" {
		t.Skip("SESSIONCHAT_TEST_NATS_URL not set")
	}

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()
	ch := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("sessionchat-test.s1.>", ch)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	p, err := NewNATSPublisher(url, "sessionchat-test", nil)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	msg := &types.ChatMessage{ID: "m1", SessionID: "s1", Sequence: 1, Body: "hi"}
	require.NoError(t, p.Publish(context.Background(), Event{Kind: KindMessageCommitted, SessionID: "s1", Message: msg}))

	select {
	case got := <-ch:
		assert.Equal(t, "sessionchat-test.s1.message.committed", got.Subject)
		assert.Contains(t, string(got.Data), `"body":"hi"`)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}
