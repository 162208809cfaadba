// Package storetest holds the behaviour every interfaces.Store backend must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sessionchat/pkg/interfaces"
	"sessionchat/pkg/types"
)

// Factory returns a fresh, empty store. The store is closed by the suite.
type Factory func(t *testing.T) interfaces.Store

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// Session returns a valid session fixture.
func Session(id string) *types.Session {
	return &types.Session{
		ID:            id,
		RequesterID:   "alice",
		CounterpartID: "bob",
		StartTime:     base,
		EndTime:       base.Add(time.Hour),
		Status:        types.SessionStatusScheduled,
		CreatedAt:     base.Add(-24 * time.Hour),
	}
}

// Message returns an uncommitted text message from sender.
func Message(sessionID, sender, body string) *types.ChatMessage {
	return &types.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		SenderID:   sender,
		SenderRole: types.RoleRequester,
		Body:       body,
		Kind:       types.MessageKindText,
		CreatedAt:  base.Add(5 * time.Minute),
	}
}

// Run executes the shared store suite.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store interfaces.Store)
	}{
		{"SessionLifecycle", testSessionLifecycle},
		{"AppendAssignsSequence", testAppendAssignsSequence},
		{"AppendUnknownSession", testAppendUnknownSession},
		{"ConcurrentAppend", testConcurrentAppend},
		{"ReceiptIdempotent", testReceiptIdempotent},
		{"HistoryCursor", testHistoryCursor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() { _ = store.Close() })
			tt.fn(t, store)
		})
	}
}

func testSessionLifecycle(t *testing.T, store interfaces.Store) {
	ctx := context.Background()

	_, err := store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)

	s := Session("s1")
	require.NoError(t, store.CreateSession(ctx, s))
	assert.ErrorIs(t, store.CreateSession(ctx, s), interfaces.ErrSessionExists)

	got, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.RequesterID)
	assert.Equal(t, "bob", got.CounterpartID)
	assert.True(t, got.StartTime.Equal(s.StartTime))
	assert.True(t, got.EndTime.Equal(s.EndTime))
	assert.Equal(t, types.SessionStatusScheduled, got.Status)

	got.Status = types.SessionStatusCancelled
	got.EndTime = got.EndTime.Add(30 * time.Minute)
	require.NoError(t, store.UpdateSession(ctx, got))

	again, err := store.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusCancelled, again.Status)
	assert.True(t, again.EndTime.Equal(base.Add(90*time.Minute)))

	assert.ErrorIs(t, store.UpdateSession(ctx, Session("missing")), interfaces.ErrSessionNotFound)
}

func testAppendAssignsSequence(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, Session("s1")))
	require.NoError(t, store.CreateSession(ctx, Session("s2")))

	first, err := store.Append(ctx, Message("s1", "alice", "one"))
	require.NoError(t, err)
	second, err := store.Append(ctx, Message("s1", "alice", "two"))
	require.NoError(t, err)
	other, err := store.Append(ctx, Message("s2", "alice", "elsewhere"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, int64(1), other.Sequence, "sequences are per session")

	got, err := store.GetMessage(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "two", got.Body)
	assert.Equal(t, int64(2), got.Sequence)
	assert.Empty(t, got.Receipts)

	_, err = store.GetMessage(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrMessageNotFound)
}

func testAppendUnknownSession(t *testing.T, store interfaces.Store) {
	_, err := store.Append(context.Background(), Message("nope", "alice", "hi"))
	assert.ErrorIs(t, err, interfaces.ErrSessionNotFound)
}

func testConcurrentAppend(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, Session("s1")))

	const writers, each = 8, 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	seqs := make(map[int64]string)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				msg, err := store.Append(ctx, Message("s1", "alice", fmt.Sprintf("%d-%d", w, i)))
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seqs[msg.Sequence] = msg.ID
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	require.Len(t, seqs, writers*each, "every append gets a distinct sequence")

	history, err := store.History(ctx, "s1", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, writers*each)
	for i, msg := range history {
		assert.Equal(t, int64(i+1), msg.Sequence)
		assert.Equal(t, seqs[msg.Sequence], msg.ID, "log order matches commit order")
	}
}

func testReceiptIdempotent(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, Session("s1")))
	msg, err := store.Append(ctx, Message("s1", "alice", "read me"))
	require.NoError(t, err)

	readAt := base.Add(10 * time.Minute)
	receipt, added, err := store.AddReceipt(ctx, msg.ID, types.ReadReceipt{ReaderID: "bob", ReadAt: readAt})
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, receipt.ReadAt.Equal(readAt))

	again, added, err := store.AddReceipt(ctx, msg.ID, types.ReadReceipt{ReaderID: "bob", ReadAt: readAt.Add(time.Minute)})
	require.NoError(t, err)
	assert.False(t, added)
	assert.True(t, again.ReadAt.Equal(readAt), "first receipt wins")

	got, err := store.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, got.Receipts, 1)
	assert.Equal(t, "bob", got.Receipts[0].ReaderID)

	_, _, err = store.AddReceipt(ctx, "missing", types.ReadReceipt{ReaderID: "bob", ReadAt: readAt})
	assert.ErrorIs(t, err, interfaces.ErrMessageNotFound)
}

func testHistoryCursor(t *testing.T, store interfaces.Store) {
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, Session("s1")))
	for i := 1; i <= 5; i++ {
		_, err := store.Append(ctx, Message("s1", "alice", fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	page, err := store.History(ctx, "s1", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m4"}, lo.Map(page, func(m *types.ChatMessage, _ int) string { return m.Body }))

	rest, err := store.History(ctx, "s1", 4, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m5"}, lo.Map(rest, func(m *types.ChatMessage, _ int) string { return m.Body }))

	none, err := store.History(ctx, "s1", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	empty, err := store.History(ctx, "other", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
