package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"sessionchat/internal/access"
	"sessionchat/internal/events"
	"sessionchat/internal/memstore"
	"sessionchat/internal/mocks"
	"sessionchat/internal/protocol"
	"sessionchat/pkg/types"
)

var clock = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

type fakeMember struct {
	id     string
	mu     sync.Mutex
	events []protocol.Event
}

func newMember(id string) *fakeMember { return &fakeMember{id: id} }

func (f *fakeMember) ID() string { return f.id }

func (f *fakeMember) Send(ev protocol.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeMember) received() []protocol.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Event(nil), f.events...)
}

func (f *fakeMember) eventTypes() []string {
	return lo.Map(f.received(), func(ev protocol.Event, _ int) string { return ev.EventType() })
}

func (f *fakeMember) count(eventType string) int {
	return lo.CountBy(f.received(), func(ev protocol.Event) bool { return ev.EventType() == eventType })
}

func (f *fakeMember) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = nil
}

type fixture struct {
	store   *memstore.Store
	manager *Manager
	session *types.Session
	guard   *access.Guard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	session := &types.Session{
		ID:            "s1",
		RequesterID:   "alice",
		CounterpartID: "bob",
		StartTime:     clock.Add(-10 * time.Minute),
		EndTime:       clock.Add(50 * time.Minute),
		Status:        types.SessionStatusActive,
	}
	require.NoError(t, store.CreateSession(context.Background(), session))

	manager := NewManager(Config{MaxBodyRunes: 20, Now: func() time.Time { return clock }}, store, nil, nil)
	t.Cleanup(manager.Close)
	return &fixture{
		store:   store,
		manager: manager,
		session: session,
		guard:   access.NewGuard(access.DefaultGrace, access.DefaultGrace),
	}
}

func (f *fixture) admit(t *testing.T, member Member, identity string) *Room {
	t.Helper()
	decision := f.guard.CanJoin(identity, f.session, clock)
	require.True(t, decision.Admit)
	r, err := f.manager.Admit(context.Background(), member, types.Identity{ID: identity}, f.session, decision)
	require.NoError(t, err)
	return r
}

func TestRoom_AdmitSendsJoinedThenOnlineUsers(t *testing.T) {
	f := newFixture(t)
	a := newMember("a1")
	f.admit(t, a, "alice")

	require.Equal(t, []string{protocol.TypeSessionJoined, protocol.TypeOnlineUsers}, a.eventTypes())
	joined := a.received()[0].(protocol.SessionJoined)
	assert.Equal(t, "s1", joined.SessionID)
	assert.Equal(t, types.RoleRequester, joined.Session.Role)
	assert.Equal(t, clock.Add(-20*time.Minute), joined.SessionTime.WindowStart)
	assert.Equal(t, clock.Add(60*time.Minute), joined.SessionTime.WindowEnd)
	assert.Equal(t, clock, joined.SessionTime.ServerTime)
	assert.Equal(t, []string{"alice"}, a.received()[1].(protocol.OnlineUsers).Users)

	b := newMember("b1")
	f.admit(t, b, "bob")
	assert.Equal(t, []string{"alice", "bob"}, b.received()[1].(protocol.OnlineUsers).Users)
	assert.Equal(t, protocol.UserOnline{Identity: "bob"}, a.received()[2])
}

func TestRoom_SecondConnectionOfIdentityNotAnnounced(t *testing.T) {
	f := newFixture(t)
	b := newMember("b1")
	f.admit(t, b, "bob")
	f.admit(t, newMember("a1"), "alice")
	f.admit(t, newMember("a2"), "alice")

	assert.Equal(t, 1, b.count(protocol.TypeUserOnline))
}

func TestRoom_BroadcastFollowsCommitOrder(t *testing.T) {
	f := newFixture(t)
	a1, a2, b1 := newMember("a1"), newMember("a2"), newMember("b1")
	r := f.admit(t, a1, "alice")
	f.admit(t, a2, "alice")
	f.admit(t, b1, "bob")

	const perSender = 15
	var wg sync.WaitGroup
	for _, conn := range []string{"a1", "a2", "b1"} {
		wg.Add(1)
		go func(conn string) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				_, err := r.AcceptMessage(context.Background(), conn, fmt.Sprintf("%s-%d", conn, i))
				assert.NoError(t, err)
			}
		}(conn)
	}
	wg.Wait()

	history, err := f.store.History(context.Background(), "s1", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 3*perSender)
	logOrder := lo.Map(history, func(m *types.ChatMessage, _ int) string { return m.ID })

	for _, m := range []*fakeMember{a1, a2, b1} {
		seen := lo.FilterMap(m.received(), func(ev protocol.Event, _ int) (string, bool) {
			nm, ok := ev.(protocol.NewMessage)
			if !ok {
				return "", false
			}
			return nm.Message.ID, true
		})
		assert.Equal(t, logOrder, seen, "member %s sees commit order", m.id)
	}
}

func TestRoom_AcceptMessageValidation(t *testing.T) {
	f := newFixture(t)
	a := newMember("a1")
	r := f.admit(t, a, "alice")

	_, err := r.AcceptMessage(context.Background(), "stranger", "hi")
	assert.ErrorIs(t, err, ErrNotJoined)

	_, err = r.AcceptMessage(context.Background(), "a1", "   ")
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.ErrorIs(t, err, types.ErrEmptyBody)

	_, err = r.AcceptMessage(context.Background(), "a1", strings.Repeat("x", 21))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	msg, err := r.AcceptMessage(context.Background(), "a1", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, int64(1), msg.Sequence)
	assert.Equal(t, types.RoleRequester, msg.SenderRole)
	assert.Equal(t, 1, a.count(protocol.TypeNewMessage))
}

func TestRoom_RoleMismatchRejected(t *testing.T) {
	f := newFixture(t)
	a := newMember("a1")
	decision := f.guard.CanJoin("alice", f.session, clock)
	decision.Role = types.RoleCounterpart

	r, err := f.manager.Admit(context.Background(), a, types.Identity{ID: "alice"}, f.session, decision)
	require.NoError(t, err)

	_, err = r.AcceptMessage(context.Background(), "a1", "hi")
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Zero(t, a.count(protocol.TypeNewMessage))
}

func TestRoom_AppendFailureNotBroadcast(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := mocks.NewMockMessageLog(ctrl)
	log.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil, errors.New("disk full"))

	manager := NewManager(Config{Now: func() time.Time { return clock }}, log, nil, nil)
	defer manager.Close()

	session := &types.Session{ID: "s1", RequesterID: "alice", CounterpartID: "bob",
		StartTime: clock, EndTime: clock.Add(time.Hour), Status: types.SessionStatusActive}
	decision := access.NewGuard(0, 0).CanJoin("alice", session, clock)
	a, b := newMember("a1"), newMember("b1")
	r, err := manager.Admit(context.Background(), a, types.Identity{ID: "alice"}, session, decision)
	require.NoError(t, err)
	_, err = manager.Admit(context.Background(), b, types.Identity{ID: "bob"}, session, access.NewGuard(0, 0).CanJoin("bob", session, clock))
	require.NoError(t, err)

	_, err = r.AcceptMessage(context.Background(), "a1", "hello")
	assert.ErrorIs(t, err, ErrAppendFailed)
	assert.Zero(t, a.count(protocol.TypeNewMessage))
	assert.Zero(t, b.count(protocol.TypeNewMessage))
}

func TestRoom_MarkReadIdempotent(t *testing.T) {
	f := newFixture(t)
	a, b := newMember("a1"), newMember("b1")
	r := f.admit(t, a, "alice")
	f.admit(t, b, "bob")

	msg, err := r.AcceptMessage(context.Background(), "a1", "read me")
	require.NoError(t, err)

	first, added, err := r.MarkRead(context.Background(), "b1", msg.ID)
	require.NoError(t, err)
	assert.True(t, added)
	second, added, err := r.MarkRead(context.Background(), "b1", msg.ID)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, first, second)

	stored, err := f.store.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Receipts, 1)
	assert.Equal(t, 1, a.count(protocol.TypeMessageRead))
	assert.Equal(t, 1, b.count(protocol.TypeMessageRead))
}

func TestRoom_MarkReadRejectsForeignMessage(t *testing.T) {
	f := newFixture(t)
	other := &types.Session{ID: "s2", RequesterID: "alice", CounterpartID: "carol",
		StartTime: clock, EndTime: clock.Add(time.Hour), Status: types.SessionStatusActive}
	require.NoError(t, f.store.CreateSession(context.Background(), other))
	foreign, err := f.store.Append(context.Background(), &types.ChatMessage{ID: "m-foreign", SessionID: "s2", Body: "x"})
	require.NoError(t, err)

	r := f.admit(t, newMember("a1"), "alice")
	_, _, err = r.MarkRead(context.Background(), "a1", foreign.ID)
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, _, err = r.MarkRead(context.Background(), "a1", "missing")
	assert.ErrorIs(t, err, ErrMessageNotFound)
	_, _, err = r.MarkRead(context.Background(), "stranger", foreign.ID)
	assert.ErrorIs(t, err, ErrNotJoined)
}

func TestRoom_TypingAggregatesPerIdentity(t *testing.T) {
	f := newFixture(t)
	a1, a2, b := newMember("a1"), newMember("a2"), newMember("b1")
	r := f.admit(t, a1, "alice")
	f.admit(t, a2, "alice")
	f.admit(t, b, "bob")
	b.reset()
	a1.reset()

	ctx := context.Background()
	require.NoError(t, r.SetTyping(ctx, "a1", true))
	require.NoError(t, r.SetTyping(ctx, "a2", true))
	require.NoError(t, r.SetTyping(ctx, "a1", false))
	assert.Equal(t, []string{protocol.TypeUserTyping}, b.eventTypes())

	require.NoError(t, r.SetTyping(ctx, "a2", false))
	assert.Equal(t, []string{protocol.TypeUserTyping, protocol.TypeUserStoppedTyping}, b.eventTypes())
	assert.Empty(t, a1.eventTypes(), "typing is not echoed to the typist's own connections")

	assert.ErrorIs(t, r.SetTyping(ctx, "stranger", true), ErrNotJoined)
}

func TestRoom_DismissClearsTypingAndAnnouncesOfflineOnce(t *testing.T) {
	f := newFixture(t)
	a1, a2, b := newMember("a1"), newMember("a2"), newMember("b1")
	r := f.admit(t, a1, "alice")
	f.admit(t, a2, "alice")
	f.admit(t, b, "bob")
	ctx := context.Background()
	require.NoError(t, r.SetTyping(ctx, "a1", true))
	b.reset()

	require.NoError(t, r.Dismiss(ctx, "a1"))
	assert.Equal(t, []string{protocol.TypeUserStoppedTyping}, b.eventTypes())

	require.NoError(t, r.Dismiss(ctx, "a1"))
	require.NoError(t, r.Dismiss(ctx, "a2"))
	require.NoError(t, r.Dismiss(ctx, "a2"))
	assert.Equal(t, 1, b.count(protocol.TypeUserOffline))

	ids, err := r.Identities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, ids)
}

func TestRoom_TearsDownWhenEmpty(t *testing.T) {
	f := newFixture(t)
	r := f.admit(t, newMember("a1"), "alice")
	require.NoError(t, r.Dismiss(context.Background(), "a1"))

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("room did not stop")
	}
	assert.Eventually(t, func() bool {
		_, ok := f.manager.Room("s1")
		return !ok
	}, time.Second, 10*time.Millisecond)

	// dismissing on a stopped room is still fine
	require.NoError(t, r.Dismiss(context.Background(), "a1"))

	again := f.admit(t, newMember("a2"), "alice")
	assert.NotSame(t, r, again)
	assert.Equal(t, Stats{Rooms: 1, Members: 1}, f.manager.Stats(context.Background()))
}

func TestManager_NoticeBroadcastsOrAppends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.manager.Notice(ctx, "s1", "session rescheduled")
	require.NoError(t, err)
	assert.Equal(t, types.MessageKindSystem, msg.Kind)
	assert.Equal(t, int64(1), msg.Sequence)

	a := newMember("a1")
	f.admit(t, a, "alice")
	_, err = f.manager.Notice(ctx, "s1", "session cancelled")
	require.NoError(t, err)

	require.Equal(t, 1, a.count(protocol.TypeNewMessage))
	got := a.received()[2].(protocol.NewMessage)
	assert.Equal(t, types.SystemSenderID, got.Message.SenderID)
	assert.Equal(t, int64(2), got.Message.Sequence)
}

func TestManager_PublishesCommittedEvents(t *testing.T) {
	store := memstore.New()
	session := &types.Session{ID: "s1", RequesterID: "alice", CounterpartID: "bob",
		StartTime: clock, EndTime: clock.Add(time.Hour), Status: types.SessionStatusActive}
	require.NoError(t, store.CreateSession(context.Background(), session))
	recorder := events.NewRecorder(10)
	manager := NewManager(Config{Now: func() time.Time { return clock }}, store, recorder, nil)
	defer manager.Close()

	decision := access.NewGuard(0, 0).CanJoin("alice", session, clock)
	r, err := manager.Admit(context.Background(), newMember("a1"), types.Identity{ID: "alice"}, session, decision)
	require.NoError(t, err)

	msg, err := r.AcceptMessage(context.Background(), "a1", "hi")
	require.NoError(t, err)
	_, _, err = r.MarkRead(context.Background(), "a1", msg.ID)
	require.NoError(t, err)

	first := <-recorder.Events()
	assert.Equal(t, events.KindMessageCommitted, first.Kind)
	assert.Equal(t, msg.ID, first.Message.ID)
	second := <-recorder.Events()
	assert.Equal(t, events.KindReceiptAdded, second.Kind)
}

func TestManager_ClosedRejectsAdmit(t *testing.T) {
	f := newFixture(t)
	f.admit(t, newMember("a1"), "alice")
	f.manager.Close()

	decision := f.guard.CanJoin("bob", f.session, clock)
	_, err := f.manager.Admit(context.Background(), newMember("b1"), types.Identity{ID: "bob"}, f.session, decision)
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManager_CancelledAdmitLeavesNoRoom(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	decision := f.guard.CanJoin("alice", f.session, clock)
	_, err := f.manager.Admit(ctx, newMember("a1"), types.Identity{ID: "alice"}, f.session, decision)
	require.ErrorIs(t, err, context.Canceled)

	assert.Eventually(t, func() bool {
		_, ok := f.manager.Room("s1")
		return !ok
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, Stats{}, f.manager.Stats(context.Background()))

	// an occupied room survives a cancelled admit
	r := f.admit(t, newMember("a2"), "alice")
	decision = f.guard.CanJoin("bob", f.session, clock)
	_, err = f.manager.Admit(ctx, newMember("b1"), types.Identity{ID: "bob"}, f.session, decision)
	require.ErrorIs(t, err, context.Canceled)

	live, ok := f.manager.Room("s1")
	require.True(t, ok)
	assert.Same(t, r, live)
	assert.Equal(t, Stats{Rooms: 1, Members: 1}, f.manager.Stats(context.Background()))
}
