// Package room serializes everything that happens inside one live session.
//
// Each Room is an actor: a single goroutine owns membership and typing state,
// and every entry point is a closure executed on that goroutine. Message
// appends happen on the actor too, so commit order equals broadcast order.
package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"sessionchat/internal/access"
	"sessionchat/internal/events"
	"sessionchat/internal/protocol"
	"sessionchat/pkg/interfaces"
	"sessionchat/pkg/types"
)

// Member is a connection that can be admitted to a room.
// Send must not block; it queues the event for the connection's writer.
type Member interface {
	ID() string
	Send(ev protocol.Event) error
}

type membership struct {
	member   Member
	identity types.Identity
	role     string
	typing   bool
	joinedAt time.Time
}

// Room is the coordinator of one session.
type Room struct {
	sessionID    string
	log          interfaces.MessageLog
	publisher    events.Publisher
	logger       *zap.Logger
	now          func() time.Time
	maxBodyRunes int
	onClose      func(*Room)

	ops  chan func()
	quit chan struct{}
	done chan struct{}

	// owned by the actor goroutine
	members map[string]*membership
	session *types.Session
	closing bool
}

func newRoom(sessionID string, deps dependencies, onClose func(*Room)) *Room {
	r := &Room{
		sessionID:    sessionID,
		log:          deps.log,
		publisher:    deps.publisher,
		logger:       deps.logger.With(zap.String("session_id", sessionID)),
		now:          deps.now,
		maxBodyRunes: deps.maxBodyRunes,
		onClose:      onClose,
		ops:          make(chan func()),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		members:      make(map[string]*membership),
	}
	go r.run()
	return r
}

// SessionID returns the session this room serves.
func (r *Room) SessionID() string {
	return r.sessionID
}

// Done is closed once the actor has stopped.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

func (r *Room) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Room) run() {
	defer func() {
		close(r.done)
		if r.onClose != nil {
			r.onClose(r)
		}
		r.logger.Debug("room stopped")
	}()

	for {
		select {
		case op := <-r.ops:
			op()
			if r.closing {
				return
			}
		case <-r.quit:
			return
		}
	}
}

// do runs fn on the actor and waits for it to finish.
func (r *Room) do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case r.ops <- op:
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// closeIfEmpty stops the room if nobody is in it.
func (r *Room) closeIfEmpty() {
	_ = r.do(context.Background(), func() {
		if len(r.members) == 0 {
			r.closing = true
		}
	})
}

func (r *Room) stop() {
	select {
	case <-r.quit:
	default:
		close(r.quit)
	}
	<-r.done
}

// Admit adds member to the room after the access guard has admitted it.
// The member receives session-joined then online-users before any later
// command is processed; other members see user-online if this is the
// identity's first connection in the room.
func (r *Room) Admit(ctx context.Context, member Member, identity types.Identity, session *types.Session, decision access.Decision) error {
	return r.do(ctx, func() {
		r.session = session
		_, rejoin := r.members[member.ID()]
		firstForIdentity := !rejoin && len(r.connectionsOf(identity.ID)) == 0

		r.members[member.ID()] = &membership{
			member:   member,
			identity: identity,
			role:     decision.Role,
			joinedAt: r.now(),
		}

		r.send(member, protocol.SessionJoined{
			SessionID: r.sessionID,
			Message:   fmt.Sprintf("joined session %s as %s", r.sessionID, decision.Role),
			Session:   protocol.NewSessionInfo(session, decision.Role),
			SessionTime: protocol.SessionTime{
				WindowStart: decision.Window.Start,
				WindowEnd:   decision.Window.End,
				ServerTime:  decision.Now,
			},
		})
		r.send(member, protocol.OnlineUsers{Users: r.identities()})

		for _, typing := range r.typingIdentities() {
			if typing != identity.ID {
				r.send(member, protocol.UserTyping{Identity: typing, SessionID: r.sessionID})
			}
		}

		if firstForIdentity {
			r.broadcastExcept(identity.ID, protocol.UserOnline{Identity: identity.ID})
		}

		r.logger.Info("member admitted",
			zap.String("connection_id", member.ID()),
			zap.String("identity", identity.ID),
			zap.String("role", decision.Role),
			zap.Bool("rejoin", rejoin))
	})
}

// Dismiss removes a connection. Unknown connections and closed rooms are ignored.
func (r *Room) Dismiss(ctx context.Context, connectionID string) error {
	err := r.do(ctx, func() {
		m, ok := r.members[connectionID]
		if !ok {
			return
		}
		wasTyping := r.isTyping(m.identity.ID)
		delete(r.members, connectionID)

		if wasTyping && !r.isTyping(m.identity.ID) {
			r.broadcastExcept(m.identity.ID, protocol.UserStoppedTyping{Identity: m.identity.ID, SessionID: r.sessionID})
		}
		if len(r.connectionsOf(m.identity.ID)) == 0 {
			r.broadcast(protocol.UserOffline{Identity: m.identity.ID})
		}

		r.logger.Info("member dismissed",
			zap.String("connection_id", connectionID),
			zap.String("identity", m.identity.ID),
			zap.Int("remaining", len(r.members)))

		if len(r.members) == 0 {
			r.closing = true
		}
	})
	if errors.Is(err, ErrRoomClosed) {
		return nil
	}
	return err
}

// AcceptMessage validates, commits and broadcasts a message from connectionID.
// Nothing is broadcast unless the append succeeded.
func (r *Room) AcceptMessage(ctx context.Context, connectionID, body string) (*types.ChatMessage, error) {
	var committed *types.ChatMessage
	var opErr error
	err := r.do(ctx, func() {
		m, ok := r.members[connectionID]
		if !ok {
			opErr = ErrNotJoined
			return
		}
		if r.session.ParticipantFor(m.role) != m.identity.ID {
			opErr = ErrNotParticipant
			return
		}
		text, err := types.NormalizeBody(body, r.maxBodyRunes)
		if err != nil {
			opErr = fmt.Errorf("%w: %w", ErrInvalidMessage, err)
			return
		}

		msg := &types.ChatMessage{
			ID:         uuid.NewString(),
			SessionID:  r.sessionID,
			SenderID:   m.identity.ID,
			SenderRole: m.role,
			Body:       text,
			Kind:       types.MessageKindText,
			CreatedAt:  r.now(),
		}
		committed, opErr = r.commit(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	return committed, opErr
}

// Notice appends and broadcasts a system message.
func (r *Room) Notice(ctx context.Context, body string) (*types.ChatMessage, error) {
	var committed *types.ChatMessage
	var opErr error
	err := r.do(ctx, func() {
		committed, opErr = r.commit(ctx, newNotice(r.sessionID, body, r.now()))
	})
	if err != nil {
		return nil, err
	}
	return committed, opErr
}

func newNotice(sessionID, body string, at time.Time) *types.ChatMessage {
	return &types.ChatMessage{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		SenderID:   types.SystemSenderID,
		SenderRole: types.SystemSenderID,
		Body:       body,
		Kind:       types.MessageKindSystem,
		CreatedAt:  at,
	}
}

// commit runs on the actor.
func (r *Room) commit(ctx context.Context, msg *types.ChatMessage) (*types.ChatMessage, error) {
	committed, err := r.log.Append(ctx, msg)
	if err != nil {
		r.logger.Error("append failed", zap.String("message_id", msg.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}

	r.broadcast(protocol.NewMessage{Message: committed})
	r.publish(ctx, events.Event{
		Kind:      events.KindMessageCommitted,
		SessionID: r.sessionID,
		Message:   committed,
		At:        committed.CreatedAt,
	})
	return committed, nil
}

// MarkRead records a read receipt for messageID and broadcasts it if new.
func (r *Room) MarkRead(ctx context.Context, connectionID, messageID string) (types.ReadReceipt, bool, error) {
	var receipt types.ReadReceipt
	var added bool
	var opErr error
	err := r.do(ctx, func() {
		m, ok := r.members[connectionID]
		if !ok {
			opErr = ErrNotJoined
			return
		}

		msg, err := r.log.GetMessage(ctx, messageID)
		if errors.Is(err, interfaces.ErrMessageNotFound) || (err == nil && msg.SessionID != r.sessionID) {
			opErr = ErrMessageNotFound
			return
		}
		if err != nil {
			opErr = err
			return
		}

		receipt, added, err = r.log.AddReceipt(ctx, messageID, types.ReadReceipt{ReaderID: m.identity.ID, ReadAt: r.now()})
		if err != nil {
			opErr = err
			return
		}
		if !added {
			return
		}

		r.broadcast(protocol.MessageRead{MessageID: messageID, SessionID: r.sessionID, Receipt: receipt})
		r.publish(ctx, events.Event{
			Kind:      events.KindReceiptAdded,
			SessionID: r.sessionID,
			MessageID: messageID,
			Receipt:   &receipt,
			At:        receipt.ReadAt,
		})
	})
	if err != nil {
		return types.ReadReceipt{}, false, err
	}
	return receipt, added, opErr
}

// SetTyping updates the connection's typing flag. Members of other identities
// are told only when the identity's overall typing state flips.
func (r *Room) SetTyping(ctx context.Context, connectionID string, typing bool) error {
	var opErr error
	err := r.do(ctx, func() {
		m, ok := r.members[connectionID]
		if !ok {
			opErr = ErrNotJoined
			return
		}
		before := r.isTyping(m.identity.ID)
		m.typing = typing
		after := r.isTyping(m.identity.ID)
		if before == after {
			return
		}

		if after {
			r.broadcastExcept(m.identity.ID, protocol.UserTyping{Identity: m.identity.ID, SessionID: r.sessionID})
		} else {
			r.broadcastExcept(m.identity.ID, protocol.UserStoppedTyping{Identity: m.identity.ID, SessionID: r.sessionID})
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// Identities returns the identities currently in the room.
func (r *Room) Identities(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.do(ctx, func() { ids = r.identities() })
	return ids, err
}

// MemberCount returns the number of admitted connections.
func (r *Room) MemberCount(ctx context.Context) (int, error) {
	var n int
	err := r.do(ctx, func() { n = len(r.members) })
	return n, err
}

// helpers below run on the actor

func (r *Room) connectionsOf(identity string) []*membership {
	return lo.Filter(lo.Values(r.members), func(m *membership, _ int) bool {
		return m.identity.ID == identity
	})
}

func (r *Room) isTyping(identity string) bool {
	return lo.SomeBy(r.connectionsOf(identity), func(m *membership) bool { return m.typing })
}

func (r *Room) identities() []string {
	ids := lo.Uniq(lo.Map(lo.Values(r.members), func(m *membership, _ int) string { return m.identity.ID }))
	sort.Strings(ids)
	return ids
}

func (r *Room) typingIdentities() []string {
	ids := lo.Uniq(lo.FilterMap(lo.Values(r.members), func(m *membership, _ int) (string, bool) {
		return m.identity.ID, m.typing
	}))
	sort.Strings(ids)
	return ids
}

// orderedMembers returns members sorted by join time so fan-out is deterministic.
func (r *Room) orderedMembers() []*membership {
	members := lo.Values(r.members)
	sort.Slice(members, func(i, j int) bool {
		if !members[i].joinedAt.Equal(members[j].joinedAt) {
			return members[i].joinedAt.Before(members[j].joinedAt)
		}
		return members[i].member.ID() < members[j].member.ID()
	})
	return members
}

func (r *Room) broadcast(ev protocol.Event) {
	for _, m := range r.orderedMembers() {
		r.send(m.member, ev)
	}
}

func (r *Room) broadcastExcept(identity string, ev protocol.Event) {
	for _, m := range r.orderedMembers() {
		if m.identity.ID != identity {
			r.send(m.member, ev)
		}
	}
}

func (r *Room) send(member Member, ev protocol.Event) {
	if err := member.Send(ev); err != nil {
		r.logger.Debug("dropping event for member",
			zap.String("connection_id", member.ID()),
			zap.String("event", ev.EventType()),
			zap.Error(err))
	}
}

func (r *Room) publish(ctx context.Context, ev events.Event) {
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.Warn("event publish failed", zap.String("kind", ev.Kind), zap.Error(err))
	}
}
