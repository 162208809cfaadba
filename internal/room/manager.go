package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sessionchat/internal/access"
	"sessionchat/internal/events"
	"sessionchat/pkg/interfaces"
	"sessionchat/pkg/types"
)

// DefaultMaxBodyRunes caps a message body when no limit is configured.
const DefaultMaxBodyRunes = 2000

// admitAttempts bounds retries when the room found in the map closes under us.
const admitAttempts = 3

// Config tunes rooms created by a Manager.
type Config struct {
	MaxBodyRunes int
	Now          func() time.Time
}

type dependencies struct {
	log          interfaces.MessageLog
	publisher    events.Publisher
	logger       *zap.Logger
	now          func() time.Time
	maxBodyRunes int
}

// Manager owns the live rooms, creating them on first admit and forgetting
// them once they empty out.
type Manager struct {
	mu     sync.Mutex
	rooms  map[string]*Room
	deps   dependencies
	closed bool
}

// Stats summarizes live rooms.
type Stats struct {
	Rooms   int `json:"rooms"`
	Members int `json:"members"`
}

// NewManager creates a room manager. publisher may be nil.
func NewManager(cfg Config, log interfaces.MessageLog, publisher events.Publisher, logger *zap.Logger) *Manager {
	if cfg.MaxBodyRunes <= 0 {
		cfg.MaxBodyRunes = DefaultMaxBodyRunes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		rooms: make(map[string]*Room),
		deps: dependencies{
			log:          log,
			publisher:    publisher,
			logger:       logger.Named("room"),
			now:          cfg.Now,
			maxBodyRunes: cfg.MaxBodyRunes,
		},
	}
}

func (m *Manager) getOrCreate(sessionID string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if r, ok := m.rooms[sessionID]; ok && !r.closed() {
		return r, nil
	}
	r := newRoom(sessionID, m.deps, m.remove)
	m.rooms[sessionID] = r
	return r, nil
}

func (m *Manager) remove(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.rooms[r.sessionID]; ok && current == r {
		delete(m.rooms, r.sessionID)
	}
}

// Admit places member in the session's room, creating the room if needed.
func (m *Manager) Admit(ctx context.Context, member Member, identity types.Identity, session *types.Session, decision access.Decision) (*Room, error) {
	var lastErr error
	for attempt := 0; attempt < admitAttempts; attempt++ {
		r, err := m.getOrCreate(session.ID)
		if err != nil {
			return nil, err
		}
		lastErr = r.Admit(ctx, member, identity, session, decision)
		if !errors.Is(lastErr, ErrRoomClosed) {
			if lastErr != nil {
				// a room created for this admit must not outlive it
				r.closeIfEmpty()
				return nil, lastErr
			}
			return r, nil
		}
	}
	return nil, lastErr
}

// Room returns the live room of a session, if any.
func (m *Manager) Room(sessionID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[sessionID]
	if !ok || r.closed() {
		return nil, false
	}
	return r, true
}

// Notice posts a system message to a session. A live room broadcasts it;
// otherwise it is only appended to the log.
func (m *Manager) Notice(ctx context.Context, sessionID, body string) (*types.ChatMessage, error) {
	if r, ok := m.Room(sessionID); ok {
		msg, err := r.Notice(ctx, body)
		if !errors.Is(err, ErrRoomClosed) {
			return msg, err
		}
	}

	committed, err := m.deps.log.Append(ctx, newNotice(sessionID, body, m.deps.now()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAppendFailed, err)
	}
	if perr := m.deps.publisher.Publish(ctx, events.Event{
		Kind:      events.KindMessageCommitted,
		SessionID: sessionID,
		Message:   committed,
		At:        committed.CreatedAt,
	}); perr != nil {
		m.deps.logger.Warn("event publish failed", zap.Error(perr))
	}
	return committed, nil
}

// Stats counts live rooms and their members.
func (m *Manager) Stats(ctx context.Context) Stats {
	m.mu.Lock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	stats := Stats{}
	for _, r := range rooms {
		n, err := r.MemberCount(ctx)
		if err != nil {
			continue
		}
		stats.Rooms++
		stats.Members += n
	}
	return stats
}

// Close stops every room. Later admits fail with ErrManagerClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		r.stop()
	}
	m.deps.logger.Info("all rooms stopped", zap.Int("rooms", len(rooms)))
}
