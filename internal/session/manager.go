package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sessionchat/internal/events"
	"sessionchat/pkg/interfaces"
	"sessionchat/pkg/types"
)

// Noticer posts a system message into a session. *room.Manager implements it.
type Noticer interface {
	Notice(ctx context.Context, sessionID, body string) (*types.ChatMessage, error)
}

// CreateRequest describes a new session. ID is generated when empty and
// Status defaults to scheduled.
type CreateRequest struct {
	ID            string    `json:"id"`
	RequesterID   string    `json:"requester_id"`
	CounterpartID string    `json:"counterpart_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"`
}

// Manager is the operator write side of the session registry. It never
// caches: the chat core re-reads sessions from the store on every join.
type Manager struct {
	store     interfaces.SessionStore
	notices   Noticer
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager creates a session manager. notices and publisher may be nil.
func NewManager(store interfaces.SessionStore, notices Noticer, publisher events.Publisher, logger *zap.Logger) *Manager {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		notices:   notices,
		publisher: publisher,
		logger:    logger.Named("sessions"),
		now:       time.Now,
	}
}

// CreateSession validates and stores a new session.
func (m *Manager) CreateSession(ctx context.Context, req CreateRequest) (*types.Session, error) {
	session := &types.Session{
		ID:            req.ID,
		RequesterID:   req.RequesterID,
		CounterpartID: req.CounterpartID,
		StartTime:     req.StartTime.UTC(),
		EndTime:       req.EndTime.UTC(),
		Status:        req.Status,
		CreatedAt:     m.now().UTC(),
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.Status == "" {
		session.Status = types.SessionStatusScheduled
	}
	if session.Status == types.SessionStatusCancelled {
		return nil, ErrInvalidStatus
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("requester", session.RequesterID),
		zap.String("counterpart", session.CounterpartID),
		zap.Time("start", session.StartTime),
		zap.Time("end", session.EndTime))
	m.publish(ctx, session)
	return session, nil
}

// GetSession returns the current record.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

// CancelSession marks a session cancelled. Later joins are denied; members
// already in the room are told through a system message.
func (m *Manager) CancelSession(ctx context.Context, sessionID, reason string) (*types.Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == types.SessionStatusCancelled {
		return nil, ErrSessionCancelled
	}

	session.Status = types.SessionStatusCancelled
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to cancel session: %w", err)
	}

	m.logger.Info("session cancelled", zap.String("session_id", sessionID), zap.String("reason", reason))
	body := "This session has been cancelled."
	if reason != "" {
		body = fmt.Sprintf("This session has been cancelled: %s", reason)
	}
	m.notify(ctx, sessionID, body)
	m.publish(ctx, session)
	return session, nil
}

// RescheduleSession moves the window of a session that is not cancelled or
// completed.
func (m *Manager) RescheduleSession(ctx context.Context, sessionID string, start, end time.Time) (*types.Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case types.SessionStatusCancelled:
		return nil, ErrSessionCancelled
	case types.SessionStatusCompleted:
		return nil, ErrSessionCompleted
	}

	session.StartTime = start.UTC()
	session.EndTime = end.UTC()
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to reschedule session: %w", err)
	}

	m.logger.Info("session rescheduled",
		zap.String("session_id", sessionID),
		zap.Time("start", session.StartTime),
		zap.Time("end", session.EndTime))
	m.notify(ctx, sessionID, fmt.Sprintf("This session has been rescheduled to %s - %s.",
		session.StartTime.Format(time.RFC3339), session.EndTime.Format(time.RFC3339)))
	m.publish(ctx, session)
	return session, nil
}

// SetStatus moves a session between scheduled, active and completed.
// Cancellation goes through CancelSession.
func (m *Manager) SetStatus(ctx context.Context, sessionID, status string) (*types.Session, error) {
	if !types.IsValidStatus(status) || status == types.SessionStatusCancelled {
		return nil, ErrInvalidStatus
	}
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == types.SessionStatusCancelled {
		return nil, ErrSessionCancelled
	}
	if session.Status == status {
		return session, nil
	}

	session.Status = status
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to update session status: %w", err)
	}
	m.logger.Info("session status changed", zap.String("session_id", sessionID), zap.String("status", status))
	m.publish(ctx, session)
	return session, nil
}

func (m *Manager) notify(ctx context.Context, sessionID, body string) {
	if m.notices == nil {
		return
	}
	if _, err := m.notices.Notice(ctx, sessionID, body); err != nil {
		m.logger.Warn("failed to post session notice", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (m *Manager) publish(ctx context.Context, session *types.Session) {
	err := m.publisher.Publish(ctx, events.Event{
		Kind:      events.KindSessionUpdated,
		SessionID: session.ID,
		Session:   session,
		At:        m.now().UTC(),
	})
	if err != nil {
		m.logger.Warn("failed to publish session update", zap.String("session_id", session.ID), zap.Error(err))
	}
}
