// Package memstore is an in-process session registry and message log.
// Used by tests and by the "memory" log backend; nothing survives a restart.
package memstore

import (
	"context"
	"sync"

	"sessionchat/pkg/interfaces"
	"sessionchat/pkg/types"
)

type Store struct {
	mu       sync.RWMutex
	sessions map[string]types.Session
	logs     map[string][]*types.ChatMessage
	byID     map[string]*types.ChatMessage
}

var _ interfaces.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions: make(map[string]types.Session),
		logs:     make(map[string][]*types.ChatMessage),
		byID:     make(map[string]*types.ChatMessage),
	}
}

func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return interfaces.ErrSessionExists
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	return &session, nil
}

func (s *Store) UpdateSession(ctx context.Context, session *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.sessions[session.ID]
	if !ok {
		return interfaces.ErrSessionNotFound
	}
	current.StartTime = session.StartTime
	current.EndTime = session.EndTime
	current.Status = session.Status
	s.sessions[session.ID] = current
	return nil
}

func (s *Store) Append(ctx context.Context, message *types.ChatMessage) (*types.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[message.SessionID]; !ok {
		return nil, interfaces.ErrSessionNotFound
	}

	stored := message.Clone()
	stored.Receipts = nil
	stored.Sequence = int64(len(s.logs[message.SessionID]) + 1)
	s.logs[message.SessionID] = append(s.logs[message.SessionID], stored)
	s.byID[stored.ID] = stored
	return stored.Clone(), nil
}

func (s *Store) AddReceipt(ctx context.Context, messageID string, receipt types.ReadReceipt) (types.ReadReceipt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[messageID]
	if !ok {
		return types.ReadReceipt{}, false, interfaces.ErrMessageNotFound
	}
	if existing, ok := msg.Receipt(receipt.ReaderID); ok {
		return existing, false, nil
	}
	msg.Receipts = append(msg.Receipts, receipt)
	return receipt, true, nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*types.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.byID[messageID]
	if !ok {
		return nil, interfaces.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

func (s *Store) History(ctx context.Context, sessionID string, afterSequence int64, limit int) ([]*types.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[sessionID]
	if afterSequence < 0 {
		afterSequence = 0
	}
	if afterSequence >= int64(len(log)) {
		return nil, nil
	}
	tail := log[afterSequence:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out := make([]*types.ChatMessage, len(tail))
	for i, m := range tail {
		out[i] = m.Clone()
	}
	return out, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}
