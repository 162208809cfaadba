// Package badgerlog is a BadgerDB-backed session registry and message log.
//
// Key layout:
//
//	session:{id}              session record
//	seq:{session}             last assigned sequence (big-endian uint64)
//	msg:{session}:{seq 19d}   message record, receipts included
//	idx:{message id}          msg key of the message
//
// The zero padding keeps a prefix scan over msg:{session}: in sequence order.
package badgerlog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"sessionchat/pkg/interfaces"
	"sessionchat/pkg/types"
)

const (
	maxConflictRetries = 10
	conflictBackoff    = 2 * time.Millisecond
	appendStripes      = 64
)

// Store implements interfaces.Store on a badger database.
type Store struct {
	db     *badger.DB
	logger *zap.Logger

	// appendMu serializes appends per session stripe so the counter key
	// never conflicts between writers of this process.
	appendMu [appendStripes]sync.Mutex
}

var _ interfaces.Store = (*Store)(nil)

// Open opens (or creates) a store at path. An empty path opens an in-memory store.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("badger")

	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogger{logger.Sugar()}).
		WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return New(db, logger), nil
}

// New wraps an already opened database.
func New(db *badger.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

func sessionKey(id string) []byte { return []byte("session:" + id) }
func seqKey(sessionID string) []byte { return []byte("seq:" + sessionID) }
func indexKey(messageID string) []byte { return []byte("idx:" + messageID) }
func messagePrefix(sessionID string) []byte { return []byte("msg:" + sessionID + ":") }

func messageKey(sessionID string, seq int64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d", sessionID, seq))
}

// CreateSession stores a new session record.
func (s *Store) CreateSession(ctx context.Context, session *types.Session) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(sessionKey(session.ID))
		if err == nil {
			return interfaces.ErrSessionExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return setJSON(txn, sessionKey(session.ID), session)
	})
}

// GetSession reads the current session record.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var session types.Session
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, sessionKey(sessionID), &session)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	return &session, nil
}

// UpdateSession overwrites the window and status of an existing session.
func (s *Store) UpdateSession(ctx context.Context, session *types.Session) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		var current types.Session
		if err := getJSON(txn, sessionKey(session.ID), &current); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return interfaces.ErrSessionNotFound
			}
			return err
		}
		current.StartTime = session.StartTime
		current.EndTime = session.EndTime
		current.Status = session.Status
		return setJSON(txn, sessionKey(session.ID), &current)
	})
}

func (s *Store) appendLock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return &s.appendMu[h.Sum32()%appendStripes]
}

// Append bumps the session counter and writes the message in one transaction.
// Appends to one session are serialized by a striped lock.
func (s *Store) Append(ctx context.Context, message *types.ChatMessage) (*types.ChatMessage, error) {
	mu := s.appendLock(message.SessionID)
	mu.Lock()
	defer mu.Unlock()

	var committed *types.ChatMessage
	err := s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(sessionKey(message.SessionID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return interfaces.ErrSessionNotFound
			}
			return err
		}

		next, err := nextSequence(txn, message.SessionID)
		if err != nil {
			return err
		}

		committed = message.Clone()
		committed.Sequence = next
		committed.Receipts = nil
		committed.CreatedAt = committed.CreatedAt.UTC()

		key := messageKey(committed.SessionID, next)
		if err := setJSON(txn, key, committed); err != nil {
			return err
		}
		return txn.Set(indexKey(committed.ID), key)
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// AddReceipt adds the reader's receipt to the stored message if absent.
func (s *Store) AddReceipt(ctx context.Context, messageID string, receipt types.ReadReceipt) (types.ReadReceipt, bool, error) {
	var stored types.ReadReceipt
	var added bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		added = false
		key, msg, err := loadByID(txn, messageID)
		if err != nil {
			return err
		}
		if existing, ok := msg.Receipt(receipt.ReaderID); ok {
			stored = existing
			return nil
		}
		stored = types.ReadReceipt{ReaderID: receipt.ReaderID, ReadAt: receipt.ReadAt.UTC()}
		msg.Receipts = append(msg.Receipts, stored)
		added = true
		return setJSON(txn, key, msg)
	})
	if err != nil {
		return types.ReadReceipt{}, false, err
	}
	return stored, added, nil
}

// GetMessage returns the message with its receipts.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*types.ChatMessage, error) {
	var msg *types.ChatMessage
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		_, msg, err = loadByID(txn, messageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// History scans msg:{session}: forward from afterSequence+1.
func (s *Store) History(ctx context.Context, sessionID string, afterSequence int64, limit int) ([]*types.ChatMessage, error) {
	var messages []*types.ChatMessage
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := messagePrefix(sessionID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(messageKey(sessionID, afterSequence+1)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(messages) == limit {
				break
			}
			var msg types.ChatMessage
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &msg)
			}); err != nil {
				return err
			}
			messages = append(messages, &msg)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return messages, nil
}

// HealthCheck fails once the database has been closed.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return s.db.View(func(txn *badger.Txn) error { return nil })
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db.IsClosed() {
		return nil
	}
	return s.db.Close()
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if attempt == maxConflictRetries {
			return fmt.Errorf("transaction kept conflicting: %w", err)
		}
		s.logger.Debug("transaction conflict, retrying", zap.Int("attempt", attempt+1))

		// jittered linear backoff
		delay := conflictBackoff*time.Duration(attempt+1) + rand.N(conflictBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func nextSequence(txn *badger.Txn, sessionID string) (int64, error) {
	var last uint64
	item, err := txn.Get(seqKey(sessionID))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(v []byte) error {
			last = binary.BigEndian.Uint64(v)
			return nil
		}); err != nil {
			return 0, err
		}
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, last+1)
	if err := txn.Set(seqKey(sessionID), buf); err != nil {
		return 0, err
	}
	return int64(last + 1), nil
}

func loadByID(txn *badger.Txn, messageID string) ([]byte, *types.ChatMessage, error) {
	item, err := txn.Get(indexKey(messageID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, interfaces.ErrMessageNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	key, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}

	var msg types.ChatMessage
	if err := getJSON(txn, key, &msg); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil, interfaces.ErrMessageNotFound
		}
		return nil, nil, err
	}
	return key, &msg, nil
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(b []byte) error {
		return json.Unmarshal(b, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, b)
}

// badgerLogger routes badger's internal logging into zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, args ...interface{})   { l.s.Errorf(f, args...) }
func (l badgerLogger) Warningf(f string, args ...interface{}) { l.s.Warnf(f, args...) }
func (l badgerLogger) Infof(f string, args ...interface{})    { l.s.Infof(f, args...) }
func (l badgerLogger) Debugf(f string, args ...interface{})   { l.s.Debugf(f, args...) }
