package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	dbconfig "sessionchat/pkg/database"
	"sessionchat/pkg/interfaces"
	"sessionchat/pkg/types"
)

// Manager is the SQLite-backed session registry and message log.
// Reads go straight to the pool; every write is funnelled through writeLoop.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
}

var _ interfaces.Store = (*Manager)(nil)

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the single writer.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.Named("sqlite"),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		retryDelay:   time.Second,
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies pending schema migrations and validates the result.
func (m *Manager) Migrate() error {
	if err := dbconfig.NewMigrationManager(m.db).ApplyMigrations(); err != nil {
		return err
	}
	return dbconfig.NewSchemaValidator(m.db).Validate()
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if isBusy(err) {
				m.logger.Warn("database busy, retrying write", zap.Duration("delay", m.retryDelay), zap.Error(err))
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
			}
			if err != nil && !isExpected(err) {
				m.logger.Error("database write failed", zap.Error(err))
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Info("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(m.config.WriteTimeout):
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	// once queued the operation runs; wait for it so the caller sees the real outcome
	return <-result
}

// CreateSession inserts a new session.
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO sessions (id, requester_id, counterpart_id, start_time, end_time, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			session.ID,
			session.RequesterID,
			session.CounterpartID,
			session.StartTime.UTC(),
			session.EndTime.UTC(),
			session.Status,
			session.CreatedAt.UTC(),
		)
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey) {
			return interfaces.ErrSessionExists
		}
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession reads the current record; nothing is cached.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, requester_id, counterpart_id, start_time, end_time, status, created_at
		FROM sessions
		WHERE id = ?
	`, sessionID)

	var session types.Session
	err := row.Scan(
		&session.ID,
		&session.RequesterID,
		&session.CounterpartID,
		&session.StartTime,
		&session.EndTime,
		&session.Status,
		&session.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &session, nil
}

// UpdateSession replaces the window and status of an existing session.
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE sessions
			SET start_time = ?, end_time = ?, status = ?
			WHERE id = ?
		`,
			session.StartTime.UTC(),
			session.EndTime.UTC(),
			session.Status,
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

// Append assigns the next sequence for the session and commits the message
// in one transaction on the writer goroutine.
func (m *Manager) Append(ctx context.Context, message *types.ChatMessage) (*types.ChatMessage, error) {
	committed := message.Clone()
	committed.Receipts = nil
	committed.CreatedAt = committed.CreatedAt.UTC()

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var next int64
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?",
			committed.SessionID,
		).Scan(&next); err != nil {
			return fmt.Errorf("failed to read sequence: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, seq, sender_id, sender_role, body, kind, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			committed.ID,
			committed.SessionID,
			next,
			committed.SenderID,
			committed.SenderRole,
			committed.Body,
			committed.Kind,
			committed.CreatedAt,
		)
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return interfaces.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit message: %w", err)
		}
		committed.Sequence = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// AddReceipt inserts the reader's receipt unless one already exists.
func (m *Manager) AddReceipt(ctx context.Context, messageID string, receipt types.ReadReceipt) (types.ReadReceipt, bool, error) {
	stored := receipt
	stored.ReadAt = stored.ReadAt.UTC()
	var added bool

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		var exists int
		err := db.QueryRowContext(ctx, "SELECT 1 FROM messages WHERE id = ?", messageID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return interfaces.ErrMessageNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to query message: %w", err)
		}

		res, err := db.ExecContext(ctx,
			"INSERT OR IGNORE INTO message_receipts (message_id, reader_id, read_at) VALUES (?, ?, ?)",
			messageID, stored.ReaderID, stored.ReadAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert receipt: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to insert receipt: %w", err)
		}
		if n > 0 {
			added = true
			return nil
		}

		return db.QueryRowContext(ctx,
			"SELECT read_at FROM message_receipts WHERE message_id = ? AND reader_id = ?",
			messageID, stored.ReaderID,
		).Scan(&stored.ReadAt)
	})
	if err != nil {
		return types.ReadReceipt{}, false, err
	}
	return stored, added, nil
}

// GetMessage returns one message with its receipts.
func (m *Manager) GetMessage(ctx context.Context, messageID string) (*types.ChatMessage, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, session_id, seq, sender_id, sender_role, body, kind, created_at
		FROM messages
		WHERE id = ?
	`, messageID)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}

	rows, err := m.db.QueryContext(ctx,
		"SELECT message_id, reader_id, read_at FROM message_receipts WHERE message_id = ? ORDER BY read_at",
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	if err := attachReceipts(rows, map[string]*types.ChatMessage{msg.ID: msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// History returns messages with seq > afterSequence in sequence order.
func (m *Manager) History(ctx context.Context, sessionID string, afterSequence int64, limit int) ([]*types.ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, session_id, seq, sender_id, sender_role, body, kind, created_at
		FROM messages
		WHERE session_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, sessionID, afterSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	byID := make(map[string]*types.ChatMessage)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
		byID[msg.ID] = msg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	if len(messages) == 0 {
		return messages, nil
	}

	receiptRows, err := m.db.QueryContext(ctx, `
		SELECT r.message_id, r.reader_id, r.read_at
		FROM message_receipts r
		JOIN messages m ON m.id = r.message_id
		WHERE m.session_id = ? AND m.seq BETWEEN ? AND ?
		ORDER BY r.read_at
	`, sessionID, messages[0].Sequence, messages[len(messages)-1].Sequence)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	if err := attachReceipts(receiptRows, byID); err != nil {
		return nil, err
	}
	return messages, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close stops the writer and closes the pool. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*types.ChatMessage, error) {
	var msg types.ChatMessage
	err := row.Scan(
		&msg.ID,
		&msg.SessionID,
		&msg.Sequence,
		&msg.SenderID,
		&msg.SenderRole,
		&msg.Body,
		&msg.Kind,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func attachReceipts(rows *sql.Rows, byID map[string]*types.ChatMessage) error {
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var messageID string
		var receipt types.ReadReceipt
		if err := rows.Scan(&messageID, &receipt.ReaderID, &receipt.ReadAt); err != nil {
			return fmt.Errorf("failed to scan receipt row: %w", err)
		}
		if msg, ok := byID[messageID]; ok {
			msg.Receipts = append(msg.Receipts, receipt)
		}
	}
	return rows.Err()
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}

func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == code
}

func isExpected(err error) bool {
	return errors.Is(err, interfaces.ErrSessionExists) ||
		errors.Is(err, interfaces.ErrSessionNotFound) ||
		errors.Is(err, interfaces.ErrMessageNotFound) ||
		errors.Is(err, context.Canceled)
}

func applySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
