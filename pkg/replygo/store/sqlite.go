// Package store – sqlite.go implements Store on SQLite. A single
// conversations.db file holds every record; WAL mode keeps concurrent
// reads from the monitor cheap while the pipeline writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// schema is the DDL executed on every startup (idempotent via IF NOT EXISTS).
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    session_key        TEXT PRIMARY KEY,
    account_id         TEXT NOT NULL,
    counterpart_id     TEXT NOT NULL,
    ai_conversation_id TEXT,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL,
    activation_count   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
CREATE INDEX IF NOT EXISTS idx_conversations_activation ON conversations(activation_count);
`

// SQLite implements Store backed by a local SQLite database.
type SQLite struct {
	db *sql.DB
	// now is swapped in tests to control timestamps.
	now func() time.Time
}

// Open opens (or creates) the conversation database at the given path.
// It enables WAL mode and creates the schema.
func Open(path string) (*SQLite, error) {
	if path == "" {
		path = "./data/conversations.db"
	}

	// Ensure parent directory exists.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory %q: %w", dir, err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", path, err)
	}

	// Verify connectivity.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Create schema (idempotent).
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get returns the record for a session key, or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, sessionKey string) (*ConversationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_key, account_id, counterpart_id, ai_conversation_id,
		       created_at, updated_at, activation_count
		FROM conversations WHERE session_key = ?`, sessionKey)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %q: %w", sessionKey, err)
	}
	return rec, nil
}

// SaveConversationID stores the AI conversation id, creating the record when
// the session has never been seen. Re-saving an unchanged id leaves the row
// alone entirely.
func (s *SQLite) SaveConversationID(ctx context.Context, sessionKey, accountID, counterpartID, conversationID string) error {
	now := s.now().UTC().Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET ai_conversation_id = ?, updated_at = ?
		WHERE session_key = ? AND ai_conversation_id IS NOT ?`,
		conversationID, now, sessionKey, conversationID)
	if err != nil {
		return fmt.Errorf("save conversation id for %q: %w", sessionKey, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	// Either the row is missing or the id is already current. An INSERT OR
	// IGNORE settles both without clobbering an existing row.
	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations
			(session_key, account_id, counterpart_id, ai_conversation_id,
			 created_at, updated_at, activation_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		sessionKey, accountID, counterpartID, conversationID, now, now)
	if err != nil {
		return fmt.Errorf("create conversation %q: %w", sessionKey, err)
	}
	return nil
}

// Touch bumps updated_at, creating the record when absent.
func (s *SQLite) Touch(ctx context.Context, sessionKey, accountID, counterpartID string) error {
	now := s.now().UTC().Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE session_key = ?`,
		now, sessionKey)
	if err != nil {
		return fmt.Errorf("touch conversation %q: %w", sessionKey, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversations
			(session_key, account_id, counterpart_id, ai_conversation_id,
			 created_at, updated_at, activation_count)
		VALUES (?, ?, ?, NULL, ?, ?, 0)`,
		sessionKey, accountID, counterpartID, now, now)
	if err != nil {
		return fmt.Errorf("create conversation %q: %w", sessionKey, err)
	}
	return nil
}

// IncrementActivation adds by to the activation count and bumps updated_at.
// Returns ErrNotFound when the record does not exist.
func (s *SQLite) IncrementActivation(ctx context.Context, sessionKey string, by int) error {
	if by < 0 {
		return fmt.Errorf("increment activation for %q: negative delta %d", sessionKey, by)
	}
	now := s.now().UTC().Format(time.RFC3339)

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET activation_count = activation_count + ?, updated_at = ?
		WHERE session_key = ?`,
		by, now, sessionKey)
	if err != nil {
		return fmt.Errorf("increment activation for %q: %w", sessionKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("increment activation for %q: %w", sessionKey, ErrNotFound)
	}
	return nil
}

// Stale returns records untouched for longer than olderThan whose activation
// count is still below maxActivations.
func (s *SQLite) Stale(ctx context.Context, olderThan time.Duration, maxActivations int) ([]*ConversationRecord, error) {
	threshold := s.now().UTC().Add(-olderThan).Format(time.RFC3339)

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_key, account_id, counterpart_id, ai_conversation_id,
		       created_at, updated_at, activation_count
		FROM conversations
		WHERE updated_at < ? AND activation_count < ?
		ORDER BY updated_at ASC`,
		threshold, maxActivations)
	if err != nil {
		return nil, fmt.Errorf("query stale conversations: %w", err)
	}
	defer rows.Close()

	var records []*ConversationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale conversation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Reset clears the AI conversation id but keeps the record.
func (s *SQLite) Reset(ctx context.Context, sessionKey string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET ai_conversation_id = NULL WHERE session_key = ?`,
		sessionKey)
	if err != nil {
		return fmt.Errorf("reset conversation %q: %w", sessionKey, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reset conversation %q: %w", sessionKey, ErrNotFound)
	}
	return nil
}

// Delete removes a record entirely.
func (s *SQLite) Delete(ctx context.Context, sessionKey string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE session_key = ?`, sessionKey)
	if err != nil {
		return fmt.Errorf("delete conversation %q: %w", sessionKey, err)
	}
	return nil
}

// List returns all records, most recently updated first.
func (s *SQLite) List(ctx context.Context) ([]*ConversationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_key, account_id, counterpart_id, ai_conversation_id,
		       created_at, updated_at, activation_count
		FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var records []*ConversationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*ConversationRecord, error) {
	var (
		rec       ConversationRecord
		convID    sql.NullString
		createdAt string
		updatedAt string
	)
	if err := sc.Scan(&rec.SessionKey, &rec.AccountID, &rec.CounterpartID,
		&convID, &createdAt, &updatedAt, &rec.ActivationCount); err != nil {
		return nil, err
	}
	if convID.Valid {
		rec.AIConversationID = convID.String
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at %q: %w", updatedAt, err)
	}
	return &rec, nil
}
