// Package repository provides the SQLite persistence layer for
// conversations and their owning entities.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/personadesk/runstream/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = sql.ErrNoRows

// SQLiteStore implements conversation persistence using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) a SQLite database.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS owners (
			owner_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			design_context TEXT,
			last_result TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			messages TEXT NOT NULL DEFAULT '[]',
			last_result TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (owner_id) REFERENCES owners(owner_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(owner_id, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_owner_status ON conversations(owner_id, status)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateOwner inserts an owning entity.
func (s *SQLiteStore) CreateOwner(ctx context.Context, owner *domain.Owner) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO owners (owner_id, name, design_context, last_result, created_at) VALUES (?, ?, ?, ?, ?)`,
		owner.OwnerID, owner.Name, nullString(owner.DesignContext), rawOrNil(owner.LastResult), owner.CreatedAt)
	return err
}

// GetOwner retrieves an owner by ID, or nil when absent.
func (s *SQLiteStore) GetOwner(ctx context.Context, ownerID string) (*domain.Owner, error) {
	var owner domain.Owner
	var designContext, lastResult sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, name, design_context, last_result, created_at FROM owners WHERE owner_id = ?`,
		ownerID).Scan(&owner.OwnerID, &owner.Name, &designContext, &lastResult, &owner.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	owner.DesignContext = designContext.String
	if lastResult.Valid {
		owner.LastResult = json.RawMessage(lastResult.String)
	}
	return &owner, nil
}

// SaveOwnerResult stores the owner's latest applied design result.
func (s *SQLiteStore) SaveOwnerResult(ctx context.Context, ownerID string, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE owners SET last_result = ? WHERE owner_id = ?`,
		string(result), ownerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("owner %s: %w", ownerID, ErrNotFound)
	}
	return nil
}

// CreateConversation inserts a conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *domain.Conversation) error {
	messages, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, title, status, messages, last_result, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.OwnerID, conv.Title, conv.Status, string(messages),
		rawOrNil(conv.LastResult), conv.CreatedAt, conv.UpdatedAt)
	return err
}

// GetConversation retrieves a conversation by ID, or nil when absent.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	return s.queryOne(ctx,
		`SELECT id, owner_id, title, status, messages, last_result, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)
}

// GetActiveConversation retrieves the newest active conversation for an
// owner, or nil when there is none.
func (s *SQLiteStore) GetActiveConversation(ctx context.Context, ownerID string) (*domain.Conversation, error) {
	return s.queryOne(ctx,
		`SELECT id, owner_id, title, status, messages, last_result, created_at, updated_at
		 FROM conversations WHERE owner_id = ? AND status = 'active'
		 ORDER BY updated_at DESC LIMIT 1`, ownerID)
}

// ListConversations lists an owner's conversations, newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context, ownerID string) ([]domain.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, title, status, messages, last_result, created_at, updated_at
		 FROM conversations WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conv)
	}
	return conversations, rows.Err()
}

// AppendMessages replaces the message list (and optionally the cached
// last result) of a conversation and bumps its updated timestamp.
func (s *SQLiteStore) AppendMessages(ctx context.Context, id string, messages []domain.Message, lastResult json.RawMessage) error {
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET messages = ?, last_result = COALESCE(?, last_result), updated_at = ? WHERE id = ?`,
		string(messagesJSON), rawOrNil(lastResult), time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetConversationStatus updates a conversation's status.
func (s *SQLiteStore) SetConversationStatus(ctx context.Context, id string, status domain.ConversationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteConversation removes a conversation.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, args ...interface{}) (*domain.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func scanConversation(row rowScanner) (*domain.Conversation, error) {
	var conv domain.Conversation
	var messages string
	var lastResult sql.NullString
	err := row.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &conv.Status,
		&messages, &lastResult, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(messages), &conv.Messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal messages for %s: %w", conv.ID, err)
	}
	if lastResult.Valid {
		conv.LastResult = json.RawMessage(lastResult.String)
	}
	return &conv, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNil(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
