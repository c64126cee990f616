// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigsync/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	title         TEXT NOT NULL DEFAULT '',
	model         TEXT NOT NULL DEFAULT '',
	system_prompt TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL DEFAULT 0,
	updated_at    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL DEFAULT '',
	blocks          TEXT,
	partial         INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
`

// ErrNotFound is returned when a conversation is not archived.
var ErrNotFound = errors.New("storage: not found")

// =============================================================================
// ARCHIVE
// =============================================================================

// Archive is a SQLite message archive. It is safe for concurrent use.
type Archive struct {
	db   *sql.DB
	path string
}

// DefaultPath returns ~/.rigsync/archive.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".rigsync", "archive.db")
	}
	return filepath.Join(home, ".rigsync", "archive.db")
}

// Open opens or creates the archive at path.
func Open(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Archive{db: db, path: path}, nil
}

// Path returns the database file path.
func (a *Archive) Path() string {
	return a.path
}

// Close releases the database.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// SaveConversation inserts or updates conversation metadata.
func (a *Archive) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	if conv == nil || conv.ID == "" {
		return errors.New("storage: conversation without id")
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, model, system_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			system_prompt = excluded.system_prompt,
			updated_at = excluded.updated_at`,
		conv.ID, conv.Title, conv.Model, conv.SystemPrompt,
		unixMilli(conv.CreatedAt), unixMilli(conv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Conversations lists archived conversations, most recently updated first.
func (a *Archive) Conversations(ctx context.Context) ([]*model.Conversation, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, title, model, system_prompt, created_at, updated_at
		FROM conversations ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		var c model.Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Title, &c.Model, &c.SystemPrompt, &created, &updated); err != nil {
			return nil, err
		}
		c.CreatedAt = fromUnixMilli(created)
		c.UpdatedAt = fromUnixMilli(updated)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and its messages. Deleting an
// unknown conversation is not an error.
func (a *Archive) DeleteConversation(ctx context.Context, id string) error {
	if _, err := a.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// MESSAGES
// =============================================================================

// ReplaceMessages makes msgs the archived log of conversation id. Pending
// messages are skipped; they have no server identity yet.
func (a *Archive) ReplaceMessages(ctx context.Context, id string, msgs []*model.Message) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (id) VALUES (?) ON CONFLICT(id) DO NOTHING", id); err != nil {
		return fmt.Errorf("failed to register conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, blocks, partial, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			role = excluded.role,
			content = excluded.content,
			blocks = excluded.blocks,
			partial = excluded.partial`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m == nil || m.IsPending() {
			continue
		}
		blocks, err := encodeBlocks(m.Blocks)
		if err != nil {
			return fmt.Errorf("failed to encode blocks of %s: %w", m.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			m.ID, id, string(m.Role), m.Content, blocks, m.Partial, unixMilli(m.CreatedAt)); err != nil {
			return fmt.Errorf("failed to save message %s: %w", m.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?", time.Now().UnixMilli(), id); err != nil {
		return err
	}
	return tx.Commit()
}

// Messages returns the archived log of conversation id in order. An
// unarchived conversation yields ErrNotFound.
func (a *Archive) Messages(ctx context.Context, id string) ([]*model.Message, error) {
	var exists int
	err := a.db.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id = ?", id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, role, content, blocks, partial, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	out := []*model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		m.ConversationID = id
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchHit is one message matching a query.
type SearchHit struct {
	ConversationID string
	Title          string
	Message        *model.Message
}

// Search finds messages whose text contains query, case-insensitively.
func (a *Archive) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := a.db.QueryContext(ctx, `
		SELECT m.conversation_id, c.title, m.id, m.role, m.content, m.blocks, m.partial, m.created_at
		FROM messages m JOIN conversations c ON c.id = m.conversation_id
		WHERE lower(m.content) LIKE ? ESCAPE '\' OR lower(COALESCE(m.blocks, '')) LIKE ? ESCAPE '\'
		ORDER BY m.seq DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search archive: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var hit SearchHit
		var m model.Message
		var role string
		var blocks sql.NullString
		var created int64
		if err := rows.Scan(&hit.ConversationID, &hit.Title, &m.ID, &role, &m.Content, &blocks, &m.Partial, &created); err != nil {
			return nil, err
		}
		if err := fillMessage(&m, role, blocks, created); err != nil {
			return nil, err
		}
		m.ConversationID = hit.ConversationID
		hit.Message = &m
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func scanMessage(rows *sql.Rows) (*model.Message, error) {
	var m model.Message
	var role string
	var blocks sql.NullString
	var created int64
	if err := rows.Scan(&m.ID, &role, &m.Content, &blocks, &m.Partial, &created); err != nil {
		return nil, err
	}
	if err := fillMessage(&m, role, blocks, created); err != nil {
		return nil, err
	}
	return &m, nil
}

func fillMessage(m *model.Message, role string, blocks sql.NullString, created int64) error {
	m.Role = model.Role(role)
	m.CreatedAt = fromUnixMilli(created)
	if blocks.Valid && blocks.String != "" {
		if err := json.Unmarshal([]byte(blocks.String), &m.Blocks); err != nil {
			return fmt.Errorf("failed to decode blocks of %s: %w", m.ID, err)
		}
	}
	return nil
}

func encodeBlocks(blocks []model.ContentBlock) (sql.NullString, error) {
	if len(blocks) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(blocks)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
