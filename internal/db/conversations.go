// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Conversation kinds. One row per kind.
const (
	ConversationCommander = "commander"
	ConversationWorker    = "worker_session"
)

// Conversation is the persisted identity of a long-lived AI conversation.
type Conversation struct {
	ConversationID        string
	Kind                  string
	CWD                   string
	Model                 string
	ClaudeSessionID       string
	LastOutboxEventIDSeen int64
	CreatedAt             string
	UpdatedAt             string
}

// LoadOrCreateConversation returns the singleton conversation for kind,
// creating it with the given cwd and model on first use.
func (d *DB) LoadOrCreateConversation(kind, cwd, model string) (Conversation, error) {
	now := d.timestamp()
	_, err := d.sql.Exec(`
		INSERT INTO conversations (conversation_id, kind, cwd, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind) DO NOTHING`,
		uuid.New().String(), kind, cwd, model, now, now)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	var c Conversation
	err = d.sql.QueryRow(`
		SELECT conversation_id, kind, cwd, model, claude_session_id,
		       last_outbox_event_id_seen, created_at, updated_at
		FROM conversations WHERE kind = ?`, kind).
		Scan(&c.ConversationID, &c.Kind, &c.CWD, &c.Model, &c.ClaudeSessionID,
			&c.LastOutboxEventIDSeen, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("load conversation: %w", err)
	}
	return c, nil
}

// SetConversationSessionID records the captured external session id.
func (d *DB) SetConversationSessionID(conversationID, sessionID string) error {
	_, err := d.sql.Exec(`
		UPDATE conversations SET claude_session_id = ?, updated_at = ?
		WHERE conversation_id = ?`,
		sessionID, d.timestamp(), conversationID)
	if err != nil {
		return fmt.Errorf("set conversation session id: %w", err)
	}
	return nil
}

// SetConversationCursor advances the outbox cursor. The cursor only moves
// forward.
func (d *DB) SetConversationCursor(conversationID string, cursor int64) error {
	res, err := d.sql.Exec(`
		UPDATE conversations
		SET last_outbox_event_id_seen = ?, updated_at = ?
		WHERE conversation_id = ? AND last_outbox_event_id_seen < ?`,
		cursor, d.timestamp(), conversationID, cursor)
	if err != nil {
		return fmt.Errorf("set conversation cursor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current int64
		err := d.sql.QueryRow(`
			SELECT last_outbox_event_id_seen FROM conversations WHERE conversation_id = ?`,
			conversationID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("conversation %s: not found", conversationID)
		}
		if err != nil {
			return fmt.Errorf("read conversation cursor: %w", err)
		}
		// A cursor at or behind the stored one is a no-op, not an error.
	}
	return nil
}

// ResetConversation clears the captured session id and cursor, starting
// the conversation over.
func (d *DB) ResetConversation(conversationID string) error {
	_, err := d.sql.Exec(`
		UPDATE conversations
		SET claude_session_id = '', last_outbox_event_id_seen = 0, updated_at = ?
		WHERE conversation_id = ?`,
		d.timestamp(), conversationID)
	if err != nil {
		return fmt.Errorf("reset conversation: %w", err)
	}
	return nil
}
