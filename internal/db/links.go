// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"fmt"
)

// TerminalLink binds a session to the external terminal window hosting it.
type TerminalLink struct {
	SessionID        string
	ExternalWindowID string
	LinkedAt         string
	Stale            bool
	RepoPath         string
	CreatedVia       string
}

// UpsertTerminalLink creates or refreshes a link. Re-linking clears the
// stale flag.
func (d *DB) UpsertTerminalLink(l TerminalLink) error {
	linkedAt := l.LinkedAt
	if linkedAt == "" {
		linkedAt = d.timestamp()
	}
	_, err := d.sql.Exec(`
		INSERT INTO terminal_links (session_id, external_window_id, linked_at, stale, repo_path, created_via)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			external_window_id = excluded.external_window_id,
			linked_at = excluded.linked_at,
			stale = 0,
			repo_path = excluded.repo_path`,
		l.SessionID, l.ExternalWindowID, linkedAt, l.RepoPath, l.CreatedVia)
	if err != nil {
		return fmt.Errorf("upsert terminal link: %w", err)
	}
	return nil
}

// GetTerminalLink fetches the link for a session.
func (d *DB) GetTerminalLink(sessionID string) (TerminalLink, bool, error) {
	var l TerminalLink
	var stale int
	err := d.sql.QueryRow(`
		SELECT session_id, external_window_id, linked_at, stale, repo_path, created_via
		FROM terminal_links WHERE session_id = ?`, sessionID).
		Scan(&l.SessionID, &l.ExternalWindowID, &l.LinkedAt, &stale, &l.RepoPath, &l.CreatedVia)
	if err == sql.ErrNoRows {
		return TerminalLink{}, false, nil
	}
	if err != nil {
		return TerminalLink{}, false, fmt.Errorf("get terminal link: %w", err)
	}
	l.Stale = stale != 0
	return l, true, nil
}

// LinkedSessionForRepo returns the most recently linked non-stale session
// in a working directory.
func (d *DB) LinkedSessionForRepo(repoPath string) (string, bool) {
	var sessionID string
	err := d.sql.QueryRow(`
		SELECT session_id FROM terminal_links
		WHERE repo_path = ? AND stale = 0
		ORDER BY linked_at DESC LIMIT 1`, repoPath).Scan(&sessionID)
	if err != nil {
		return "", false
	}
	return sessionID, true
}

// MarkTerminalLinkStale flags a link without deleting the history.
func (d *DB) MarkTerminalLinkStale(sessionID string) error {
	_, err := d.sql.Exec(`UPDATE terminal_links SET stale = 1 WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("mark terminal link stale: %w", err)
	}
	return nil
}
