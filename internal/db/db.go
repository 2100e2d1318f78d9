// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package db persists briefings, the outbox, conversations, and terminal
// links in SQLite. All repositories are internally synchronized by the
// database; callers never see locks.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	project_id TEXT PRIMARY KEY,
	repo_id    TEXT,
	repo_name  TEXT,
	repo_root  TEXT,
	git_remote TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS briefings (
	briefing_id    TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL,
	session_id     TEXT NOT NULL DEFAULT '',
	task_id        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	started_at     TEXT NOT NULL DEFAULT '',
	ended_at       TEXT NOT NULL DEFAULT '',
	impact_level   TEXT NOT NULL DEFAULT '',
	doc_drift_risk TEXT NOT NULL DEFAULT '',
	base_commit    TEXT NOT NULL DEFAULT '',
	head_commit    TEXT NOT NULL DEFAULT '',
	branch         TEXT NOT NULL DEFAULT '',
	blockers       TEXT NOT NULL DEFAULT '[]',
	next_steps     TEXT NOT NULL DEFAULT '[]',
	docs_touched   TEXT NOT NULL DEFAULT '[]',
	files_touched  TEXT NOT NULL DEFAULT '[]',
	raw_markdown   TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	UNIQUE (project_id, session_id, task_id, ended_at),
	FOREIGN KEY (project_id) REFERENCES projects(project_id)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	event_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	ts           TEXT NOT NULL,
	type         TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	delivered    INTEGER NOT NULL DEFAULT 0,
	project_id   TEXT,
	briefing_id  TEXT
);

CREATE TABLE IF NOT EXISTS conversations (
	conversation_id           TEXT PRIMARY KEY,
	kind                      TEXT NOT NULL UNIQUE,
	cwd                       TEXT NOT NULL,
	model                     TEXT NOT NULL DEFAULT '',
	claude_session_id         TEXT NOT NULL DEFAULT '',
	last_outbox_event_id_seen INTEGER NOT NULL DEFAULT 0,
	created_at                TEXT NOT NULL,
	updated_at                TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS terminal_links (
	session_id         TEXT PRIMARY KEY,
	external_window_id TEXT NOT NULL,
	linked_at          TEXT NOT NULL,
	stale              INTEGER NOT NULL DEFAULT 0,
	repo_path          TEXT NOT NULL,
	created_via        TEXT NOT NULL DEFAULT ''
);
`

// DB wraps the SQLite handle.
type DB struct {
	sql *sql.DB
	now func() time.Time
}

// Open creates the database file if needed, applies pragmas, and runs the
// schema. The parent directory is created on demand.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{sql: conn, now: time.Now}, nil
}

// Close releases the handle.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) timestamp() string {
	return d.now().UTC().Format(time.RFC3339)
}
