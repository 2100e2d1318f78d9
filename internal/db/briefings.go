// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/olivier-motium/mimesis-sub002/internal/gitinfo"
	"github.com/olivier-motium/mimesis-sub002/internal/statusfile"
)

// Briefing is a persisted completion report.
type Briefing struct {
	BriefingID   string
	ProjectID    string
	SessionID    string
	TaskID       string
	Status       string
	StartedAt    string
	EndedAt      string
	ImpactLevel  string
	DocDriftRisk string
	BaseCommit   string
	HeadCommit   string
	Branch       string
	Blockers     []string
	NextSteps    []string
	DocsTouched  []string
	FilesTouched []string
	RawMarkdown  string
	CreatedAt    string
}

// IngestResult reports one ingestion attempt. A duplicate is still a
// success; it just created no new row and no outbox event.
type IngestResult struct {
	Success     bool
	IsDuplicate bool
	BriefingID  string
}

// OutboxTypeBriefing is the outbox event type written per new briefing.
const OutboxTypeBriefing = "briefing.ingested"

// projectIDFor derives a stable project id from the briefing's identity
// fields.
func projectIDFor(b *statusfile.Briefing) string {
	if b.ProjectID != "" {
		return b.ProjectID
	}
	if b.GitRemote != "" {
		return gitinfo.RepoIDFromURL(b.GitRemote)
	}
	if b.RepoName != "" {
		return b.RepoName
	}
	if b.RepoRoot != "" {
		return b.RepoRoot
	}
	return "unknown"
}

func marshalList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func unmarshalList(data string) []string {
	var items []string
	if json.Unmarshal([]byte(data), &items) != nil || len(items) == 0 {
		return nil
	}
	return items
}

// IngestBriefing upserts the project, inserts the briefing, and appends an
// outbox event, all in one transaction. The unique key
// (project_id, session_id, task_id, ended_at) makes ingestion idempotent:
// a duplicate inserts nothing and produces no outbox event.
func (d *DB) IngestBriefing(b *statusfile.Briefing, raw []byte) (IngestResult, error) {
	if b == nil {
		return IngestResult{}, fmt.Errorf("nil briefing")
	}
	projectID := projectIDFor(b)
	now := d.timestamp()

	tx, err := d.sql.Begin()
	if err != nil {
		return IngestResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO projects (project_id, repo_id, repo_name, repo_root, git_remote, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET updated_at = excluded.updated_at`,
		projectID, gitinfo.RepoIDFromURL(b.GitRemote), b.RepoName, b.RepoRoot, b.GitRemote, now, now)
	if err != nil {
		return IngestResult{}, fmt.Errorf("upsert project: %w", err)
	}

	briefingID := uuid.New().String()
	res, err := tx.Exec(`
		INSERT INTO briefings (
			briefing_id, project_id, session_id, task_id, status,
			started_at, ended_at, impact_level, doc_drift_risk,
			base_commit, head_commit, branch,
			blockers, next_steps, docs_touched, files_touched,
			raw_markdown, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, session_id, task_id, ended_at) DO NOTHING`,
		briefingID, projectID, b.SessionID, b.TaskID, b.Status,
		b.StartedAt, b.EndedAt, b.ImpactLevel, b.DocDriftRisk,
		b.BaseCommit, b.HeadCommit, b.Branch,
		marshalList(b.Blockers), marshalList(b.NextSteps),
		marshalList(b.DocsTouched), marshalList(b.FilesTouched),
		string(raw), now)
	if err != nil {
		return IngestResult{}, fmt.Errorf("insert briefing: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return IngestResult{}, fmt.Errorf("rows affected: %w", err)
	}

	if inserted == 0 {
		var existingID string
		err = tx.QueryRow(`
			SELECT briefing_id FROM briefings
			WHERE project_id = ? AND session_id = ? AND task_id = ? AND ended_at = ?`,
			projectID, b.SessionID, b.TaskID, b.EndedAt).Scan(&existingID)
		if err != nil {
			return IngestResult{}, fmt.Errorf("find duplicate: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return IngestResult{}, fmt.Errorf("commit: %w", err)
		}
		return IngestResult{Success: true, IsDuplicate: true, BriefingID: existingID}, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"briefingId": briefingID,
		"projectId":  projectID,
		"sessionId":  b.SessionID,
		"taskId":     b.TaskID,
		"status":     b.Status,
		"branch":     b.Branch,
		"endedAt":    b.EndedAt,
	})
	_, err = tx.Exec(`
		INSERT INTO outbox_events (ts, type, payload_json, project_id, briefing_id)
		VALUES (?, ?, ?, ?, ?)`,
		now, OutboxTypeBriefing, string(payload), projectID, briefingID)
	if err != nil {
		return IngestResult{}, fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return IngestResult{}, fmt.Errorf("commit: %w", err)
	}
	return IngestResult{Success: true, BriefingID: briefingID}, nil
}

// ListBriefings returns briefings, newest first, optionally filtered by
// project.
func (d *DB) ListBriefings(projectID string, limit int) ([]Briefing, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT briefing_id, project_id, session_id, task_id, status,
		       started_at, ended_at, impact_level, doc_drift_risk,
		       base_commit, head_commit, branch,
		       blockers, next_steps, docs_touched, files_touched,
		       raw_markdown, created_at
		FROM briefings`
	args := []interface{}{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC, briefing_id LIMIT ?`
	args = append(args, limit)

	rows, err := d.sql.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list briefings: %w", err)
	}
	defer rows.Close()

	var out []Briefing
	for rows.Next() {
		var b Briefing
		var blockers, nextSteps, docsTouched, filesTouched string
		err := rows.Scan(&b.BriefingID, &b.ProjectID, &b.SessionID, &b.TaskID, &b.Status,
			&b.StartedAt, &b.EndedAt, &b.ImpactLevel, &b.DocDriftRisk,
			&b.BaseCommit, &b.HeadCommit, &b.Branch,
			&blockers, &nextSteps, &docsTouched, &filesTouched,
			&b.RawMarkdown, &b.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan briefing: %w", err)
		}
		b.Blockers = unmarshalList(blockers)
		b.NextSteps = unmarshalList(nextSteps)
		b.DocsTouched = unmarshalList(docsTouched)
		b.FilesTouched = unmarshalList(filesTouched)
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBriefing fetches one briefing by id.
func (d *DB) GetBriefing(briefingID string) (Briefing, error) {
	var b Briefing
	var blockers, nextSteps, docsTouched, filesTouched string
	err := d.sql.QueryRow(`
		SELECT briefing_id, project_id, session_id, task_id, status,
		       started_at, ended_at, impact_level, doc_drift_risk,
		       base_commit, head_commit, branch,
		       blockers, next_steps, docs_touched, files_touched,
		       raw_markdown, created_at
		FROM briefings WHERE briefing_id = ?`, briefingID).
		Scan(&b.BriefingID, &b.ProjectID, &b.SessionID, &b.TaskID, &b.Status,
			&b.StartedAt, &b.EndedAt, &b.ImpactLevel, &b.DocDriftRisk,
			&b.BaseCommit, &b.HeadCommit, &b.Branch,
			&blockers, &nextSteps, &docsTouched, &filesTouched,
			&b.RawMarkdown, &b.CreatedAt)
	if err == sql.ErrNoRows {
		return Briefing{}, fmt.Errorf("briefing %s: not found", briefingID)
	}
	if err != nil {
		return Briefing{}, fmt.Errorf("get briefing: %w", err)
	}
	b.Blockers = unmarshalList(blockers)
	b.NextSteps = unmarshalList(nextSteps)
	b.DocsTouched = unmarshalList(docsTouched)
	b.FilesTouched = unmarshalList(filesTouched)
	return b, nil
}
