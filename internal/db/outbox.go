// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"fmt"
	"time"
)

// OutboxEvent is one row of the transactional outbox. EventID is the
// authoritative global cursor.
type OutboxEvent struct {
	EventID     int64
	TS          string
	Type        string
	PayloadJSON string
	Delivered   bool
	ProjectID   string
	BriefingID  string
}

// OutboxAfter returns undelivered-or-not events with event_id > cursor, in
// id order, bounded to max.
func (d *DB) OutboxAfter(cursor int64, max int) ([]OutboxEvent, error) {
	if max <= 0 {
		max = 50
	}
	rows, err := d.sql.Query(`
		SELECT event_id, ts, type, payload_json, delivered,
		       COALESCE(project_id, ''), COALESCE(briefing_id, '')
		FROM outbox_events
		WHERE event_id > ?
		ORDER BY event_id
		LIMIT ?`, cursor, max)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		var delivered int
		if err := rows.Scan(&e.EventID, &e.TS, &e.Type, &e.PayloadJSON, &delivered,
			&e.ProjectID, &e.BriefingID); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		e.Delivered = delivered != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// AppendOutboxEvent inserts a standalone event and returns its id.
func (d *DB) AppendOutboxEvent(eventType, payloadJSON, projectID, briefingID string) (int64, error) {
	res, err := d.sql.Exec(`
		INSERT INTO outbox_events (ts, type, payload_json, project_id, briefing_id)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
		d.timestamp(), eventType, payloadJSON, projectID, briefingID)
	if err != nil {
		return 0, fmt.Errorf("append outbox event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("outbox event id: %w", err)
	}
	return id, nil
}

// MarkOutboxDelivered flags events up to and including cursor as
// delivered. Delivered is only set after durable consumption.
func (d *DB) MarkOutboxDelivered(cursor int64) error {
	_, err := d.sql.Exec(`UPDATE outbox_events SET delivered = 1 WHERE event_id <= ?`, cursor)
	if err != nil {
		return fmt.Errorf("mark outbox delivered: %w", err)
	}
	return nil
}

// PruneOutbox deletes delivered events older than the cutoff. Undelivered
// events are retained indefinitely.
func (d *DB) PruneOutbox(olderThan time.Duration) (int64, error) {
	cutoff := d.now().Add(-olderThan).UTC().Format(time.RFC3339)
	res, err := d.sql.Exec(`
		DELETE FROM outbox_events WHERE delivered = 1 AND ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune outbox: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// LatestOutboxID returns the newest event id, 0 when the outbox is empty.
func (d *DB) LatestOutboxID() (int64, error) {
	var id int64
	err := d.sql.QueryRow(`SELECT COALESCE(MAX(event_id), 0) FROM outbox_events`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("latest outbox id: %w", err)
	}
	return id, nil
}
