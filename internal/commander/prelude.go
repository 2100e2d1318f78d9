// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package commander

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/olivier-motium/mimesis-sub002/internal/db"
)

// Prelude is the fleet context prepended to a supervisor prompt.
type Prelude struct {
	// SystemPrompt is the full orientation text, used on the first turn.
	SystemPrompt string
	// FleetDelta lists outbox events since the conversation's cursor.
	FleetDelta string
	// NewCursor is the highest event id covered by FleetDelta.
	NewCursor int64
}

// HasActivity reports whether the delta carries anything worth injecting.
func (p Prelude) HasActivity() bool {
	return strings.TrimSpace(p.FleetDelta) != ""
}

const systemPromptText = `You are the fleet commander for a set of local AI coding sessions.
The daemon watching them injects fleet activity summaries before your
prompts. Each entry lists a completed briefing or fleet event. Use them
for situational awareness; respond only to the operator's prompt.`

// BuildPrelude reads outbox events past the cursor and renders the
// supervisor's fleet context. The cursor in the result covers every
// rendered event.
func BuildPrelude(store Store, cursor int64, max int) (Prelude, error) {
	evs, err := store.OutboxAfter(cursor, max)
	if err != nil {
		return Prelude{}, fmt.Errorf("read outbox: %w", err)
	}

	p := Prelude{SystemPrompt: systemPromptText, NewCursor: cursor}
	if len(evs) == 0 {
		return p, nil
	}

	var sb strings.Builder
	sb.WriteString("Fleet activity since your last turn:\n")
	for _, e := range evs {
		sb.WriteString(formatOutboxEvent(e))
		sb.WriteString("\n")
	}
	p.FleetDelta = strings.TrimRight(sb.String(), "\n")
	p.NewCursor = evs[len(evs)-1].EventID
	return p, nil
}

// formatOutboxEvent renders one event as a single summary line.
func formatOutboxEvent(e db.OutboxEvent) string {
	switch e.Type {
	case db.OutboxTypeBriefing:
		var payload struct {
			ProjectID string `json:"projectId"`
			SessionID string `json:"sessionId"`
			TaskID    string `json:"taskId"`
			Status    string `json:"status"`
			Branch    string `json:"branch"`
		}
		if err := json.Unmarshal([]byte(e.PayloadJSON), &payload); err == nil {
			line := fmt.Sprintf("- [%s] briefing from %s (%s): %s", e.TS, payload.ProjectID, payload.SessionID, payload.Status)
			if payload.TaskID != "" {
				line += ", task " + payload.TaskID
			}
			if payload.Branch != "" {
				line += ", branch " + payload.Branch
			}
			return line
		}
	}
	return fmt.Sprintf("- [%s] %s: %s", e.TS, e.Type, e.PayloadJSON)
}
