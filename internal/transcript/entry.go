// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package transcript parses the append-only JSONL transcripts written by
// external AI coding sessions.
package transcript

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"
)

// Entry types as they appear in the transcript's type discriminator.
const (
	TypeUser      = "user"
	TypeAssistant = "assistant"
	TypeSystem    = "system"
	TypeOther     = "other"
)

// System subtypes that mark the end of an assistant turn.
const (
	SubtypeTurnDuration    = "turn_duration"
	SubtypeStopHookSummary = "stop_hook_summary"
)

// ContentBlock mirrors the content block types in assistant messages.
type ContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ID       string          `json:"id,omitempty"`
	Name     string          `json:"name,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
}

// ToolResult is a tool_result block inside a user entry.
type ToolResult struct {
	Type      string          `json:"type"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Entry is one parsed line of a session transcript. Unknown line types are
// preserved with Type set to "other" rather than rejected.
type Entry struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	UUID      string    `json:"uuid"`
	SessionID string    `json:"sessionId"`
	CWD       string    `json:"cwd"`
	GitBranch string    `json:"gitBranch,omitempty"`
	Subtype   string    `json:"subtype,omitempty"`

	// Message holds the role/content payload for user and assistant lines.
	Message json.RawMessage `json:"message,omitempty"`
}

// rawEntry is the wire form; timestamps arrive as ISO-8601 strings.
type rawEntry struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	UUID      string          `json:"uuid"`
	SessionID string          `json:"sessionId"`
	CWD       string          `json:"cwd"`
	GitBranch string          `json:"gitBranch,omitempty"`
	Subtype   string          `json:"subtype,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
}

// parseEntry decodes one JSONL line. Returns false for malformed JSON.
func parseEntry(line []byte) (Entry, bool) {
	var raw rawEntry
	if err := json.Unmarshal(line, &raw); err != nil {
		return Entry{}, false
	}

	e := Entry{
		Type:      raw.Type,
		UUID:      raw.UUID,
		SessionID: raw.SessionID,
		CWD:       raw.CWD,
		GitBranch: raw.GitBranch,
		Subtype:   raw.Subtype,
		Message:   raw.Message,
	}
	switch e.Type {
	case TypeUser, TypeAssistant, TypeSystem:
	default:
		e.Type = TypeOther
	}
	if raw.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw.Timestamp); err == nil {
			e.Timestamp = ts
		}
	}
	return e, true
}

// UserText returns the free-text content of a user entry. The second return
// is false for tool-result user entries and non-user entries.
func (e *Entry) UserText() (string, bool) {
	if e.Type != TypeUser || len(e.Message) == 0 {
		return "", false
	}
	var msg struct {
		Content json.RawMessage `json:"content"`
	}
	if json.Unmarshal(e.Message, &msg) != nil || len(msg.Content) == 0 {
		return "", false
	}
	var text string
	if json.Unmarshal(msg.Content, &text) == nil {
		return text, true
	}
	return "", false
}

// ToolResults returns the tool_result blocks of a user entry, if any.
func (e *Entry) ToolResults() []ToolResult {
	if e.Type != TypeUser || len(e.Message) == 0 {
		return nil
	}
	var msg struct {
		Content json.RawMessage `json:"content"`
	}
	if json.Unmarshal(e.Message, &msg) != nil || len(msg.Content) == 0 {
		return nil
	}
	var blocks []ToolResult
	if json.Unmarshal(msg.Content, &blocks) != nil {
		return nil
	}
	results := blocks[:0]
	for _, b := range blocks {
		if b.Type == "tool_result" && b.ToolUseID != "" {
			results = append(results, b)
		}
	}
	return results
}

// ContentBlocks returns the ordered content blocks of an assistant entry.
func (e *Entry) ContentBlocks() []ContentBlock {
	if e.Type != TypeAssistant || len(e.Message) == 0 {
		return nil
	}
	var msg struct {
		Content []ContentBlock `json:"content"`
	}
	if json.Unmarshal(e.Message, &msg) != nil {
		return nil
	}
	return msg.Content
}

// ToolUseIDs returns the ids of tool_use blocks in an assistant entry.
func (e *Entry) ToolUseIDs() []string {
	var ids []string
	for _, b := range e.ContentBlocks() {
		if b.Type == "tool_use" && b.ID != "" {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// IsTurnEnd reports whether a system entry marks the end of a turn.
func (e *Entry) IsTurnEnd() bool {
	return e.Type == TypeSystem &&
		(e.Subtype == SubtypeTurnDuration || e.Subtype == SubtypeStopHookSummary)
}

// SessionIDFromPath derives the session id from a transcript filename.
func SessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}

// IsAgentTranscript reports whether the file is a sub-agent transcript,
// which the watcher ignores entirely.
func IsAgentTranscript(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "agent-")
}
