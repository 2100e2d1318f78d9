// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olivier-motium/mimesis-sub002/internal/transcript"
)

var t0 = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

func entry(t *testing.T, typ string, ts time.Time, message string) transcript.Entry {
	t.Helper()
	line := fmt.Sprintf(`{"type":%q,"timestamp":%q,"uuid":"u","sessionId":"s","cwd":"/p"`,
		typ, ts.Format(time.RFC3339))
	if message != "" {
		line += `,"message":` + message
	}
	line += `}`
	path := filepath.Join(t.TempDir(), "s.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(line+"\n"), 0644))
	entries, _, err := transcript.Tail(path, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	return entries[0]
}

func userPrompt(t *testing.T, ts time.Time, text string) transcript.Entry {
	return entry(t, "user", ts, fmt.Sprintf(`{"role":"user","content":%q}`, text))
}

func assistantText(t *testing.T, ts time.Time) transcript.Entry {
	return entry(t, "assistant", ts, `{"role":"assistant","content":[{"type":"text","text":"working on it"}]}`)
}

func assistantToolUse(t *testing.T, ts time.Time, ids ...string) transcript.Entry {
	blocks := ""
	for i, id := range ids {
		if i > 0 {
			blocks += ","
		}
		blocks += fmt.Sprintf(`{"type":"tool_use","id":%q,"name":"Bash","input":{}}`, id)
	}
	return entry(t, "assistant", ts, `{"role":"assistant","content":[`+blocks+`]}`)
}

func toolResult(t *testing.T, ts time.Time, ids ...string) transcript.Entry {
	blocks := ""
	for i, id := range ids {
		if i > 0 {
			blocks += ","
		}
		blocks += fmt.Sprintf(`{"type":"tool_result","tool_use_id":%q,"content":"ok"}`, id)
	}
	return entry(t, "user", ts, `{"role":"user","content":[`+blocks+`]}`)
}

func turnEnd(t *testing.T, ts time.Time) transcript.Entry {
	e := entry(t, "system", ts, "")
	e.Subtype = transcript.SubtypeTurnDuration
	return e
}

func TestDeriveEmpty(t *testing.T) {
	res := Derive(nil, t0)
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, UIIdle, res.Status)
	assert.Zero(t, res.MessageCount)
}

func TestDeriveWorking(t *testing.T) {
	entries := []transcript.Entry{
		userPrompt(t, t0, "do the thing"),
		assistantText(t, t0.Add(2*time.Second)),
	}
	res := Derive(entries, t0.Add(5*time.Second))
	assert.Equal(t, StateWorking, res.State)
	assert.Equal(t, UIWorking, res.Status)
	assert.Equal(t, "assistant", res.LastRole)
	assert.Equal(t, 1, res.MessageCount)
}

// Two-timer decay: working becomes waiting_for_input after the stale
// timeout, then idle after the idle timeout.
func TestDeriveTimerDecay(t *testing.T) {
	entries := []transcript.Entry{
		userPrompt(t, t0, "do the thing"),
		assistantText(t, t0),
	}

	res := Derive(entries, t0.Add(90*time.Second))
	assert.Equal(t, StateWaitingInput, res.State)
	assert.Equal(t, UIWaiting, res.Status)

	res = Derive(entries, t0.Add(11*time.Minute))
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, UIIdle, res.Status)
}

func TestDeriveToolPairing(t *testing.T) {
	entries := []transcript.Entry{
		userPrompt(t, t0, "go"),
		assistantToolUse(t, t0, "x", "y"),
		toolResult(t, t0, "x"),
	}
	res := Derive(entries, t0)
	assert.Equal(t, StateWaitingApproval, res.State)
	assert.True(t, res.HasPendingToolUse)
	assert.Equal(t, []string{"y"}, res.PendingToolIDs)

	entries = append(entries, toolResult(t, t0, "y"))
	res = Derive(entries, t0)
	assert.Equal(t, StateWorking, res.State)
	assert.False(t, res.HasPendingToolUse)
	assert.Empty(t, res.PendingToolIDs)
}

func TestDeriveTurnEnd(t *testing.T) {
	entries := []transcript.Entry{
		userPrompt(t, t0, "go"),
		assistantText(t, t0.Add(time.Second)),
		turnEnd(t, t0.Add(2*time.Second)),
	}
	res := Derive(entries, t0.Add(3*time.Second))
	assert.Equal(t, StateWaitingInput, res.State)
	assert.Equal(t, UIWaiting, res.Status)
}

func TestDerivePendingToolUseBlocksStaleTimer(t *testing.T) {
	entries := []transcript.Entry{
		userPrompt(t, t0, "go"),
		assistantToolUse(t, t0, "x"),
	}
	res := Derive(entries, t0.Add(5*time.Minute))
	assert.Equal(t, StateWaitingApproval, res.State)
	assert.True(t, res.ApprovalCommitted)

	// Past the idle timeout even approval decays.
	res = Derive(entries, t0.Add(11*time.Minute))
	assert.Equal(t, StateIdle, res.State)
}

func TestDeriveApprovalNotYetCommitted(t *testing.T) {
	entries := []transcript.Entry{
		userPrompt(t, t0, "go"),
		assistantToolUse(t, t0, "x"),
	}
	res := Derive(entries, t0.Add(2*time.Second))
	assert.Equal(t, StateWaitingApproval, res.State)
	assert.False(t, res.ApprovalCommitted)
}

func TestDeriveIsPure(t *testing.T) {
	entries := []transcript.Entry{
		userPrompt(t, t0, "go"),
		assistantToolUse(t, t0, "x"),
		toolResult(t, t0, "x"),
	}
	now := t0.Add(30 * time.Second)
	a := Derive(entries, now)
	b := Derive(entries, now)
	assert.Equal(t, a, b)
}

func TestDeriveUserPromptWakesIdle(t *testing.T) {
	entries := []transcript.Entry{
		userPrompt(t, t0, "first"),
		turnEnd(t, t0.Add(time.Second)),
		userPrompt(t, t0.Add(20*time.Minute), "second"),
	}
	res := Derive(entries, t0.Add(20*time.Minute+time.Second))
	assert.Equal(t, StateWorking, res.State)
	assert.Equal(t, 2, res.MessageCount)
	assert.Equal(t, t0.Add(20*time.Minute), res.LastActivityAt)
}
