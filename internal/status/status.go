// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package status derives a session's live status from its transcript
// entries. Derive is pure: the result depends only on the entries and the
// supplied clock value.
package status

import (
	"time"

	"github.com/olivier-motium/mimesis-sub002/internal/transcript"
)

// Detailed states of the machine.
type State string

const (
	StateWorking         State = "working"
	StateWaitingApproval State = "waiting_for_approval"
	StateWaitingInput    State = "waiting_for_input"
	StateIdle            State = "idle"
)

// UIStatus is the three-valued status shown to clients.
type UIStatus string

const (
	UIWorking UIStatus = "working"
	UIWaiting UIStatus = "waiting"
	UIIdle    UIStatus = "idle"
)

// Timer thresholds.
const (
	StaleTimeout    = 60 * time.Second
	IdleTimeout     = 10 * time.Minute
	ApprovalTimeout = 5 * time.Second
)

// Result is the derived status plus context for the UI.
type Result struct {
	Status            UIStatus
	State             State
	LastRole          string
	HasPendingToolUse bool
	PendingToolIDs    []string
	ApprovalCommitted bool
	LastActivityAt    time.Time
	MessageCount      int
}

// UI maps a detailed state to the client-facing status.
func (s State) UI() UIStatus {
	switch s {
	case StateWorking:
		return UIWorking
	case StateWaitingApproval, StateWaitingInput:
		return UIWaiting
	default:
		return UIIdle
	}
}

// Derive replays the entries through the state machine and applies the
// wall-clock timers against now.
func Derive(entries []transcript.Entry, now time.Time) Result {
	state := StateIdle
	pending := map[string]bool{}
	var pendingOrder []string
	var lastActivity time.Time
	var lastToolUse time.Time
	var lastRole string
	messages := 0

	for i := range entries {
		e := &entries[i]
		if e.Timestamp.After(lastActivity) {
			lastActivity = e.Timestamp
		}

		switch e.Type {
		case transcript.TypeUser:
			lastRole = "user"
			if results := e.ToolResults(); len(results) > 0 {
				messages++
				if state == StateWaitingApproval {
					for _, r := range results {
						delete(pending, r.ToolUseID)
					}
					if len(pending) == 0 {
						pendingOrder = nil
						state = StateWorking
					}
				}
			} else if _, ok := e.UserText(); ok {
				messages++
				state = StateWorking
				pending = map[string]bool{}
				pendingOrder = nil
			}

		case transcript.TypeAssistant:
			lastRole = "assistant"
			ids := e.ToolUseIDs()
			if len(ids) == 0 {
				// Text-only streaming keeps the current state.
				continue
			}
			messages++
			if state == StateWorking || state == StateWaitingApproval {
				for _, id := range ids {
					if !pending[id] {
						pending[id] = true
						pendingOrder = append(pendingOrder, id)
					}
				}
				state = StateWaitingApproval
				if e.Timestamp.After(lastToolUse) {
					lastToolUse = e.Timestamp
				}
			}

		case transcript.TypeSystem:
			if e.IsTurnEnd() && state == StateWorking {
				state = StateWaitingInput
			}
		}
	}

	// Prune ids already answered while waiting.
	if state == StateWaitingApproval {
		kept := pendingOrder[:0]
		for _, id := range pendingOrder {
			if pending[id] {
				kept = append(kept, id)
			}
		}
		pendingOrder = kept
	} else {
		pendingOrder = nil
	}

	if state == StateWorking && len(pending) == 0 && !lastActivity.IsZero() &&
		now.Sub(lastActivity) >= StaleTimeout {
		state = StateWaitingInput
	}
	if (state == StateWaitingInput || state == StateWaitingApproval) &&
		!lastActivity.IsZero() && now.Sub(lastActivity) >= IdleTimeout {
		state = StateIdle
		pendingOrder = nil
	}

	res := Result{
		Status:         state.UI(),
		State:          state,
		LastRole:       lastRole,
		LastActivityAt: lastActivity,
		MessageCount:   messages,
	}
	if state == StateWaitingApproval {
		res.HasPendingToolUse = true
		res.PendingToolIDs = append([]string(nil), pendingOrder...)
		res.ApprovalCommitted = !lastToolUse.IsZero() && now.Sub(lastToolUse) >= ApprovalTimeout
	}
	return res
}
