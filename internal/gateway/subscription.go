// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

// Scope is a connection-level routing intent.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeSession  Scope = "session"
	ScopeObserver Scope = "observer"
)

// ValidScope reports whether s is one of the three scopes.
func ValidScope(s Scope) bool {
	return s == ScopeGlobal || s == ScopeSession || s == ScopeObserver
}

// Category classifies an outbound message for routing.
type Category string

const (
	CategoryLifecycle Category = "lifecycle"
	CategorySession   Category = "session"
	CategoryCommander Category = "commander"
	CategoryFleet     Category = "fleet"
	// CategoryDirect messages route only by explicit target, never by
	// subscription state.
	CategoryDirect Category = "direct"
)

// ConnState is the per-connection subscription state.
type ConnState struct {
	Scope           Scope
	SessionSubs     map[string]struct{}
	FleetSubscribed bool
	FleetCursor     int64
}

// NewConnState returns the registration default: global scope, no session
// subscriptions, fleet off.
func NewConnState() ConnState {
	return ConnState{Scope: ScopeGlobal, SessionSubs: make(map[string]struct{})}
}

// ShouldDeliver decides whether a message of the given category, tagged
// with sessionID for session-category messages, reaches a connection in
// state st.
func ShouldDeliver(st ConnState, category Category, sessionID string) bool {
	switch category {
	case CategoryLifecycle:
		return true
	case CategorySession:
		switch st.Scope {
		case ScopeGlobal:
			return true
		case ScopeSession:
			_, ok := st.SessionSubs[sessionID]
			return ok
		default:
			return false
		}
	case CategoryCommander:
		return st.Scope == ScopeGlobal || st.Scope == ScopeSession
	case CategoryFleet:
		return st.FleetSubscribed
	}
	return false
}
