// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/olivier-motium/mimesis-sub002/internal/store"
)

// SessionSource is the store view the handlers read.
type SessionSource interface {
	Snapshot() []store.TrackedSession
	Get(sessionID string) (store.TrackedSession, bool)
}

// SessionDeleter removes a session and its transcript.
type SessionDeleter interface {
	DeleteSession(sessionID string) error
}

// SessionHandler handles session-related API requests.
type SessionHandler struct {
	sessions SessionSource
	deleter  SessionDeleter
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions SessionSource, deleter SessionDeleter) *SessionHandler {
	return &SessionHandler{sessions: sessions, deleter: deleter}
}

// List returns all tracked sessions, newest first.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.sessions.Snapshot(),
	})
}

// Get returns one session by id.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := h.sessions.Get(id)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found: "+id)
		return
	}
	WriteJSON(w, http.StatusOK, sess)
}

// Delete removes a session and unlinks its transcript file.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.sessions.Get(id); !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "session not found: "+id)
		return
	}
	if err := h.deleter.DeleteSession(id); err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}
