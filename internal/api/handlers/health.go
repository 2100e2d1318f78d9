// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"
)

// HealthHandler reports daemon liveness and basic counts.
type HealthHandler struct {
	sessions SessionSource
	version  string
	started  time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(sessions SessionSource, version string) *HealthHandler {
	return &HealthHandler{sessions: sessions, version: version, started: time.Now()}
}

// Health returns daemon status.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"version":  h.version,
		"uptime":   time.Since(h.started).Round(time.Second).String(),
		"sessions": len(h.sessions.Snapshot()),
	})
}
