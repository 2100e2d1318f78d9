// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/olivier-motium/mimesis-sub002/internal/db"
	"github.com/olivier-motium/mimesis-sub002/internal/events"
	"github.com/olivier-motium/mimesis-sub002/internal/statusfile"
)

// maxBriefingBytes bounds a POSTed briefing document.
const maxBriefingBytes = 1 << 20

// BriefingStore is the database surface the briefing handlers use.
type BriefingStore interface {
	IngestBriefing(b *statusfile.Briefing, raw []byte) (db.IngestResult, error)
	ListBriefings(projectID string, limit int) ([]db.Briefing, error)
	GetBriefing(briefingID string) (db.Briefing, error)
}

// BriefingHandler handles briefing ingestion and queries.
type BriefingHandler struct {
	store BriefingStore
	bus   events.EventBus
}

// NewBriefingHandler creates a new briefing handler.
func NewBriefingHandler(store BriefingStore, bus events.EventBus) *BriefingHandler {
	return &BriefingHandler{store: store, bus: bus}
}

// List returns briefings, optionally filtered by project.
func (h *BriefingHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 0
	if limitStr := query.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	briefings, err := h.store.ListBriefings(query.Get("project_id"), limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"briefings": briefings,
	})
}

// Get returns one briefing by id.
func (h *BriefingHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.GetBriefing(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, http.StatusNotFound, ErrNotFound, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, b)
}

// Ingest accepts a raw status.v5 briefing document. Ingestion is
// idempotent; a duplicate reports success without a new row.
func (h *BriefingHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBriefingBytes))
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "read body: "+err.Error())
		return
	}

	briefing := statusfile.ParseBriefing(raw)
	if briefing == nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "not a valid status.v5 briefing")
		return
	}

	result, err := h.store.IngestBriefing(briefing, raw)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, ErrInternalError, err.Error())
		return
	}

	if !result.IsDuplicate && h.bus != nil {
		h.bus.Publish(context.Background(), events.Event{
			Type:      events.EventBriefingIngested,
			SessionID: briefing.SessionID,
			Payload: map[string]interface{}{
				"briefingId": result.BriefingID,
				"status":     briefing.Status,
			},
		})
	}

	status := http.StatusCreated
	if result.IsDuplicate {
		status = http.StatusOK
	}
	WriteJSON(w, status, map[string]interface{}{
		"briefingId": result.BriefingID,
		"duplicate":  result.IsDuplicate,
	})
}
