// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api serves the HTTP surface: session queries, briefing
// ingestion, event history, and health.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/olivier-motium/mimesis-sub002/internal/api/handlers"
	"github.com/olivier-motium/mimesis-sub002/internal/api/middleware"
	"github.com/olivier-motium/mimesis-sub002/internal/events"
)

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Sessions  handlers.SessionSource
	Deleter   handlers.SessionDeleter
	Briefings handlers.BriefingStore
	EventBus  events.EventBus
	Version   string
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	api := r.PathPrefix("/api/v1").Subrouter()

	sessionHandler := handlers.NewSessionHandler(deps.Sessions, deps.Deleter)
	api.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	api.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{id}", sessionHandler.Delete).Methods("DELETE")

	briefingHandler := handlers.NewBriefingHandler(deps.Briefings, deps.EventBus)
	api.HandleFunc("/briefings", briefingHandler.List).Methods("GET")
	api.HandleFunc("/briefings", briefingHandler.Ingest).Methods("POST")
	api.HandleFunc("/briefings/{id}", briefingHandler.Get).Methods("GET")

	eventHandler := handlers.NewEventHandler(deps.EventBus)
	api.HandleFunc("/events", eventHandler.History).Methods("GET")
	api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	healthHandler := handlers.NewHealthHandler(deps.Sessions, deps.Version)
	api.HandleFunc("/health", healthHandler.Health).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		handlers.WriteError(w, http.StatusNotFound, handlers.ErrNotFound, "not found: "+req.URL.Path)
	})

	return r
}
