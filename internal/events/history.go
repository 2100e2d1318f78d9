// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"time"
)

// EventHistoryConfig bounds the retained window.
type EventHistoryConfig struct {
	MaxEvents int
	MaxAge    time.Duration
}

// EventHistory keeps a bounded, append-ordered window of recent events
// so late WebSocket subscribers can catch up.
type EventHistory struct {
	mu        sync.RWMutex
	events    []Event
	maxEvents int
	maxAge    time.Duration
}

// NewEventHistory creates a history window. Zero config fields fall back
// to 10000 events and one hour.
func NewEventHistory(cfg EventHistoryConfig) *EventHistory {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 10000
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	return &EventHistory{maxEvents: cfg.MaxEvents, maxAge: cfg.MaxAge}
}

// Add appends an event, evicting the oldest when over the count cap.
// Events arrive in publish order so the slice stays chronological.
func (h *EventHistory) Add(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events = append(h.events, event)
	if over := len(h.events) - h.maxEvents; over > 0 {
		h.events = append(h.events[:0], h.events[over:]...)
	}
}

// Query returns matching events oldest-first. A positive Limit keeps the
// newest N of the matches.
func (h *EventHistory) Query(filter EventFilter) ([]Event, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	matched := make([]Event, 0)
	for _, event := range h.events {
		if filterMatches(filter, event) {
			matched = append(matched, event)
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[len(matched)-filter.Limit:]
	}
	return matched, nil
}

func filterMatches(filter EventFilter, event Event) bool {
	if len(filter.Types) > 0 {
		any := false
		for _, pattern := range filter.Types {
			if MatchType(event.Type, pattern) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if filter.SessionID != "" && event.SessionID != filter.SessionID {
		return false
	}
	if !filter.Since.IsZero() && event.Timestamp.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && event.Timestamp.After(filter.Until) {
		return false
	}
	return true
}

// Prune drops events older than the age window.
func (h *EventHistory) Prune() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := time.Now().Add(-h.maxAge)
	keep := h.events[:0]
	for _, event := range h.events {
		if event.Timestamp.After(cutoff) {
			keep = append(keep, event)
		}
	}
	h.events = keep
	return nil
}

// Close drops the retained window.
func (h *EventHistory) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = nil
	return nil
}
