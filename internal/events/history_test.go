// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryMaxEvents(t *testing.T) {
	h := NewEventHistory(EventHistoryConfig{MaxEvents: 3, MaxAge: time.Hour})
	defer h.Close()

	now := time.Now()
	for i := 0; i < 5; i++ {
		h.Add(Event{ID: string(rune('a' + i)), Type: EventSessionUpdated, Timestamp: now.Add(time.Duration(i) * time.Second)})
	}

	got, err := h.Query(EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "e", got[2].ID)
}

func TestHistoryQueryFilters(t *testing.T) {
	h := NewEventHistory(EventHistoryConfig{MaxEvents: 100, MaxAge: time.Hour})
	defer h.Close()

	now := time.Now()
	h.Add(Event{ID: "1", Type: EventSessionCreated, SessionID: "a", Timestamp: now.Add(-30 * time.Minute)})
	h.Add(Event{ID: "2", Type: EventSessionUpdated, SessionID: "a", Timestamp: now.Add(-10 * time.Minute)})
	h.Add(Event{ID: "3", Type: EventSessionUpdated, SessionID: "b", Timestamp: now.Add(-5 * time.Minute)})
	h.Add(Event{ID: "4", Type: EventCommanderState, Timestamp: now})

	got, err := h.Query(EventFilter{Types: []string{"session.*"}, SessionID: "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)

	got, err = h.Query(EventFilter{Since: now.Add(-15 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, got, 3)

	got, err = h.Query(EventFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "4", got[0].ID)
}

func TestHistoryPrune(t *testing.T) {
	h := NewEventHistory(EventHistoryConfig{MaxEvents: 100, MaxAge: 10 * time.Minute})
	defer h.Close()

	now := time.Now()
	h.Add(Event{ID: "old", Type: EventSessionCreated, Timestamp: now.Add(-time.Hour)})
	h.Add(Event{ID: "new", Type: EventSessionCreated, Timestamp: now})

	require.NoError(t, h.Prune())

	got, err := h.Query(EventFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}
