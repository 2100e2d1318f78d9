// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	bus := NewMemoryEventBus(MemoryBusConfig{HistoryMaxEvents: 100, HistoryMaxAge: time.Hour})
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestPublishFillsDefaults(t *testing.T) {
	bus := newTestBus(t)

	var got Event
	_, err := bus.Subscribe(EventSessionCreated, func(ctx context.Context, e Event) error {
		got = e
		return nil
	})
	require.NoError(t, err)

	err = bus.Publish(context.Background(), Event{Type: EventSessionCreated, SessionID: "sess-1"})
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, "sess-1", got.SessionID)
}

func TestSubscribePatternRouting(t *testing.T) {
	bus := newTestBus(t)

	var sessionEvents, allEvents []string
	bus.Subscribe("session.*", func(ctx context.Context, e Event) error {
		sessionEvents = append(sessionEvents, e.Type)
		return nil
	})
	bus.Subscribe("*", func(ctx context.Context, e Event) error {
		allEvents = append(allEvents, e.Type)
		return nil
	})

	ctx := context.Background()
	bus.Publish(ctx, Event{Type: EventSessionCreated})
	bus.Publish(ctx, Event{Type: EventCommanderState})
	bus.Publish(ctx, Event{Type: EventSessionDeleted})

	assert.Equal(t, []string{EventSessionCreated, EventSessionDeleted}, sessionEvents)
	assert.Equal(t, []string{EventSessionCreated, EventCommanderState, EventSessionDeleted}, allEvents)
}

func TestHandlerPanicDoesNotStopOthers(t *testing.T) {
	bus := newTestBus(t)

	called := false
	bus.Subscribe(EventStoreRemoved, func(ctx context.Context, e Event) error {
		panic("handler blew up")
	})
	bus.Subscribe(EventStoreRemoved, func(ctx context.Context, e Event) error {
		called = true
		return nil
	})

	err := bus.Publish(context.Background(), Event{Type: EventStoreRemoved})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestSubscribeAsync(t *testing.T) {
	bus := newTestBus(t)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	_, err := bus.SubscribeAsync("commander.*", func(ctx context.Context, e Event) error {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
		if e.Type == EventCommanderState {
			close(done)
		}
		return nil
	}, 10)
	require.NoError(t, err)

	ctx := context.Background()
	bus.Publish(ctx, Event{Type: EventCommanderQueued})
	bus.Publish(ctx, Event{Type: EventCommanderState})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handler did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{EventCommanderQueued, EventCommanderState}, got)
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus(t)

	count := 0
	id, err := bus.Subscribe(EventSessionUpdated, func(ctx context.Context, e Event) error {
		count++
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	bus.Publish(ctx, Event{Type: EventSessionUpdated})
	require.NoError(t, bus.Unsubscribe(id))
	bus.Publish(ctx, Event{Type: EventSessionUpdated})

	assert.Equal(t, 1, count)
	assert.ErrorIs(t, bus.Unsubscribe(id), ErrSubscriptionNotFound)
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewMemoryEventBus(MemoryBusConfig{})
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), Event{Type: EventSessionCreated})
	assert.ErrorIs(t, err, ErrBusClosed)

	_, err = bus.Subscribe("*", func(ctx context.Context, e Event) error { return nil })
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestHistoryThroughBus(t *testing.T) {
	bus := newTestBus(t)

	ctx := context.Background()
	bus.Publish(ctx, Event{Type: EventSessionCreated, SessionID: "a"})
	bus.Publish(ctx, Event{Type: EventSessionCreated, SessionID: "b"})
	bus.Publish(ctx, Event{Type: EventStoreRemoved, SessionID: "a"})

	got, err := bus.History(EventFilter{SessionID: "a"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, EventSessionCreated, got[0].Type)
	assert.Equal(t, EventStoreRemoved, got[1].Type)
}
