// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrBusClosed is returned when operating on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// ErrSubscriptionNotFound is returned when unsubscribing with an unknown id.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// MemoryBusConfig configures the in-process event bus.
type MemoryBusConfig struct {
	HistoryMaxEvents int
	HistoryMaxAge    time.Duration
}

// MemoryEventBus is the single in-process EventBus implementation. Sync
// subscribers run inline on the publisher's goroutine; async subscribers
// get a buffered channel drained by their own goroutine.
type MemoryEventBus struct {
	mu            sync.RWMutex
	subscriptions map[SubscriptionID]*subscription
	history       *EventHistory
	closed        atomic.Bool
	wg            sync.WaitGroup
	stopPruner    chan struct{}
}

type subscription struct {
	id      SubscriptionID
	pattern Pattern
	handler EventHandler
	ch      chan Event
	stop    chan struct{}
}

func (s *subscription) async() bool { return s.ch != nil }

// NewMemoryEventBus creates the bus and starts its history pruner.
func NewMemoryEventBus(cfg MemoryBusConfig) *MemoryEventBus {
	bus := &MemoryEventBus{
		subscriptions: make(map[SubscriptionID]*subscription),
		history: NewEventHistory(EventHistoryConfig{
			MaxEvents: cfg.HistoryMaxEvents,
			MaxAge:    cfg.HistoryMaxAge,
		}),
		stopPruner: make(chan struct{}),
	}

	interval := cfg.HistoryMaxAge / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}

	bus.wg.Add(1)
	go bus.prunerLoop(interval)

	return bus
}

func (bus *MemoryEventBus) prunerLoop(interval time.Duration) {
	defer bus.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-bus.stopPruner:
			return
		case <-ticker.C:
			bus.history.Prune()
		}
	}
}

// Publish records the event in history and delivers it to every matching
// subscriber. Async subscribers with a full buffer lose the event rather
// than block the publisher.
func (bus *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	if bus.closed.Load() {
		return ErrBusClosed
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Version == "" {
		event.Version = "1.0"
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	bus.history.Add(event)

	bus.mu.RLock()
	subs := make([]*subscription, 0, len(bus.subscriptions))
	for _, sub := range bus.subscriptions {
		if sub.pattern.Match(event.Type) {
			subs = append(subs, sub)
		}
	}
	bus.mu.RUnlock()

	for _, sub := range subs {
		if sub.async() {
			select {
			case sub.ch <- event:
			default:
				log.Printf("events: dropped %s, async subscriber buffer full", event.Type)
			}
			continue
		}
		runHandler(ctx, sub.handler, event)
	}

	return nil
}

// runHandler isolates subscriber panics from the publisher.
func runHandler(ctx context.Context, handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("events: handler panic for %s: %v", event.Type, r)
		}
	}()
	if err := handler(ctx, event); err != nil {
		log.Printf("events: handler error for %s: %v", event.Type, err)
	}
}

// Subscribe registers a synchronous handler for events matching pattern.
func (bus *MemoryEventBus) Subscribe(pattern string, handler EventHandler) (SubscriptionID, error) {
	return bus.add(pattern, handler, 0, false)
}

// SubscribeAsync registers a handler served from a buffered channel on its
// own goroutine. bufferSize defaults to 100.
func (bus *MemoryEventBus) SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error) {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return bus.add(pattern, handler, bufferSize, true)
}

func (bus *MemoryEventBus) add(pattern string, handler EventHandler, bufferSize int, async bool) (SubscriptionID, error) {
	if bus.closed.Load() {
		return "", ErrBusClosed
	}

	compiled, err := CompilePattern(pattern)
	if err != nil {
		return "", fmt.Errorf("subscribe %q: %w", pattern, err)
	}

	sub := &subscription{
		id:      SubscriptionID(uuid.NewString()),
		pattern: compiled,
		handler: handler,
	}
	if async {
		sub.ch = make(chan Event, bufferSize)
		sub.stop = make(chan struct{})
	}

	bus.mu.Lock()
	bus.subscriptions[sub.id] = sub
	bus.mu.Unlock()

	if async {
		bus.wg.Add(1)
		go bus.drainLoop(sub)
	}

	return sub.id, nil
}

func (bus *MemoryEventBus) drainLoop(sub *subscription) {
	defer bus.wg.Done()
	for {
		select {
		case <-sub.stop:
			return
		case event := <-sub.ch:
			runHandler(context.Background(), sub.handler, event)
		}
	}
}

// Unsubscribe removes a subscription and stops its drain goroutine.
func (bus *MemoryEventBus) Unsubscribe(id SubscriptionID) error {
	bus.mu.Lock()
	sub, ok := bus.subscriptions[id]
	if ok {
		delete(bus.subscriptions, id)
	}
	bus.mu.Unlock()

	if !ok {
		return ErrSubscriptionNotFound
	}
	if sub.async() {
		close(sub.stop)
	}
	return nil
}

// History retrieves past events matching filter.
func (bus *MemoryEventBus) History(filter EventFilter) ([]Event, error) {
	return bus.history.Query(filter)
}

// Close stops the pruner and every async drain goroutine, then drops the
// history. Idempotent.
func (bus *MemoryEventBus) Close() error {
	if bus.closed.Swap(true) {
		return nil
	}

	close(bus.stopPruner)

	bus.mu.Lock()
	for _, sub := range bus.subscriptions {
		if sub.async() {
			close(sub.stop)
		}
	}
	bus.subscriptions = make(map[SubscriptionID]*subscription)
	bus.mu.Unlock()

	bus.wg.Wait()
	return bus.history.Close()
}
