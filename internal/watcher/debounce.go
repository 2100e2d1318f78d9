// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"sync"
	"time"
)

const defaultDebounceDuration = 200 * time.Millisecond

// Debouncer coalesces bursts of calls per key and serializes execution:
// at most one callback runs per key at a time. Triggers that arrive while
// a callback is running re-arm the timer after it completes instead of
// starting a second run, so a slow callback never overlaps itself.
type Debouncer struct {
	mu       sync.Mutex
	duration time.Duration
	keys     map[string]*debounceState
}

type debounceState struct {
	timer   *time.Timer
	fn      func()
	running bool
	rearm   bool
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(duration time.Duration) *Debouncer {
	if duration <= 0 {
		duration = defaultDebounceDuration
	}
	return &Debouncer{
		duration: duration,
		keys:     make(map[string]*debounceState),
	}
}

// Debounce schedules fn to run after the window elapses. Calling again
// with the same key before then resets the timer and replaces fn; calling
// while fn is running queues exactly one follow-up run.
func (d *Debouncer) Debounce(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.keys[key]
	if !ok {
		st = &debounceState{}
		d.keys[key] = st
	}
	st.fn = fn
	if st.running {
		st.rearm = true
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(d.duration, func() { d.fire(key) })
}

// fire runs the callback for key and re-arms afterward if triggers
// arrived during the run.
func (d *Debouncer) fire(key string) {
	d.mu.Lock()
	st, ok := d.keys[key]
	if !ok || st.running {
		d.mu.Unlock()
		return
	}
	st.running = true
	st.timer = nil
	fn := st.fn
	d.mu.Unlock()

	fn()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keys[key] != st {
		// Canceled (and possibly rescheduled) during the run.
		return
	}
	st.running = false
	if st.rearm {
		st.rearm = false
		st.timer = time.AfterFunc(d.duration, func() { d.fire(key) })
		return
	}
	delete(d.keys, key)
}

// Cancel drops any pending or queued callback for the key. A callback
// already running finishes but will not re-arm.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if st, ok := d.keys[key]; ok {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(d.keys, key)
	}
}

// Stop cancels all pending callbacks.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, st := range d.keys {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(d.keys, key)
	}
}
