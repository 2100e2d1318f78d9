// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ringbuf keeps a size-bounded replay log per session so
// reconnecting clients can catch up on missed events.
package ringbuf

import (
	"sync"
)

// DefaultCapBytes bounds each session's buffer.
const DefaultCapBytes = 20 * 1024 * 1024

// BufferedEvent is one replayable event. Seq is strictly monotonic per
// session and never reused, even after eviction or Clear.
type BufferedEvent struct {
	Seq       uint64
	Payload   []byte
	SizeBytes int
}

// Stats describes a session's buffer.
type Stats struct {
	OldestSeq  uint64
	NewestSeq  uint64
	TotalBytes int
	Count      int
}

type ring struct {
	events     []BufferedEvent
	nextSeq    uint64
	totalBytes int
}

// Manager owns one ring per session.
type Manager struct {
	mu       sync.Mutex
	rings    map[string]*ring
	capBytes int
}

// NewManager creates a manager with the given per-session byte cap.
// capBytes <= 0 selects DefaultCapBytes.
func NewManager(capBytes int) *Manager {
	if capBytes <= 0 {
		capBytes = DefaultCapBytes
	}
	return &Manager{
		rings:    make(map[string]*ring),
		capBytes: capBytes,
	}
}

// Push appends an event to the session's ring, evicting oldest entries
// until the total size fits the cap, and returns the assigned sequence
// number.
func (m *Manager) Push(sessionID string, payload []byte) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rings[sessionID]
	if r == nil {
		r = &ring{}
		m.rings[sessionID] = r
	}

	r.nextSeq++
	ev := BufferedEvent{Seq: r.nextSeq, Payload: payload, SizeBytes: len(payload)}

	r.totalBytes += ev.SizeBytes
	r.events = append(r.events, ev)
	for len(r.events) > 0 && r.totalBytes > m.capBytes {
		r.totalBytes -= r.events[0].SizeBytes
		r.events = r.events[1:]
	}
	return ev.Seq
}

// GetFrom returns the session's buffered events with seq > cursor, in
// order. A nil result means nothing newer is buffered.
func (m *Manager) GetFrom(sessionID string, cursor uint64) []BufferedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rings[sessionID]
	if r == nil {
		return nil
	}
	// Events are ordered by seq.
	start := 0
	for start < len(r.events) && r.events[start].Seq <= cursor {
		start++
	}
	if start == len(r.events) {
		return nil
	}
	out := make([]BufferedEvent, len(r.events)-start)
	copy(out, r.events[start:])
	return out
}

// Stats reports the session's buffer state. Zero value for unknown ids.
func (m *Manager) Stats(sessionID string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rings[sessionID]
	if r == nil {
		return Stats{}
	}
	s := Stats{
		NewestSeq:  r.nextSeq,
		TotalBytes: r.totalBytes,
		Count:      len(r.events),
	}
	if len(r.events) > 0 {
		s.OldestSeq = r.events[0].Seq
	}
	return s
}

// Clear drops the session's buffered events but keeps its sequence counter.
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r := m.rings[sessionID]; r != nil {
		r.events = nil
		r.totalBytes = 0
	}
}

// Drop removes the session's ring entirely.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rings, sessionID)
}
