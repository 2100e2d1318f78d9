// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"sync"
)

// sendQueueCap bounds the per-connection outbound queue. Overflow drops
// the oldest message and flags the connection for a backpressure warning.
const sendQueueCap = 256

// wsWriter is the minimal write surface of a WebSocket connection.
type wsWriter interface {
	WriteJSON(v interface{}) error
	Close() error
}

// client is one gateway connection: subscription state plus a bounded
// outbound queue drained by a single writer goroutine.
type client struct {
	ws wsWriter

	mu           sync.Mutex
	state        ConnState
	queue        []interface{}
	dropped      int
	attachedPTYs map[string]struct{}
	closed       bool
	wake         chan struct{}
	done         chan struct{}
}

func newClient(ws wsWriter) *client {
	return &client{
		ws:           ws,
		state:        NewConnState(),
		attachedPTYs: make(map[string]struct{}),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// enqueue appends an outbound message, dropping the oldest on overflow.
// Never blocks the caller.
func (c *client) enqueue(msg interface{}) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if len(c.queue) >= sendQueueCap {
		c.queue = c.queue[1:]
		c.dropped++
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// writeLoop drains the queue to the socket. A pending backpressure
// warning is delivered before the next regular message.
func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if c.dropped > 0 {
				c.dropped = 0
				c.mu.Unlock()
				if err := c.ws.WriteJSON(map[string]interface{}{
					"type":   "warning",
					"reason": "backpressure",
				}); err != nil {
					return
				}
				continue
			}
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

// close stops the writer and marks the connection dead. Idempotent.
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	c.ws.Close()
}

// snapshotState returns a copy of the subscription state for routing
// decisions.
func (c *client) snapshotState() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state
	subs := make(map[string]struct{}, len(c.state.SessionSubs))
	for k := range c.state.SessionSubs {
		subs[k] = struct{}{}
	}
	st.SessionSubs = subs
	return st
}

func (c *client) setScope(s Scope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Scope = s
}

func (c *client) subscribeSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SessionSubs[sessionID] = struct{}{}
}

func (c *client) unsubscribeSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state.SessionSubs, sessionID)
}

func (c *client) subscribeFleet(fromCursor int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.FleetSubscribed = true
	c.state.FleetCursor = fromCursor
}

func (c *client) attachPTY(ptyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachedPTYs[ptyID] = struct{}{}
}

func (c *client) detachPTY(ptyID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.attachedPTYs[ptyID]; !ok {
		return false
	}
	delete(c.attachedPTYs, ptyID)
	return true
}

func (c *client) attachedPTYList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.attachedPTYs))
	for id := range c.attachedPTYs {
		out = append(out, id)
	}
	return out
}

func (c *client) isAttached(ptyID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.attachedPTYs[ptyID]
	return ok
}
