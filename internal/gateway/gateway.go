// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway serves the bidirectional WebSocket protocol: session
// snapshots and status updates, PTY attach/input/output streams, fleet
// events, and commander control.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/olivier-motium/mimesis-sub002/internal/db"
	"github.com/olivier-motium/mimesis-sub002/internal/events"
	"github.com/olivier-motium/mimesis-sub002/internal/ptybridge"
	"github.com/olivier-motium/mimesis-sub002/internal/ringbuf"
	"github.com/olivier-motium/mimesis-sub002/internal/store"
)

// Stable error codes surfaced to clients.
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeBadToken            = "BAD_TOKEN"
	ErrCodeBadState            = "BAD_STATE"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeCommanderBusy       = "COMMANDER_BUSY"
	ErrCodeCommanderSendFailed = "COMMANDER_SEND_FAILED"
	ErrCodeTimeout             = "TIMEOUT"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SessionSource is the store view the gateway reads.
type SessionSource interface {
	Snapshot() []store.TrackedSession
	Get(sessionID string) (store.TrackedSession, bool)
}

// PTYBridge is the bridge surface used per connection.
type PTYBridge interface {
	Attach(id, token string) error
	Detach(id string)
	Write(id string, data []byte) error
	Resize(id string, cols, rows uint16) error
	Signal(id, sig string) error
}

// CommanderControl is the supervisor surface exposed to clients.
type CommanderControl interface {
	SendPrompt(prompt string) (queued bool, position int, err error)
	Reset() error
	Cancel() error
	Status() string
}

// FleetSource reads outbox events for fleet subscribers.
type FleetSource interface {
	OutboxAfter(cursor int64, max int) ([]db.OutboxEvent, error)
}

// Gateway fans session, PTY, commander, and fleet traffic out to
// WebSocket clients.
type Gateway struct {
	sessions  SessionSource
	ptys      PTYBridge
	commander CommanderControl
	rings     *ringbuf.Manager
	fleet     FleetSource
	bus       events.EventBus

	mu     sync.Mutex
	conns  map[*client]struct{}
	subIDs []events.SubscriptionID
}

// New builds a gateway. commander and fleet may be nil; the related
// message types then answer BAD_STATE.
func New(sessions SessionSource, ptys PTYBridge, commander CommanderControl, rings *ringbuf.Manager, fleet FleetSource, bus events.EventBus) *Gateway {
	return &Gateway{
		sessions:  sessions,
		ptys:      ptys,
		commander: commander,
		rings:     rings,
		fleet:     fleet,
		bus:       bus,
		conns:     make(map[*client]struct{}),
	}
}

// Start subscribes the gateway to the daemon's event bus. Created and
// deleted sessions are lifecycle traffic; everything else session-tagged
// is session traffic.
func (g *Gateway) Start() error {
	subs := []struct {
		pattern string
		handler events.EventHandler
	}{
		{"session.*", g.onSessionEvent},
		{"commander.*", g.onCommanderEvent},
		{events.EventBriefingIngested, g.onFleetEvent},
	}
	for _, s := range subs {
		id, err := g.bus.SubscribeAsync(s.pattern, s.handler, 256)
		if err != nil {
			return err
		}
		g.mu.Lock()
		g.subIDs = append(g.subIDs, id)
		g.mu.Unlock()
	}
	return nil
}

// Shutdown unsubscribes and closes every connection.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	subIDs := g.subIDs
	g.subIDs = nil
	conns := make([]*client, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, id := range subIDs {
		g.bus.Unsubscribe(id)
	}
	for _, c := range conns {
		c.close()
	}
}

func (g *Gateway) onSessionEvent(_ context.Context, ev events.Event) error {
	category := CategorySession
	if ev.Type == events.EventSessionCreated || ev.Type == events.EventSessionDeleted {
		category = CategoryLifecycle
	}
	g.broadcast(category, ev.SessionID, map[string]interface{}{
		"type":      "session.status",
		"event":     ev.Type,
		"sessionId": ev.SessionID,
		"payload":   ev.Payload,
	})
	return nil
}

func (g *Gateway) onCommanderEvent(_ context.Context, ev events.Event) error {
	msg := map[string]interface{}{"type": ev.Type}
	for k, v := range ev.Payload {
		msg[k] = v
	}
	g.broadcast(CategoryCommander, "", msg)
	return nil
}

func (g *Gateway) onFleetEvent(_ context.Context, ev events.Event) error {
	g.broadcast(CategoryFleet, "", map[string]interface{}{
		"type":    "fleet.event",
		"event":   ev.Type,
		"payload": ev.Payload,
	})
	return nil
}

// broadcast delivers to every connection whose state admits the category.
func (g *Gateway) broadcast(category Category, sessionID string, msg interface{}) {
	g.mu.Lock()
	conns := make([]*client, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		if ShouldDeliver(c.snapshotState(), category, sessionID) {
			c.enqueue(msg)
		}
	}
}

// PTYOutput routes child output: push to the session's ring buffer, then
// deliver to connections attached to that PTY. Direct traffic, not
// subscription-routed.
func (g *Gateway) PTYOutput(sessionID, ptyID string, data []byte) {
	seq := g.rings.Push(sessionID, data)
	msg := ptyEventMsg(sessionID, seq, data)

	g.mu.Lock()
	conns := make([]*client, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		if c.isAttached(ptyID) {
			c.enqueue(msg)
		}
	}
}

// PTYExit notifies attached connections that the child died.
func (g *Gateway) PTYExit(ptyID string, code int, signal string) {
	g.mu.Lock()
	conns := make([]*client, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	msg := map[string]interface{}{
		"type":   "exit",
		"ptyId":  ptyID,
		"code":   code,
		"signal": signal,
	}
	for _, c := range conns {
		if c.detachPTY(ptyID) {
			c.enqueue(msg)
		}
	}
}

func ptyEventMsg(sessionID string, seq uint64, data []byte) map[string]interface{} {
	return map[string]interface{}{
		"type":      "event",
		"sessionId": sessionID,
		"seq":       seq,
		"data":      base64.StdEncoding.EncodeToString(data),
	}
}

// inboundMessage is the union of all client message shapes.
type inboundMessage struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId,omitempty"`
	Scope      string `json:"scope,omitempty"`
	FromCursor int64  `json:"fromCursor,omitempty"`
	Token      string `json:"token,omitempty"`
	FromSeq    uint64 `json:"fromSeq,omitempty"`
	Bytes      string `json:"bytes,omitempty"`
	Cols       int    `json:"cols,omitempty"`
	Rows       int    `json:"rows,omitempty"`
	Sig        string `json:"sig,omitempty"`
	Prompt     string `json:"prompt,omitempty"`
}

// HandleWS upgrades and runs one connection until it closes.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newClient(ws)
	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.mu.Unlock()
	go c.writeLoop()

	defer func() {
		g.mu.Lock()
		delete(g.conns, c)
		g.mu.Unlock()
		for _, ptyID := range c.attachedPTYList() {
			g.ptys.Detach(ptyID)
		}
		c.close()
	}()

	const pongWait = 60 * time.Second
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("gateway: read error: %v", err)
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.sendError(c, ErrCodeBadRequest, "malformed message")
			continue
		}
		g.dispatch(c, msg)
	}
}

func (g *Gateway) dispatch(c *client, msg inboundMessage) {
	switch msg.Type {
	case "ping":
		c.enqueue(map[string]interface{}{"type": "pong"})

	case "sessions.list":
		c.enqueue(map[string]interface{}{
			"type":     "sessions.snapshot",
			"sessions": g.sessions.Snapshot(),
		})

	case "subscribe":
		if msg.SessionID == "" {
			g.sendError(c, ErrCodeBadRequest, "sessionId required")
			return
		}
		c.subscribeSession(msg.SessionID)

	case "unsubscribe":
		c.unsubscribeSession(msg.SessionID)

	case "set_scope":
		scope := Scope(msg.Scope)
		if !ValidScope(scope) {
			g.sendError(c, ErrCodeBadRequest, "unknown scope")
			return
		}
		c.setScope(scope)

	case "fleet.subscribe":
		g.handleFleetSubscribe(c, msg.FromCursor)

	case "pty.attach":
		g.handlePTYAttach(c, msg)

	case "pty.input":
		g.handlePTYInput(c, msg)

	case "pty.resize":
		g.withAttachedPTY(c, msg.SessionID, func(ptyID string) error {
			if msg.Cols <= 0 || msg.Rows <= 0 {
				g.sendError(c, ErrCodeBadRequest, "cols and rows required")
				return nil
			}
			return g.ptys.Resize(ptyID, uint16(msg.Cols), uint16(msg.Rows))
		})

	case "pty.signal":
		g.withAttachedPTY(c, msg.SessionID, func(ptyID string) error {
			return g.ptys.Signal(ptyID, msg.Sig)
		})

	case "commander.send":
		g.handleCommanderSend(c, msg.Prompt)

	case "commander.reset":
		if g.commander == nil {
			g.sendError(c, ErrCodeBadState, "commander unavailable")
			return
		}
		if err := g.commander.Reset(); err != nil {
			g.sendError(c, ErrCodeBadState, err.Error())
		}

	case "commander.cancel":
		if g.commander == nil {
			g.sendError(c, ErrCodeBadState, "commander unavailable")
			return
		}
		if err := g.commander.Cancel(); err != nil {
			g.sendError(c, ErrCodeBadState, err.Error())
		}

	default:
		g.sendError(c, ErrCodeBadRequest, "unknown message type "+msg.Type)
	}
}

// handleFleetSubscribe replays outbox events past the cursor, then turns
// live fleet delivery on.
func (g *Gateway) handleFleetSubscribe(c *client, fromCursor int64) {
	if g.fleet == nil {
		g.sendError(c, ErrCodeBadState, "fleet unavailable")
		return
	}
	cursor := fromCursor
	for {
		batch, err := g.fleet.OutboxAfter(cursor, 50)
		if err != nil {
			g.sendError(c, ErrCodeBadState, err.Error())
			return
		}
		if len(batch) == 0 {
			break
		}
		for _, e := range batch {
			var payload interface{}
			if json.Unmarshal([]byte(e.PayloadJSON), &payload) != nil {
				payload = e.PayloadJSON
			}
			c.enqueue(map[string]interface{}{
				"type":    "fleet.event",
				"eventId": e.EventID,
				"ts":      e.TS,
				"event":   e.Type,
				"payload": payload,
			})
		}
		cursor = batch[len(batch)-1].EventID
	}
	c.subscribeFleet(cursor)
}

// handlePTYAttach validates the one-shot token, replays missed output
// from the ring buffer, and switches the connection to live streaming.
func (g *Gateway) handlePTYAttach(c *client, msg inboundMessage) {
	sess, ok := g.sessions.Get(msg.SessionID)
	if !ok || sess.PTYID == "" {
		g.sendError(c, ErrCodeNotFound, "no pty for session "+msg.SessionID)
		return
	}
	if err := g.ptys.Attach(sess.PTYID, msg.Token); err != nil {
		g.sendError(c, ptyErrCode(err), err.Error())
		return
	}
	c.attachPTY(sess.PTYID)

	for _, buffered := range g.rings.GetFrom(msg.SessionID, msg.FromSeq) {
		c.enqueue(ptyEventMsg(msg.SessionID, buffered.Seq, buffered.Payload))
	}
	c.enqueue(map[string]interface{}{
		"type":      "pty.attached",
		"sessionId": msg.SessionID,
		"ptyId":     sess.PTYID,
	})
}

func (g *Gateway) handlePTYInput(c *client, msg inboundMessage) {
	data, err := base64.StdEncoding.DecodeString(msg.Bytes)
	if err != nil {
		g.sendError(c, ErrCodeBadRequest, "bytes must be base64")
		return
	}
	g.withAttachedPTY(c, msg.SessionID, func(ptyID string) error {
		return g.ptys.Write(ptyID, data)
	})
}

// withAttachedPTY resolves the session's PTY, requires a prior attach on
// this connection, runs fn, and maps bridge errors to protocol errors.
func (g *Gateway) withAttachedPTY(c *client, sessionID string, fn func(ptyID string) error) {
	sess, ok := g.sessions.Get(sessionID)
	if !ok || sess.PTYID == "" {
		g.sendError(c, ErrCodeNotFound, "no pty for session "+sessionID)
		return
	}
	if !c.isAttached(sess.PTYID) {
		g.sendError(c, ErrCodeBadState, "not attached")
		return
	}
	if err := fn(sess.PTYID); err != nil {
		g.sendError(c, ptyErrCode(err), err.Error())
	}
}

func (g *Gateway) handleCommanderSend(c *client, prompt string) {
	if g.commander == nil {
		g.sendError(c, ErrCodeBadState, "commander unavailable")
		return
	}
	if prompt == "" {
		g.sendError(c, ErrCodeBadRequest, "prompt required")
		return
	}
	queued, position, err := g.commander.SendPrompt(prompt)
	if err != nil {
		g.sendError(c, ErrCodeCommanderSendFailed, err.Error())
		return
	}
	c.enqueue(map[string]interface{}{
		"type":     "commander.accepted",
		"queued":   queued,
		"position": position,
	})
}

func ptyErrCode(err error) string {
	switch {
	case errors.Is(err, ptybridge.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ptybridge.ErrBadToken):
		return ErrCodeBadToken
	case errors.Is(err, ptybridge.ErrDead):
		return ErrCodeBadState
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	}
	return ErrCodeBadRequest
}

func (g *Gateway) sendError(c *client, code, message string) {
	c.enqueue(map[string]interface{}{
		"type":    "error",
		"code":    code,
		"message": message,
	})
}
